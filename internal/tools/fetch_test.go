package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammad-safakhou/sentinel/internal/capability"
	"github.com/mohammad-safakhou/sentinel/internal/knowledge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const article = `<html><head><title>Factory fire halts output</title></head><body>
<article><h1>Factory fire halts output</h1><p class="byline">By Jane Roe</p>
<p>` + "A fire at the main plant halted production for two days, according to the company. " + `</p>
<p>` + "Repairs are expected to finish next week and shipments will resume shortly after that. " + `</p>
<p>` + "Analysts said the disruption would have a limited effect on quarterly deliveries overall. " + `</p>
</article></body></html>`

func TestFetchDetailExtractsArticle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(article))
	}))
	defer srv.Close()

	f := NewFetchDetail(HTTPFetcher{Client: NewHTTPClient(time.Second, nil)}, 0, quiet)
	out, err := f.Execute(context.Background(), capability.Arguments{"urls": []string{srv.URL + "/a", "::bad"}})
	require.NoError(t, err)
	require.Len(t, out.Items, 1)
	it := out.Items[0]
	assert.Equal(t, "web", it.Platform)
	assert.Contains(t, it.Content, "halted production")
	assert.Equal(t, itemID(srv.URL+"/a"), it.ID)
}

func TestFetchDetailFailsWhenAllFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()
	f := NewFetchDetail(HTTPFetcher{Client: NewHTTPClient(time.Second, nil)}, 0, quiet)
	_, err := f.Execute(context.Background(), capability.Arguments{"urls": []string{srv.URL}})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 403, se.Code)
}

type denyHost string

func (d denyHost) Permits(raw string) bool { return !strings.Contains(raw, string(d)) }

func TestFetchDetailSkipsDisallowed(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(article))
	}))
	defer srv.Close()

	f := NewFetchDetail(HTTPFetcher{Client: NewHTTPClient(time.Second, nil)}, 0, quiet).WithPolicy(denyHost("blocked.example"))
	out, err := f.Execute(context.Background(), capability.Arguments{"urls": []string{"https://blocked.example/x", srv.URL + "/a"}})
	require.NoError(t, err)
	require.Len(t, out.Items, 1)
	assert.Equal(t, int32(1), hits.Load())

	out, err = f.Execute(context.Background(), capability.Arguments{"urls": []string{"https://blocked.example/y"}})
	require.NoError(t, err)
	assert.Empty(t, out.Items)
}

func TestPlatformForHost(t *testing.T) {
	assert.Equal(t, "zhihu", PlatformForHost("www.zhihu.com"))
	assert.Equal(t, "wechat", PlatformForHost("mp.weixin.qq.com"))
	assert.Equal(t, "web", PlatformForHost("example.org"))
	f := NewFetchDetail(HTTPFetcher{}, 0, quiet)
	assert.Equal(t, "fetch:zhihu", f.ResourceClass(capability.Arguments{"urls": []string{"https://zhuanlan.zhihu.com/p/1"}}))
}

func TestSentimentLexicon(t *testing.T) {
	s := NewSentiment(nil)
	out, err := s.Execute(context.Background(), capability.Arguments{
		"keys":  []string{"a", "b", "c"},
		"texts": []string{"record growth and strong sales", "recall lawsuit after crash", ""},
	})
	require.NoError(t, err)
	var labels []Label
	require.NoError(t, json.Unmarshal(out.Data, &labels))
	require.Len(t, labels, 3)
	assert.Equal(t, "positive", labels[0].Polarity)
	assert.Equal(t, "negative", labels[1].Polarity)
	assert.Equal(t, "neutral", labels[2].Polarity)

	_, err = s.Execute(context.Background(), capability.Arguments{"keys": []string{"a"}, "texts": []string{}})
	assert.Error(t, err)
}

func TestTimelineQueryServesIndexedItems(t *testing.T) {
	idx, err := knowledge.Open("")
	require.NoError(t, err)
	defer idx.Close()
	published := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, idx.Index(context.Background(), []capability.Item{
		{Source: "news", ID: "1", Platform: "news", Title: "Acme expands", Content: "acme opens plant", PublishedAt: &published},
	}, map[string]float64{"news:1": 0.8}))

	out, err := NewTimelineQuery(idx).Execute(context.Background(), capability.Arguments{"query": "acme"})
	require.NoError(t, err)
	require.Len(t, out.Items, 1)
	assert.Equal(t, 0.8, out.Items[0].Metadata["stored_credibility"])
	assert.True(t, strings.HasPrefix(out.Items[0].Key(), "news:"))
}
