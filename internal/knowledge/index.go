// Package knowledge is the long-term store of credible intelligence. Items
// from completed tasks are indexed here and served back through the
// timeline_query capability.
package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blevesearch/bleve"
	_ "github.com/blevesearch/bleve/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/mapping"
	"github.com/blevesearch/bleve/search/query"
	"github.com/mohammad-safakhou/sentinel/internal/capability"
)

// Index wraps a bleve index of items.
type Index struct {
	idx bleve.Index
	now func() time.Time
}

// Query selects items from the index. Zero times leave the range open.
type Query struct {
	Text      string
	Platforms []string
	Since     time.Time
	Until     time.Time
	Limit     int
}

// Hit is an indexed item with its stored credibility.
type Hit struct {
	Item        capability.Item
	Credibility float64
	Score       float64
}

func buildMapping() mapping.IndexMapping {
	text := bleve.NewTextFieldMapping()
	exact := bleve.NewTextFieldMapping()
	exact.Analyzer = "keyword"
	date := bleve.NewDateTimeFieldMapping()
	num := bleve.NewNumericFieldMapping()
	flag := bleve.NewBooleanFieldMapping()
	raw := bleve.NewTextFieldMapping()
	raw.Index = false
	raw.Store = true
	raw.IncludeInAll = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("title", text)
	doc.AddFieldMappingsAt("content", text)
	doc.AddFieldMappingsAt("keywords", text)
	doc.AddFieldMappingsAt("platform", exact)
	doc.AddFieldMappingsAt("published_at", date)
	doc.AddFieldMappingsAt("indexed_at", date)
	doc.AddFieldMappingsAt("has_time", flag)
	doc.AddFieldMappingsAt("credibility", num)
	doc.AddFieldMappingsAt("raw", raw)

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	return im
}

// Open opens the index at path, creating it if absent. An empty path keeps
// the index in memory.
func Open(path string) (*Index, error) {
	if path == "" {
		idx, err := bleve.NewMemOnly(buildMapping())
		if err != nil {
			return nil, err
		}
		return &Index{idx: idx, now: time.Now}, nil
	}
	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(path, buildMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("open knowledge index %s: %w", path, err)
	}
	return &Index{idx: idx, now: time.Now}, nil
}

// Close releases the index.
func (x *Index) Close() error { return x.idx.Close() }

// Count returns the number of indexed items.
func (x *Index) Count() (uint64, error) { return x.idx.DocCount() }

// Index stores items with their credibility. Re-indexing an item replaces it.
func (x *Index) Index(ctx context.Context, items []capability.Item, scores map[string]float64) error {
	if len(items) == 0 {
		return nil
	}
	batch := x.idx.NewBatch()
	now := x.now().UTC()
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := json.Marshal(it)
		if err != nil {
			return err
		}
		doc := map[string]interface{}{
			"title":       it.Title,
			"content":     it.Content,
			"keywords":    strings.Join(it.Keywords, " "),
			"platform":    strings.ToLower(it.Platform),
			"indexed_at":  now,
			"has_time":    it.PublishedAt != nil,
			"credibility": scores[it.Key()],
			"raw":         string(raw),
		}
		if it.PublishedAt != nil {
			doc["published_at"] = it.PublishedAt.UTC()
		}
		if err := batch.Index(it.Key(), doc); err != nil {
			return err
		}
	}
	return x.idx.Batch(batch)
}

// Search returns matching items, newest first.
func (x *Index) Search(ctx context.Context, q Query) ([]Hit, error) {
	var must []query.Query
	if strings.TrimSpace(q.Text) != "" {
		must = append(must, bleve.NewMatchQuery(q.Text))
	}
	if len(q.Platforms) > 0 {
		var anyOf []query.Query
		for _, p := range q.Platforms {
			tq := bleve.NewTermQuery(strings.ToLower(p))
			tq.SetField("platform")
			anyOf = append(anyOf, tq)
		}
		must = append(must, bleve.NewDisjunctionQuery(anyOf...))
	}
	if !q.Since.IsZero() || !q.Until.IsZero() {
		dr := bleve.NewDateRangeQuery(q.Since, q.Until)
		dr.SetField("published_at")
		undated := bleve.NewBoolFieldQuery(false)
		undated.SetField("has_time")
		must = append(must, bleve.NewDisjunctionQuery(dr, undated))
	}
	var root query.Query = bleve.NewMatchAllQuery()
	if len(must) > 0 {
		root = bleve.NewConjunctionQuery(must...)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	req := bleve.NewSearchRequestOptions(root, limit, 0, false)
	req.Fields = []string{"raw", "credibility"}
	req.SortBy([]string{"-published_at", "-_score"})
	res, err := x.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("knowledge search: %w", err)
	}
	out := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		raw, _ := h.Fields["raw"].(string)
		var it capability.Item
		if err := json.Unmarshal([]byte(raw), &it); err != nil {
			continue
		}
		cred, _ := h.Fields["credibility"].(float64)
		out = append(out, Hit{Item: it, Credibility: cred, Score: h.Score})
	}
	return out, nil
}
