package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/sentinel/internal/agent/core"
)

// openStream commits SSE headers. It fails when the writer cannot flush.
func openStream(c echo.Context) (http.Flusher, error) {
	resp := c.Response()
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.Header().Set("X-Accel-Buffering", "no")
	resp.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, nil
}

// writeEvent frames ev as `event: <type>` with the JSON event as data. The
// step sequence number doubles as the SSE id so clients can detect gaps.
func writeEvent(c echo.Context, flusher http.Flusher, ev core.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	w := c.Response()
	if ev.Step != nil {
		if _, err := fmt.Fprintf(w, "id: %d\n", ev.Step.Seq); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// pump copies events to the client until the terminal event, the channel
// closing, or the client going away. Comments keep idle proxies open.
func pump(c echo.Context, flusher http.Flusher, events <-chan core.Event, heartbeat time.Duration) error {
	ctx := c.Request().Context()
	var tick <-chan time.Time
	if heartbeat > 0 {
		t := time.NewTicker(heartbeat)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			if _, err := fmt.Fprint(c.Response(), ": keep-alive\n\n"); err != nil {
				return nil
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := writeEvent(c, flusher, ev); err != nil {
				return nil
			}
			if ev.Terminal() {
				return nil
			}
		}
	}
}
