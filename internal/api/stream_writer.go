package api

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

// SSEStreamWriter emits named server-sent events: one "token" event per
// generated token, then "done" or "error".
type SSEStreamWriter struct {
	w       io.Writer
	flusher func()
	begun   bool
}

func NewSSEStreamWriter(c *echo.Context) (*SSEStreamWriter, error) {
	res := c.Response()
	flusher, ok := res.(interface{ Flush() })
	if !ok {
		return nil, fmt.Errorf("streaming unsupported")
	}
	return &SSEStreamWriter{w: res, flusher: flusher.Flush}, nil
}

// Begin writes the event-stream headers. It is deferred until the first
// event so errors before generation starts can still be sent as JSON.
func (s *SSEStreamWriter) Begin(c *echo.Context) {
	if s.begun {
		return
	}
	s.begun = true
	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
}

func (s *SSEStreamWriter) Started() bool {
	return s.begun
}

func (s *SSEStreamWriter) Token(ev TokenEvent) error {
	return s.send("token", ev)
}

func (s *SSEStreamWriter) Done(resp GenerateResponse) error {
	return s.send("done", resp)
}

func (s *SSEStreamWriter) Failed(body ErrorBody) error {
	return s.send("error", map[string]any{"error": body})
}

func (s *SSEStreamWriter) send(event string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, b); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher()
	}
	return nil
}
