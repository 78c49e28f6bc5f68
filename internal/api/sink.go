package api

import (
	"io"

	"github.com/gin-gonic/gin"
)

// streamSink writes fragments as a raw chunked text/event-stream body. The
// status line and headers are committed with the first fragment, so a
// failure before that can still be answered with a JSON error.
type streamSink struct {
	w       gin.ResponseWriter
	started bool
}

func newStreamSink(w gin.ResponseWriter) *streamSink {
	return &streamSink{w: w}
}

func (s *streamSink) start() {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(200)
	s.w.WriteHeaderNow()
	s.started = true
}

func (s *streamSink) Write(fragment string) error {
	if !s.started {
		s.start()
	}
	if _, err := io.WriteString(s.w, fragment); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}

func (s *streamSink) Close() error {
	if !s.started {
		s.start()
	}
	s.w.Flush()
	return nil
}
