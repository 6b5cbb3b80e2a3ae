package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Writer emits client events as NDJSON, flushing after every line so
// tokens reach the client as they are produced.
type Writer struct {
	enc     *json.Encoder
	flusher http.Flusher
}

// NewWriter wraps w. When w implements http.Flusher each event is flushed
// immediately; otherwise events are written without explicit flushing.
func NewWriter(w io.Writer) *Writer {
	sw := &Writer{enc: json.NewEncoder(w)}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	return sw
}

// Write encodes one event followed by a newline.
func (w *Writer) Write(ev ClientEvent) error {
	if err := w.enc.Encode(ev); err != nil {
		return fmt.Errorf("failed to encode stream event: %w", err)
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}
