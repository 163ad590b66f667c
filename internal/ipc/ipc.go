// Package ipc defines the line protocol a pipeline child process uses to
// report transcripts, summaries and status changes to its supervisor.
//
// Each event is one JSON object per line (NDJSON) on the child's stdout. The
// [Scanner] also accepts the older human-readable markers
//
//	Transcript: <text>
//	=== SUMMARY ===
//	<summary lines>
//	================
//
// so that a plain-text pipeline can be supervised as well.
package ipc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// EventType identifies the kind of an [Event].
type EventType string

const (
	// TypeTranscript carries one transcript fragment.
	TypeTranscript EventType = "transcript"

	// TypeSummary carries a new latest summary.
	TypeSummary EventType = "summary"

	// TypeStatus carries a status line for the user ("Transcription started.").
	TypeStatus EventType = "status"

	// TypeError carries a fatal pipeline error.
	TypeError EventType = "error"
)

// Event is one message from the pipeline to its supervisor.
type Event struct {
	Type EventType `json:"type"`
	Text string    `json:"text"`
	Time time.Time `json:"time,omitzero"`
}

// Valid reports whether e has a known type.
func (e Event) Valid() bool {
	switch e.Type {
	case TypeTranscript, TypeSummary, TypeStatus, TypeError:
		return true
	}
	return false
}

// Encoder writes events as NDJSON. It is safe for concurrent use.
type Encoder struct {
	mu  sync.Mutex
	enc *json.Encoder
	now func() time.Time
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Encoder{enc: enc, now: time.Now}
}

// Emit writes one event. A zero Time is filled in with the current time.
func (e *Encoder) Emit(ev Event) error {
	if !ev.Valid() {
		return fmt.Errorf("ipc: emit: unknown event type %q", ev.Type)
	}
	if ev.Time.IsZero() {
		ev.Time = e.now()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(ev); err != nil {
		return fmt.Errorf("ipc: emit: %w", err)
	}
	return nil
}

// StatusWriter returns a writer that reports every line written to it as a
// status event. A line without its newline is held until the newline arrives.
func (e *Encoder) StatusWriter() io.Writer {
	return &statusWriter{enc: e}
}

type statusWriter struct {
	enc *Encoder
	mu  sync.Mutex
	buf []byte
}

func (w *statusWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			return len(p), nil
		}
		line := strings.TrimSpace(string(w.buf[:i]))
		w.buf = w.buf[i+1:]
		if line == "" {
			continue
		}
		if err := w.enc.Emit(Event{Type: TypeStatus, Text: line}); err != nil {
			return 0, err
		}
	}
}
