package ipc

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// MaxLineSize bounds a single line read by [Scanner].
const MaxLineSize = 1 << 20

const (
	transcriptPrefix = "Transcript:"
	summaryStart     = "=== SUMMARY ==="
	summaryEnd       = "================"
)

// Scanner reads events from a pipeline's output. Lines that are neither
// NDJSON events nor legacy markers are reported as raw text so the caller
// can log them.
type Scanner struct {
	sc  *bufio.Scanner
	ev  Event
	raw string

	inSummary bool
	summary   []string
}

// NewScanner returns a Scanner reading from r.
func NewScanner(r io.Reader) *Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	return &Scanner{sc: sc}
}

// Scan advances to the next event or raw line. It returns false at the end
// of input or on a read error; see [Scanner.Err].
func (s *Scanner) Scan() bool {
	for s.sc.Scan() {
		line := strings.TrimRight(s.sc.Text(), "\r")
		if s.parse(line) {
			return true
		}
	}
	if s.inSummary && len(s.summary) > 0 {
		// Output ended inside a summary block; keep what arrived.
		s.set(Event{Type: TypeSummary, Text: strings.Join(s.summary, "\n")}, "")
		s.inSummary, s.summary = false, nil
		return true
	}
	return false
}

// parse handles one line and reports whether it completed an event or a raw
// line.
func (s *Scanner) parse(line string) bool {
	trimmed := strings.TrimSpace(line)

	if s.inSummary {
		if trimmed == summaryEnd {
			text := strings.TrimSpace(strings.Join(s.summary, "\n"))
			s.inSummary, s.summary = false, nil
			if text == "" {
				return false
			}
			s.set(Event{Type: TypeSummary, Text: text}, "")
			return true
		}
		s.summary = append(s.summary, line)
		return false
	}

	switch {
	case trimmed == "":
		return false
	case trimmed == summaryStart:
		s.inSummary = true
		return false
	case strings.HasPrefix(trimmed, transcriptPrefix):
		text := strings.TrimSpace(strings.TrimPrefix(trimmed, transcriptPrefix))
		if text == "" {
			return false
		}
		s.set(Event{Type: TypeTranscript, Text: text}, "")
		return true
	case strings.HasPrefix(trimmed, "{"):
		var ev Event
		if err := json.Unmarshal([]byte(trimmed), &ev); err == nil && ev.Valid() {
			s.set(ev, "")
			return true
		}
	}
	s.set(Event{}, line)
	return true
}

func (s *Scanner) set(ev Event, raw string) {
	s.ev, s.raw = ev, raw
}

// Event returns the event read by the last call to Scan. ok is false when
// the last line was raw text.
func (s *Scanner) Event() (ev Event, ok bool) {
	return s.ev, s.ev.Type != ""
}

// Raw returns the unparsed line read by the last call to Scan, or "" when
// that call produced an event.
func (s *Scanner) Raw() string { return s.raw }

// Err returns the first non-EOF read error.
func (s *Scanner) Err() error { return s.sc.Err() }
