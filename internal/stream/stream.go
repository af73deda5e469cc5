// Package stream implements the Streaming Adapter: incremental SSE
// decode of the upstream's generateContent/streamGenerateContent
// payloads into filtered text chunks, in both collect (buffered) and
// live (as-arriving) delivery modes.
package stream

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/lattice-run/cloudcode-gateway/internal/prepare"
)

const doneSentinel = "[DONE]"

// Event is one decoded upstream SSE event: its filtered text plus the
// raw decoded body, for callers that need usage metadata or finish
// reason alongside the text.
type Event struct {
	Text string
	Body map[string]interface{}
}

// decodeLine parses a single SSE "data:" line into an Event. It
// returns ok=false for non-data lines, the [DONE] sentinel, or
// malformed JSON — all silently skipped.
func decodeLine(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "data:") {
		return Event{}, false
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if payload == "" || payload == doneSentinel {
		return Event{}, false
	}

	var body map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &body); err != nil {
		return Event{}, false
	}

	parts := prepare.ExtractAllParts(body)
	return Event{Text: prepare.ExtractText(parts), Body: body}, true
}

// Collect decodes every SSE event in a buffered body and returns their
// concatenated, filtered text.
func Collect(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var b strings.Builder
	for scanner.Scan() {
		ev, ok := decodeLine(scanner.Text())
		if !ok {
			continue
		}
		b.WriteString(ev.Text)
	}
	if err := scanner.Err(); err != nil {
		return b.String(), err
	}
	return b.String(), nil
}

// Live decodes the SSE body incrementally, sending one Event per
// parsed line on the returned channel, closing it when the reader is
// exhausted. errc carries at most one terminal read error.
func Live(r io.Reader) (<-chan Event, <-chan error) {
	events := make(chan Event)
	errc := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errc)

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			ev, ok := decodeLine(scanner.Text())
			if !ok {
				continue
			}
			events <- ev
		}
		if err := scanner.Err(); err != nil {
			errc <- err
		}
	}()

	return events, errc
}

// DecodeNonStreaming extracts filtered text from a single buffered
// JSON response body (the generateContent, non-SSE, shape).
func DecodeNonStreaming(data []byte) (string, error) {
	var body map[string]interface{}
	if err := json.Unmarshal(data, &body); err != nil {
		return "", err
	}
	parts := prepare.ExtractParts(body)
	return prepare.ExtractText(parts), nil
}
