package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

// Recorder keeps the JSON events written to it.
type Recorder struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write implements io.Writer.
func (r *Recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}

// Events decodes every recorded event in write order. Lines that are not
// JSON objects are skipped.
func (r *Recorder) Events() []map[string]any {
	r.mu.Lock()
	data := append([]byte(nil), r.buf.Bytes()...)
	r.mu.Unlock()

	var events []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var event map[string]any
		if json.Unmarshal(scanner.Bytes(), &event) == nil {
			events = append(events, event)
		}
	}
	return events
}

// Find returns the first event with message msg.
func (r *Recorder) Find(msg string) (map[string]any, bool) {
	for _, event := range r.Events() {
		if event[zerolog.MessageFieldName] == msg {
			return event, true
		}
	}
	return nil, false
}

// Capture routes the default logger, at trace level, into a Recorder until
// the test ends.
func Capture(t testing.TB) *Recorder {
	t.Helper()

	rec := &Recorder{}
	previous := *Default()
	previousLevel := zerolog.GlobalLevel()

	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	SetDefault(zerolog.New(rec).Level(zerolog.TraceLevel).With().Timestamp().Logger())

	t.Cleanup(func() {
		SetDefault(previous)
		zerolog.SetGlobalLevel(previousLevel)
	})
	return rec
}
