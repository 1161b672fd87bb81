package lifecycle

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLogPublisher_WritesEvent(t *testing.T) {
	var buf bytes.Buffer
	p := LogPublisher{Logger: zerolog.New(&buf)}
	p.Publish(Event{Name: EventLoadFailed, ModelID: "A", Fields: map[string]any{"error": "oom"}})
	out := buf.String()
	for _, want := range []string{`"level":"warn"`, `"event":"load_failed"`, `"model":"A"`, `"error":"oom"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log line %q missing %s", out, want)
		}
	}
}

func TestSetEventPublisher_NilRestoresNoop(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	m.SetEventPublisher(nil)
	m.publish(EventLoadStart, "A", nil)
}
