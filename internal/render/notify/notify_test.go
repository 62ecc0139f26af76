package notify

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestMultiFansOutInOrder(t *testing.T) {
	var got []string
	m := Multi{
		Func(func(s Status) { got = append(got, "a:"+string(s.Phase)) }),
		nil,
		Func(func(s Status) { got = append(got, "b:"+string(s.Phase)) }),
	}
	m.Notify(Status{Phase: PhaseReady})
	if strings.Join(got, ",") != "a:ready,b:ready" {
		t.Fatalf("got %v", got)
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	Log{L: log.New(&buf, "", 0)}.Notify(Status{SessionID: "s1", Kind: "video", Phase: PhaseFailed, Message: "playback failed", Error: "bad frame"})
	if !strings.Contains(buf.String(), "session s1 video failed: playback failed (bad frame)") {
		t.Fatalf("log %q", buf.String())
	}
	Log{}.Notify(Status{})
}

func TestTerminal(t *testing.T) {
	for _, p := range []Phase{PhaseFinished, PhaseCancelled, PhaseFailed} {
		if !p.Terminal() {
			t.Fatalf("%s should be terminal", p)
		}
	}
	if PhaseReady.Terminal() || PhaseUndone.Terminal() {
		t.Fatalf("non-terminal phase reported terminal")
	}
}
