// Package notify carries session status updates to whoever is listening.
package notify

import (
	"log"
	"time"
)

type Phase string

const (
	PhaseDownloading Phase = "downloading"
	PhaseDownloaded  Phase = "downloaded"
	PhaseReady       Phase = "ready"
	PhaseFinished    Phase = "finished"
	PhaseCancelled   Phase = "cancelled"
	PhaseFailed      Phase = "failed"
	PhaseUndone      Phase = "undone"
)

// Terminal reports whether a session emits nothing after p.
func (p Phase) Terminal() bool {
	return p == PhaseFinished || p == PhaseCancelled || p == PhaseFailed
}

type Status struct {
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	Phase     Phase     `json:"phase"`
	Message   string    `json:"message"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// Notifier must not block; slow sinks drop or buffer.
type Notifier interface {
	Notify(Status)
}

type Func func(Status)

func (f Func) Notify(s Status) { f(s) }

// Multi fans a status out to every non-nil notifier in order.
type Multi []Notifier

func (m Multi) Notify(s Status) {
	for _, n := range m {
		if n != nil {
			n.Notify(s)
		}
	}
}

type Log struct{ L *log.Logger }

func (l Log) Notify(s Status) {
	if l.L == nil {
		return
	}
	if s.Error != "" {
		l.L.Printf("session %s %s %s: %s (%s)", s.SessionID, s.Kind, s.Phase, s.Message, s.Error)
		return
	}
	l.L.Printf("session %s %s %s: %s", s.SessionID, s.Kind, s.Phase, s.Message)
}
