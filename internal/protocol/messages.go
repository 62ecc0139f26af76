package protocol

import (
	"time"

	"voxelcast.ai/internal/render/notify"
)

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
	// Follow subscribes the connection to every session status update.
	Follow bool `json:"follow,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	ConnID          string      `json:"conn_id"`
	Limits          LimitsRef   `json:"limits"`
	Palette         DigestRef   `json:"palette"`
	World           WorldParams `json:"world"`
}

type LimitsRef struct {
	MaxWidth  int `json:"max_width"`
	MaxHeight int `json:"max_height"`
	MaxFPS    int `json:"max_fps"`
}

type DigestRef struct {
	Digest string `json:"digest"`
	Count  int    `json:"count"`
}

type WorldParams struct {
	TickRateHz int `json:"tick_rate_hz"`
	BoundaryR  int `json:"boundary_r"`
	Height     int `json:"height"`
}

// CMD (client -> server): one command line, e.g. "image cat.png 0 64 0".
type CmdMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
	Line            string `json:"line"`
}

// RESULT (server -> client) answers the CMD with the same id.
type ResultMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReplyTo         string `json:"reply_to"`
	OK              bool   `json:"ok"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message"`
	SessionID       string `json:"session_id,omitempty"`
}

// STATUS (server -> client)
type StatusMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	SessionID       string    `json:"session_id"`
	Kind            string    `json:"kind"`
	Phase           string    `json:"phase"`
	Message         string    `json:"message"`
	Error           string    `json:"error,omitempty"`
	Time            time.Time `json:"time"`
}

func NewStatusMsg(s notify.Status) StatusMsg {
	return StatusMsg{
		Type:            TypeStatus,
		ProtocolVersion: Version,
		SessionID:       s.SessionID,
		Kind:            s.Kind,
		Phase:           string(s.Phase),
		Message:         s.Message,
		Error:           s.Error,
		Time:            s.Time,
	}
}

// Terminal reports whether no further STATUS follows for the session.
func (m StatusMsg) Terminal() bool { return notify.Phase(m.Phase).Terminal() }

// ERROR (server -> client) for messages that could not be handled at all.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewErrorMsg(code, msg string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: msg}
}
