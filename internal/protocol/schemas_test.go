package protocol_test

import (
	"encoding/json"
	"testing"
	"time"

	"voxelcast.ai/internal/protocol"
	"voxelcast.ai/internal/render/notify"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	validate := func(name string, raw string) {
		t.Helper()
		if err := protocol.Validate(name, []byte(raw)); err != nil {
			t.Fatalf("validate %s: %v", name, err)
		}
	}

	validate(protocol.SchemaHello, `{"type":"HELLO","protocol_version":"1.0","client_name":"vcctl","follow":true}`)
	validate(protocol.SchemaCmd, `{"type":"CMD","protocol_version":"1.0","id":"c1","line":"image cat.png 0 64 0"}`)
	validate(protocol.SchemaWelcome, `{
	  "type":"WELCOME",
	  "protocol_version":"1.0",
	  "conn_id":"C1",
	  "limits":{"max_width":100,"max_height":100,"max_fps":30},
	  "palette":{"digest":"deadbeef","count":49},
	  "world":{"tick_rate_hz":20,"boundary_r":4096,"height":320}
	}`)
	validate(protocol.SchemaResult, `{"type":"RESULT","protocol_version":"1.0","reply_to":"c1","ok":false,"code":"E_USAGE","message":"Usage: undo"}`)
}

func TestSchemas_GoMessagesConform(t *testing.T) {
	check := func(name string, v any) {
		t.Helper()
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if err := protocol.Validate(name, b); err != nil {
			t.Fatalf("validate %s %s: %v", name, b, err)
		}
	}

	st := protocol.NewStatusMsg(notify.Status{
		SessionID: "s1",
		Kind:      "video",
		Phase:     notify.PhaseFinished,
		Message:   "Video playback finished (12 frames)",
		Time:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	check(protocol.SchemaStatus, st)
	if !st.Terminal() {
		t.Fatalf("finished status should be terminal")
	}

	check(protocol.SchemaResult, protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		ReplyTo:         "c1",
		OK:              true,
		Message:         "Rendering image",
		SessionID:       "s1",
	})
	check(protocol.SchemaCmd, protocol.CmdMsg{
		Type:            protocol.TypeCmd,
		ProtocolVersion: protocol.Version,
		ID:              "c2",
		Line:            "undo",
	})
}

func TestSchemas_RejectsBadCommand(t *testing.T) {
	cases := []string{
		`{"type":"CMD","protocol_version":"1.0","id":"c1"}`,
		`{"type":"CMD","protocol_version":"1.0","id":"c1","line":""}`,
		`{"type":"ACT","protocol_version":"1.0","id":"c1","line":"undo"}`,
		`{"type":"CMD","protocol_version":"1.0","id":"c1","line":"undo","extra":1}`,
		`not json`,
	}
	for _, c := range cases {
		if err := protocol.ValidateCommand([]byte(c)); err == nil {
			t.Fatalf("expected rejection: %s", c)
		}
	}
	if err := protocol.Validate("nope", []byte(`{}`)); err == nil {
		t.Fatalf("expected unknown schema error")
	}
}

func TestDecodeBase(t *testing.T) {
	m, err := protocol.DecodeBase([]byte(`{"type":"HELLO","protocol_version":"1.0","client_name":"x"}`))
	if err != nil || m.Type != protocol.TypeHello || m.ProtocolVersion != "1.0" {
		t.Fatalf("DecodeBase: %+v %v", m, err)
	}
}
