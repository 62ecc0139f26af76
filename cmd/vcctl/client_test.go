package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"voxelcast.ai/internal/command"
	"voxelcast.ai/internal/render"
	"voxelcast.ai/internal/render/notify"
	"voxelcast.ai/internal/transport/ws"
)

type execFunc func(ctx context.Context, line string) command.Result

func (f execFunc) Execute(ctx context.Context, line string) command.Result { return f(ctx, line) }

func startServer(t *testing.T, exec func(hub *ws.Hub, line string) command.Result) string {
	t.Helper()
	hub := ws.NewHub()
	srv := ws.NewServer(ws.Options{
		Exec: execFunc(func(_ context.Context, line string) command.Result { return exec(hub, line) }),
		Hub:  hub,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestClient_RunAndFollow(t *testing.T) {
	lines := make(chan string, 1)
	url := startServer(t, func(hub *ws.Hub, line string) command.Result {
		lines <- line
		// One status races ahead of the RESULT, the rest follow it.
		hub.Notify(notify.Status{SessionID: "s1", Kind: render.KindVideo, Phase: notify.PhaseReady, Message: "Processing video"})
		go func() {
			time.Sleep(20 * time.Millisecond)
			hub.Notify(notify.Status{SessionID: "other", Kind: render.KindImage, Phase: notify.PhaseFinished})
			hub.Notify(notify.Status{SessionID: "s1", Kind: render.KindVideo, Phase: notify.PhaseFinished, Message: "Video playback finished (3 frames)"})
		}()
		return command.Result{OK: true, Message: "Playing video", SessionID: "s1"}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := dial(ctx, url, true)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	if c.welcome.ConnID == "" || c.welcome.Limits.MaxWidth != render.DefaultMaxWidth {
		t.Fatalf("welcome: %+v", c.welcome)
	}

	res, err := c.Run(ctx, "video a.gif 0 64 -3")
	if err != nil || !res.OK || res.SessionID != "s1" {
		t.Fatalf("Run: %+v %v", res, err)
	}
	if got := <-lines; got != "video a.gif 0 64 -3" {
		t.Fatalf("line=%q", got)
	}

	var out bytes.Buffer
	last, err := c.Follow(ctx, "s1", &out)
	if err != nil {
		t.Fatalf("Follow: %v", err)
	}
	if last.Phase != "finished" {
		t.Fatalf("last=%+v", last)
	}
	want := "[ready] video: Processing video\n[finished] video: Video playback finished (3 frames)\n"
	if out.String() != want {
		t.Fatalf("output:\n%s\nwant:\n%s", out.String(), want)
	}
}

func TestRootCommand_UsageErrorExitsNonZero(t *testing.T) {
	url := startServer(t, func(_ *ws.Hub, line string) command.Result {
		if line == "undo" {
			return command.Result{OK: true, Message: "Nothing to undo"}
		}
		return command.Result{Code: "E_USAGE", Message: "Usage: image <src> <x> <y> <z>"}
	})

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--server", url, "undo"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if out.String() != "Nothing to undo\n" {
		t.Fatalf("out=%q", out.String())
	}

	rootCmd.SetArgs([]string{"--server", url, "image", "a.png", "1", "-2"})
	err := rootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "E_USAGE") {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestDial_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := dial(ctx, "ws://127.0.0.1:1/v1/ws", false); err == nil {
		t.Fatalf("expected dial error")
	}
}
