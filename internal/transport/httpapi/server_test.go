package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"voxelcast.ai/internal/command"
	"voxelcast.ai/internal/persistence/indexdb"
	"voxelcast.ai/internal/protocol"
	"voxelcast.ai/internal/render"
	"voxelcast.ai/internal/render/registry"
	"voxelcast.ai/internal/render/session"
	"voxelcast.ai/internal/sim/encoding"
)

type fakeExec struct{ res command.Result }

func (f fakeExec) Execute(context.Context, string) command.Result { return f.res }

type fakeSessions struct {
	list    []session.Info
	stopped []string
	history []registry.Record
}

func (f *fakeSessions) Sessions() []session.Info   { return f.list }
func (f *fakeSessions) History() []registry.Record { return f.history }
func (f *fakeSessions) Stop(id string) bool {
	for _, s := range f.list {
		if s.ID == id {
			f.stopped = append(f.stopped, id)
			return true
		}
	}
	return false
}

type fakeWorld struct {
	got render.Rect
	err error
}

func (f *fakeWorld) Region(_ context.Context, r render.Rect) ([]uint16, error) {
	f.got = r
	if f.err != nil {
		return nil, f.err
	}
	out := make([]uint16, r.Width*r.Height)
	for i := range out {
		out[i] = 3
	}
	return out, nil
}

func (f *fakeWorld) Digest(context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "abc123", nil
}

type fakeHistory struct{ rows []indexdb.SessionRow }

func (f fakeHistory) RecentSessions(_ context.Context, limit int) ([]indexdb.SessionRow, error) {
	if limit > 0 && limit < len(f.rows) {
		return f.rows[:limit], nil
	}
	return f.rows, nil
}

func do(t *testing.T, h http.Handler, method, target, body, remote string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if remote != "" {
		req.RemoteAddr = remote
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCommands(t *testing.T) {
	cases := []struct {
		res  command.Result
		body string
		want int
	}{
		{command.Result{OK: true, Message: "Rendering image", SessionID: "s1"}, `{"line":"image a.png 0 0 0"}`, http.StatusOK},
		{command.Result{Code: protocol.ErrUsage, Message: "Usage: undo"}, `{"line":"undo x"}`, http.StatusBadRequest},
		{command.Result{Code: protocol.ErrNotFound}, `{"line":"stop x"}`, http.StatusNotFound},
		{command.Result{Code: protocol.ErrCancelled}, `{"line":"image a 0 0 0"}`, http.StatusServiceUnavailable},
		{command.Result{OK: true}, `{"line":""}`, http.StatusBadRequest},
		{command.Result{OK: true}, `nope`, http.StatusBadRequest},
	}
	for _, c := range cases {
		h := NewHandler(Options{Exec: fakeExec{c.res}, Sessions: &fakeSessions{}})
		rec := do(t, h, http.MethodPost, "/v1/commands", c.body, "")
		if rec.Code != c.want {
			t.Fatalf("%s: status=%d want %d body=%s", c.body, rec.Code, c.want, rec.Body)
		}
	}

	h := NewHandler(Options{Exec: fakeExec{command.Result{OK: true, Message: "Rendering image", SessionID: "s1"}}, Sessions: &fakeSessions{}})
	rec := do(t, h, http.MethodPost, "/v1/commands", `{"line":"image a.png 0 0 0"}`, "")
	var res command.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil || res.SessionID != "s1" {
		t.Fatalf("decode: %+v %v", res, err)
	}
}

func TestSessionsListAndStop(t *testing.T) {
	fs := &fakeSessions{list: []session.Info{{ID: "s1", Kind: render.KindVideo, State: "running", Started: time.Unix(0, 0)}}}
	h := NewHandler(Options{Exec: fakeExec{}, Sessions: fs})

	rec := do(t, h, http.MethodGet, "/v1/sessions", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"id":"s1"`) {
		t.Fatalf("list: %d %s", rec.Code, rec.Body)
	}
	if rec := do(t, h, http.MethodDelete, "/v1/sessions/s1", "", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("stop: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/v1/sessions/zz", "", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("stop unknown: %d", rec.Code)
	}
	if len(fs.stopped) != 1 || fs.stopped[0] != "s1" {
		t.Fatalf("stopped=%v", fs.stopped)
	}

	empty := NewHandler(Options{Exec: fakeExec{}, Sessions: &fakeSessions{}})
	if rec := do(t, empty, http.MethodGet, "/v1/sessions", "", ""); !strings.Contains(rec.Body.String(), `"sessions":[]`) {
		t.Fatalf("empty list: %s", rec.Body)
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) { _, _ = rw.Write([]byte("voxelcast_up 1\n")) })
	h := NewHandler(Options{Exec: fakeExec{}, Sessions: &fakeSessions{}, Metrics: metrics})
	if rec := do(t, h, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body)
	}
	if rec := do(t, h, http.MethodGet, "/metrics", "", ""); !strings.Contains(rec.Body.String(), "voxelcast_up") {
		t.Fatalf("metrics: %s", rec.Body)
	}
}

func TestAdminRegion(t *testing.T) {
	fr := &fakeWorld{}
	h := NewHandler(Options{Exec: fakeExec{}, Sessions: &fakeSessions{}, World: fr, EnableAdmin: true})

	if rec := do(t, h, http.MethodGet, "/admin/v1/region?x=1&y=2&z=3&w=4&h=2", "", "203.0.113.9:1000"); rec.Code != http.StatusForbidden {
		t.Fatalf("remote admin: %d", rec.Code)
	}
	rec := do(t, h, http.MethodGet, "/admin/v1/region?x=1&y=2&z=3&w=4&h=2", "", "127.0.0.1:1000")
	if rec.Code != http.StatusOK {
		t.Fatalf("region: %d %s", rec.Code, rec.Body)
	}
	if fr.got != (render.Rect{Origin: render.Vec3i{X: 1, Y: 2, Z: 3}, Width: 4, Height: 2}) {
		t.Fatalf("rect=%+v", fr.got)
	}
	var body struct {
		Encoding string `json:"encoding"`
		Data     string `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	cells, err := encoding.DecodeRLE[uint16](body.Data, 8)
	if err != nil || len(cells) != 8 || cells[7] != 3 || body.Encoding != "RLE" {
		t.Fatalf("cells=%v err=%v enc=%s", cells, err, body.Encoding)
	}

	fr.got = render.Rect{}
	for _, q := range []string{
		"x=1&y=2&z=3&w=0&h=2",
		"x=a&y=2&z=3&w=1&h=1",
		"x=0&y=0&z=0&w=1000&h=1000",
		"x=0&y=0&z=0&w=1&h=262145",
		"x=0&y=0&z=0&w=4294967296&h=4294967296",
	} {
		if rec := do(t, h, http.MethodGet, "/admin/v1/region?"+q, "", "[::1]:1000"); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: %d", q, rec.Code)
		}
	}
	if fr.got != (render.Rect{}) {
		t.Fatalf("oversized request reached the world: %+v", fr.got)
	}
	rec = do(t, h, http.MethodGet, "/admin/v1/digest", "", "127.0.0.1:1")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"digest":"abc123"`) {
		t.Fatalf("digest: %d %s", rec.Code, rec.Body)
	}

	fr.err = errors.New("world stopped")
	if rec := do(t, h, http.MethodGet, "/admin/v1/region?x=0&y=0&z=0&w=1&h=1", "", "127.0.0.1:1"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("region error: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/admin/v1/digest", "", "127.0.0.1:1"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("digest error: %d", rec.Code)
	}
}

func TestAdminHistoryAndUndoStack(t *testing.T) {
	hist := fakeHistory{rows: []indexdb.SessionRow{{SessionID: "b"}, {SessionID: "a"}}}
	fs := &fakeSessions{history: []registry.Record{{SessionID: "a", Kind: render.KindImage}}}
	h := NewHandler(Options{Exec: fakeExec{}, Sessions: fs, History: hist, EnableAdmin: true})

	rec := do(t, h, http.MethodGet, "/admin/v1/history?limit=1", "", "127.0.0.1:1")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"session_id":"b"`) || strings.Contains(rec.Body.String(), `"session_id":"a"`) {
		t.Fatalf("history: %d %s", rec.Code, rec.Body)
	}
	rec = do(t, h, http.MethodGet, "/admin/v1/undo", "", "127.0.0.1:1")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"session_id":"a"`) {
		t.Fatalf("undo stack: %d %s", rec.Code, rec.Body)
	}

	noIndex := NewHandler(Options{Exec: fakeExec{}, Sessions: fs, EnableAdmin: true})
	if rec := do(t, noIndex, http.MethodGet, "/admin/v1/history", "", "127.0.0.1:1"); rec.Code != http.StatusNotFound {
		t.Fatalf("history without index: %d", rec.Code)
	}
}

func TestAdminDisabled(t *testing.T) {
	h := NewHandler(Options{Exec: fakeExec{}, Sessions: &fakeSessions{}, World: &fakeWorld{}})
	if rec := do(t, h, http.MethodGet, "/admin/v1/region?x=0&y=0&z=0&w=1&h=1", "", "127.0.0.1:1"); rec.Code != http.StatusNotFound {
		t.Fatalf("admin disabled: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/debug/pprof/", "", "127.0.0.1:1"); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof disabled: %d", rec.Code)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:80": true,
		"[::1]:80":     true,
		"10.0.0.1:80":  false,
		"bogus":        false,
		"127.0.0.1":    true,
	}
	for in, want := range cases {
		if got := isLoopbackRemote(in); got != want {
			t.Fatalf("%s: got %v want %v", in, got, want)
		}
	}
}
