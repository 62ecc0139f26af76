// Package httpapi exposes the command surface, session listing and admin
// reads over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"voxelcast.ai/internal/command"
	"voxelcast.ai/internal/persistence/indexdb"
	"voxelcast.ai/internal/protocol"
	"voxelcast.ai/internal/render"
	"voxelcast.ai/internal/render/registry"
	"voxelcast.ai/internal/render/session"
	"voxelcast.ai/internal/sim/encoding"
)

type Executor interface {
	Execute(ctx context.Context, line string) command.Result
}

type Sessions interface {
	Sessions() []session.Info
	Stop(id string) bool
	History() []registry.Record
}

// WorldReader is the read side of the host world.
type WorldReader interface {
	Region(ctx context.Context, r render.Rect) ([]uint16, error)
	Digest(ctx context.Context) (string, error)
}

type HistoryReader interface {
	RecentSessions(ctx context.Context, limit int) ([]indexdb.SessionRow, error)
}

// maxRegionCells caps one /admin/v1/region read.
const maxRegionCells = 512 * 512

type Options struct {
	Exec     Executor
	Sessions Sessions
	World    WorldReader
	// History is optional; without it /admin/v1/history answers 404.
	History HistoryReader
	Metrics http.Handler
	WS      http.Handler

	EnableAdmin bool
	EnablePprof bool
	Logger      *log.Logger
}

func NewHandler(opt Options) http.Handler {
	if opt.Logger == nil {
		opt.Logger = log.New(io.Discard, "", 0)
	}
	h := &handler{opt: opt}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	if opt.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opt.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/commands", h.postCommand)
		r.Get("/sessions", h.listSessions)
		r.Delete("/sessions/{id}", h.stopSession)
		if opt.WS != nil {
			r.Method(http.MethodGet, "/ws", opt.WS)
		}
	})

	if opt.EnableAdmin {
		r.Route("/admin/v1", func(r chi.Router) {
			r.Use(loopbackOnly)
			r.Get("/region", h.region)
			r.Get("/digest", h.digest)
			r.Get("/history", h.history)
			r.Get("/undo", h.undoStack)
		})
	} else {
		opt.Logger.Printf("admin endpoints disabled (VC_ENABLE_ADMIN_HTTP=false)")
	}
	if opt.EnablePprof {
		r.Mount("/debug", middleware.Profiler())
	} else {
		opt.Logger.Printf("pprof endpoints disabled (VC_ENABLE_PPROF_HTTP=false)")
	}
	return r
}

type handler struct {
	opt Options
}

type commandRequest struct {
	Line string `json:"line"`
}

func (h *handler) postCommand(rw http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64*1024)).Decode(&req); err != nil || strings.TrimSpace(req.Line) == "" {
		writeJSON(rw, http.StatusBadRequest, command.Result{Code: protocol.ErrBadRequest, Message: "body must be {\"line\": \"<command>\"}"})
		return
	}
	res := h.opt.Exec.Execute(r.Context(), req.Line)
	writeJSON(rw, statusFor(res), res)
}

func statusFor(res command.Result) int {
	if res.OK {
		return http.StatusOK
	}
	switch res.Code {
	case protocol.ErrUsage, protocol.ErrConfig, protocol.ErrBadRequest:
		return http.StatusBadRequest
	case protocol.ErrNotFound:
		return http.StatusNotFound
	case protocol.ErrCancelled:
		return http.StatusServiceUnavailable
	case protocol.ErrSource:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) listSessions(rw http.ResponseWriter, _ *http.Request) {
	list := h.opt.Sessions.Sessions()
	if list == nil {
		list = []session.Info{}
	}
	writeJSON(rw, http.StatusOK, map[string]any{"sessions": list})
}

func (h *handler) stopSession(rw http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.opt.Sessions.Stop(id) {
		writeJSON(rw, http.StatusNotFound, command.Result{Code: protocol.ErrNotFound, Message: "No active session " + id})
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

func (h *handler) region(rw http.ResponseWriter, r *http.Request) {
	if h.opt.World == nil {
		http.NotFound(rw, r)
		return
	}
	q := r.URL.Query()
	var vals [5]int
	for i, k := range []string{"x", "y", "z", "w", "h"} {
		n, err := strconv.Atoi(q.Get(k))
		if err != nil {
			http.Error(rw, "bad "+k, http.StatusBadRequest)
			return
		}
		vals[i] = n
	}
	rect := render.Rect{Origin: render.Vec3i{X: vals[0], Y: vals[1], Z: vals[2]}, Width: vals[3], Height: vals[4]}
	if rect.Width <= 0 || rect.Height <= 0 || rect.Width > maxRegionCells || rect.Height > maxRegionCells/rect.Width {
		http.Error(rw, "bad size", http.StatusBadRequest)
		return
	}
	cells, err := h.opt.World.Region(r.Context(), rect)
	if err != nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{
		"rect":     rect,
		"encoding": "RLE",
		"data":     encoding.EncodeRLE(cells),
	})
}

func (h *handler) digest(rw http.ResponseWriter, r *http.Request) {
	if h.opt.World == nil {
		http.NotFound(rw, r)
		return
	}
	d, err := h.opt.World.Digest(r.Context())
	if err != nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"digest": d})
}

func (h *handler) history(rw http.ResponseWriter, r *http.Request) {
	if h.opt.History == nil {
		http.NotFound(rw, r)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := h.opt.History.RecentSessions(r.Context(), limit)
	if err != nil {
		writeJSON(rw, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	if rows == nil {
		rows = []indexdb.SessionRow{}
	}
	writeJSON(rw, http.StatusOK, map[string]any{"sessions": rows})
}

// undoStack lists the footprints undo would clear, most recent last.
func (h *handler) undoStack(rw http.ResponseWriter, _ *http.Request) {
	recs := h.opt.Sessions.History()
	if recs == nil {
		recs = []registry.Record{}
	}
	writeJSON(rw, http.StatusOK, map[string]any{"records": recs})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(rw, r)
	})
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
