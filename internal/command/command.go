// Package command parses operator command lines and applies them to the
// session registry. Transports (websocket, HTTP) share one Dispatcher.
package command

import (
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	"voxelcast.ai/internal/protocol"
	"voxelcast.ai/internal/render"
	"voxelcast.ai/internal/render/registry"
	"voxelcast.ai/internal/render/session"
)

// Registry is the part of registry.Registry the dispatcher drives.
type Registry interface {
	Start(kind, src string, origin render.Vec3i) (string, error)
	Limits() render.Limits
	SetLimits(render.Limits) error
	UndoLast(ctx context.Context) (registry.Record, bool, error)
	Stop(id string) bool
	StopAll() int
	Sessions() []session.Info
}

type Result struct {
	OK        bool           `json:"ok"`
	Code      string         `json:"code,omitempty"`
	Message   string         `json:"message"`
	SessionID string         `json:"session_id,omitempty"`
	Sessions  []session.Info `json:"sessions,omitempty"`
}

func ok(msg string) Result { return Result{OK: true, Message: msg} }

func fail(code, msg string) Result { return Result{Code: code, Message: msg} }

var usages = map[string]string{
	"image":    "Usage: image <src> <x> <y> <z>",
	"video":    "Usage: video <src> <x> <y> <z>",
	"stream":   "Usage: stream <dir> <x> <y> <z>",
	"setres":   "Usage: setres <width> <height> [fps]",
	"undo":     "Usage: undo",
	"stop":     "Usage: stop <id|all>",
	"sessions": "Usage: sessions",
}

var aliases = map[string]string{
	"processimage":  "image",
	"processvideo":  "video",
	"processstream": "stream",
	"undoimage":     "undo",
}

// Canonical resolves aliases and strips a leading slash. Unknown names are
// returned lower-cased.
func Canonical(name string) string {
	name = strings.ToLower(strings.TrimPrefix(name, "/"))
	if c, ok := aliases[name]; ok {
		return c
	}
	return name
}

// Usage returns the usage line for a command or alias.
func Usage(name string) (string, bool) {
	u, ok := usages[Canonical(name)]
	return u, ok
}

type Dispatcher struct {
	reg    Registry
	logger *log.Logger
}

func NewDispatcher(reg Registry, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Dispatcher{reg: reg, logger: logger}
}

// Execute runs one command line. Malformed input yields a usage result and
// leaves the registry untouched.
func (d *Dispatcher) Execute(ctx context.Context, line string) Result {
	args := strings.Fields(line)
	if len(args) == 0 {
		return fail(protocol.ErrUsage, d.help())
	}
	raw := args[0]
	name := Canonical(raw)
	args = args[1:]

	var res Result
	switch name {
	case "image":
		res = d.start(render.KindImage, name, args)
	case "video":
		res = d.start(render.KindVideo, name, args)
	case "stream":
		res = d.start(render.KindStream, name, args)
	case "setres":
		res = d.setres(args)
	case "undo":
		res = d.undo(ctx, args)
	case "stop":
		res = d.stop(args)
	case "sessions":
		res = d.sessions(args)
	case "help":
		res = ok(d.help())
	default:
		res = fail(protocol.ErrUsage, fmt.Sprintf("Unknown command %q. %s", raw, d.help()))
	}
	if !res.OK {
		d.logger.Printf("command: %q: %s", line, res.Message)
	}
	return res
}

func (d *Dispatcher) help() string {
	names := []string{"image", "video", "stream", "setres", "undo", "stop", "sessions"}
	return "Commands: " + strings.Join(names, ", ")
}

func (d *Dispatcher) start(kind, name string, args []string) Result {
	if len(args) != 4 {
		return fail(protocol.ErrUsage, usages[name])
	}
	origin, err := parseVec3(args[1:])
	if err != nil {
		return fail(protocol.ErrUsage, usages[name])
	}
	id, err := d.reg.Start(kind, args[0], origin)
	if err != nil {
		return fail(protocol.CodeFor(err), err.Error())
	}
	var msg string
	switch kind {
	case render.KindImage:
		msg = fmt.Sprintf("Rendering image %s at %s", args[0], fmtVec(origin))
	case render.KindVideo:
		msg = fmt.Sprintf("Playing video %s at %s", args[0], fmtVec(origin))
	default:
		msg = fmt.Sprintf("Streaming %s at %s", args[0], fmtVec(origin))
	}
	return Result{OK: true, Message: msg, SessionID: id}
}

func (d *Dispatcher) setres(args []string) Result {
	if len(args) != 2 && len(args) != 3 {
		return fail(protocol.ErrUsage, usages["setres"])
	}
	lim := d.reg.Limits()
	w, err1 := strconv.Atoi(args[0])
	h, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil {
		return fail(protocol.ErrUsage, usages["setres"])
	}
	lim.MaxWidth, lim.MaxHeight = w, h
	if len(args) == 3 {
		fps, err := strconv.Atoi(args[2])
		if err != nil {
			return fail(protocol.ErrUsage, usages["setres"])
		}
		lim.MaxFPS = fps
	}
	if err := d.reg.SetLimits(lim); err != nil {
		return fail(protocol.CodeFor(err), err.Error())
	}
	return ok(fmt.Sprintf("Max resolution set to %dx%d at %d fps", lim.MaxWidth, lim.MaxHeight, lim.MaxFPS))
}

func (d *Dispatcher) undo(ctx context.Context, args []string) Result {
	if len(args) != 0 {
		return fail(protocol.ErrUsage, usages["undo"])
	}
	rec, found, err := d.reg.UndoLast(ctx)
	if !found {
		return ok("Nothing to undo")
	}
	if err != nil {
		return Result{Code: protocol.CodeFor(err), Message: err.Error(), SessionID: rec.SessionID}
	}
	return Result{
		OK:        true,
		Message:   fmt.Sprintf("Undid %s render at %s", rec.Kind, fmtVec(rec.Rect.Origin)),
		SessionID: rec.SessionID,
	}
}

func (d *Dispatcher) stop(args []string) Result {
	if len(args) != 1 {
		return fail(protocol.ErrUsage, usages["stop"])
	}
	if strings.EqualFold(args[0], "all") {
		n := d.reg.StopAll()
		return ok(fmt.Sprintf("Stopped %d sessions", n))
	}
	if !d.reg.Stop(args[0]) {
		return fail(protocol.ErrNotFound, fmt.Sprintf("No active session %s", args[0]))
	}
	return Result{OK: true, Message: "Stopped session " + args[0], SessionID: args[0]}
}

func (d *Dispatcher) sessions(args []string) Result {
	if len(args) != 0 {
		return fail(protocol.ErrUsage, usages["sessions"])
	}
	list := d.reg.Sessions()
	if len(list) == 0 {
		return ok("No active sessions")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d active sessions", len(list))
	for _, s := range list {
		fmt.Fprintf(&b, "\n%s %s %s at %s, %d frames", s.ID, s.Kind, s.State, fmtVec(s.Origin), s.Frames)
	}
	return Result{OK: true, Message: b.String(), Sessions: list}
}

func parseVec3(args []string) (render.Vec3i, error) {
	var v [3]int
	for i, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil {
			return render.Vec3i{}, err
		}
		v[i] = n
	}
	return render.Vec3i{X: v[0], Y: v[1], Z: v[2]}, nil
}

func fmtVec(v render.Vec3i) string { return fmt.Sprintf("(%d, %d, %d)", v.X, v.Y, v.Z) }
