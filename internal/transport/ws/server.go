package ws

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"voxelcast.ai/internal/command"
	"voxelcast.ai/internal/protocol"
	"voxelcast.ai/internal/render"
)

// Executor runs one command line.
type Executor interface {
	Execute(ctx context.Context, line string) command.Result
}

type Options struct {
	Exec    Executor
	Hub     *Hub
	Limits  func() render.Limits
	Palette protocol.DigestRef
	World   protocol.WorldParams
	Logger  *log.Logger

	// QueueSize bounds unsent messages per connection.
	QueueSize int
}

type Server struct {
	opt Options
	log *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(opt Options) *Server {
	if opt.Logger == nil {
		opt.Logger = log.New(io.Discard, "", 0)
	}
	if opt.Hub == nil {
		opt.Hub = NewHub()
	}
	if opt.Limits == nil {
		opt.Limits = render.DefaultLimits
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = 64
	}
	return &Server{
		opt: opt,
		log: opt.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Hub() *Hub { return s.opt.Hub }

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		c := s.handshake(conn)
		if c == nil {
			return
		}
		s.opt.Hub.add(c)
		defer s.opt.Hub.remove(c)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-c.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeCmd {
				c.send(protocol.NewErrorMsg(protocol.ErrProtoBadRequest, "expected CMD"))
				continue
			}
			if err := protocol.ValidateCommand(msg); err != nil {
				c.send(protocol.NewErrorMsg(protocol.ErrProtoBadRequest, err.Error()))
				continue
			}
			var cmd protocol.CmdMsg
			if err := json.Unmarshal(msg, &cmd); err != nil {
				c.send(protocol.NewErrorMsg(protocol.ErrProtoBadRequest, err.Error()))
				continue
			}
			if cmd.ProtocolVersion != protocol.Version {
				c.send(protocol.NewErrorMsg(protocol.ErrProtoUnsupported, "bad protocol_version"))
				continue
			}

			res := s.opt.Exec.Execute(ctx, cmd.Line)
			if res.SessionID != "" {
				c.watch(res.SessionID)
			}
			c.send(protocol.ResultMsg{
				Type:            protocol.TypeResult,
				ProtocolVersion: protocol.Version,
				ReplyTo:         cmd.ID,
				OK:              res.OK,
				Code:            res.Code,
				Message:         res.Message,
				SessionID:       res.SessionID,
			})
		}
		s.log.Printf("ws: %s (%s) disconnected", c.id, c.name)
	}
}

func (s *Server) handshake(conn *websocket.Conn) *client {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return nil
	}
	if err := protocol.ValidateHello(msg); err != nil {
		closeWith(conn, "bad HELLO")
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, "bad protocol_version")
		return nil
	}
	if hello.ClientName == "" {
		hello.ClientName = "client"
	}

	c := newClient("C"+itoa(s.nextID.Add(1)), hello.ClientName, hello.Follow, s.opt.QueueSize)
	lim := s.opt.Limits()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		ConnID:          c.id,
		Limits:          protocol.LimitsRef{MaxWidth: lim.MaxWidth, MaxHeight: lim.MaxHeight, MaxFPS: lim.MaxFPS},
		Palette:         s.opt.Palette,
		World:           s.opt.World,
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil
	}
	s.log.Printf("ws: %s (%s) connected follow=%v", c.id, c.name, c.follow)
	return c
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
