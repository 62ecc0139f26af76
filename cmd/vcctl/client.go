package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"voxelcast.ai/internal/protocol"
)

type client struct {
	conn    *websocket.Conn
	welcome protocol.WelcomeMsg
	seq     int
	// statuses read while waiting for a RESULT
	pending []protocol.StatusMsg
}

func dial(ctx context.Context, url string, follow bool) (*client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &client{conn: conn}
	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      "vcctl",
		Follow:          follow,
	}
	if err := c.write(ctx, hello); err != nil {
		conn.Close()
		return nil, err
	}
	b, err := c.read(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	if err := json.Unmarshal(b, &c.welcome); err != nil || c.welcome.Type != protocol.TypeWelcome {
		conn.Close()
		return nil, fmt.Errorf("handshake: unexpected %s", b)
	}
	return c, nil
}

func (c *client) Close() error { return c.conn.Close() }

func (c *client) write(ctx context.Context, v any) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(dl)
	}
	return c.conn.WriteJSON(v)
}

func (c *client) read(ctx context.Context) ([]byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(dl)
	} else {
		_ = c.conn.SetReadDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetReadDeadline(time.Now()) })
	defer stop()
	_, b, err := c.conn.ReadMessage()
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return b, err
}

// Run sends one command line and waits for its RESULT.
func (c *client) Run(ctx context.Context, line string) (protocol.ResultMsg, error) {
	c.seq++
	id := "c" + strconv.Itoa(c.seq)
	cmd := protocol.CmdMsg{Type: protocol.TypeCmd, ProtocolVersion: protocol.Version, ID: id, Line: line}
	if err := c.write(ctx, cmd); err != nil {
		return protocol.ResultMsg{}, err
	}
	for {
		b, err := c.read(ctx)
		if err != nil {
			return protocol.ResultMsg{}, err
		}
		base, err := protocol.DecodeBase(b)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeResult:
			var res protocol.ResultMsg
			if err := json.Unmarshal(b, &res); err != nil {
				return res, err
			}
			if res.ReplyTo == id {
				return res, nil
			}
		case protocol.TypeStatus:
			var st protocol.StatusMsg
			if json.Unmarshal(b, &st) == nil {
				c.pending = append(c.pending, st)
			}
		case protocol.TypeError:
			var e protocol.ErrorMsg
			_ = json.Unmarshal(b, &e)
			return protocol.ResultMsg{}, fmt.Errorf("%s: %s", e.Code, e.Message)
		}
	}
}

// Follow prints status updates of one session until a terminal one and
// returns it.
func (c *client) Follow(ctx context.Context, sessionID string, out io.Writer) (protocol.StatusMsg, error) {
	for _, st := range c.pending {
		if st.SessionID != sessionID {
			continue
		}
		printStatus(out, st)
		if st.Terminal() {
			return st, nil
		}
	}
	c.pending = nil
	for {
		b, err := c.read(ctx)
		if err != nil {
			return protocol.StatusMsg{}, err
		}
		var st protocol.StatusMsg
		if err := json.Unmarshal(b, &st); err != nil || st.Type != protocol.TypeStatus || st.SessionID != sessionID {
			continue
		}
		printStatus(out, st)
		if st.Terminal() {
			return st, nil
		}
	}
}

func printStatus(out io.Writer, st protocol.StatusMsg) {
	if st.Error != "" {
		fmt.Fprintf(out, "[%s] %s: %s (%s)\n", st.Phase, st.Kind, st.Message, st.Error)
		return
	}
	fmt.Fprintf(out, "[%s] %s: %s\n", st.Phase, st.Kind, st.Message)
}
