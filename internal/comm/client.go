package comm

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

const inprocHost = "ws://inproc"

// Client speaks to a Server either over TCP or in-process.
type Client struct {
	base   string
	dialer *ws.Dialer

	adminMu sync.Mutex
	admin   *ws.Conn

	asyncMu sync.Mutex
	async   *ws.Conn
}

// NewClient targets a server listening at addr (host:port).
func NewClient(addr string) *Client {
	d := *ws.DefaultDialer
	return &Client{base: "ws://" + addr, dialer: &d}
}

// NewInProcClient targets a server through its in-process dialer.
func NewInProcClient(dial func(ctx context.Context, network, addr string) (net.Conn, error)) *Client {
	return &Client{
		base: inprocHost,
		dialer: &ws.Dialer{
			NetDialContext:   dial,
			HandshakeTimeout: 5 * time.Second,
		},
	}
}

func (c *Client) connect(ctx context.Context, path string) (*ws.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.base+path, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	return conn, nil
}

func writeFrame(conn *ws.Conn, typ string, v any) error {
	data, err := Encode(typ, v)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(ws.TextMessage, data)
}

// closeOnDone closes conn when ctx ends, unblocking a pending read.
func closeOnDone(ctx context.Context, conn *ws.Conn) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// Admin sends one command and waits for its reply. Commands from one
// client are serialized.
func (c *Client) Admin(ctx context.Context, cmd AdminCommand) (*AdminReply, error) {
	c.adminMu.Lock()
	defer c.adminMu.Unlock()
	if c.admin == nil {
		conn, err := c.connect(ctx, PathAdmin)
		if err != nil {
			return nil, err
		}
		c.admin = conn
	}
	conn := c.admin
	fail := func(err error) (*AdminReply, error) {
		_ = conn.Close()
		c.admin = nil
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if err := writeFrame(conn, TypeAdminCommand, cmd); err != nil {
		return fail(err)
	}
	stop := closeOnDone(ctx, conn)
	defer stop()
	_, data, err := conn.ReadMessage()
	if err != nil {
		return fail(err)
	}
	var reply AdminReply
	if err := Decode(data, TypeAdminReply, &reply); err != nil {
		return fail(err)
	}
	return &reply, nil
}

func subscribe[T any](ctx context.Context, c *Client, path, typ string, fn func(T)) error {
	conn, err := c.connect(ctx, path)
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := closeOnDone(ctx, conn)
	defer stop()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		var v T
		if err := Decode(data, typ, &v); err != nil {
			return err
		}
		fn(v)
	}
}

// SubscribeState calls fn for each state frame until ctx ends.
func (c *Client) SubscribeState(ctx context.Context, fn func(StateUpdate)) error {
	return subscribe(ctx, c, PathState, TypeState, fn)
}

// SubscribeSchema calls fn for each schema, starting with the current one.
func (c *Client) SubscribeSchema(ctx context.Context, fn func(Schema)) error {
	return subscribe(ctx, c, PathSchema, TypeSchema, fn)
}

// ControlHandler computes inputs for a request. Returning false leaves the
// request unanswered.
type ControlHandler func(ControlRequest) (ControlReply, bool)

// ServeSyncControl attaches as the synchronous client. Heartbeats are
// echoed automatically; the reply tick, schema version and epoch are taken
// from the request.
func (c *Client) ServeSyncControl(ctx context.Context, handle ControlHandler) error {
	conn, err := c.connect(ctx, PathSync)
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := closeOnDone(ctx, conn)
	defer stop()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		var req ControlRequest
		if err := Decode(data, TypeControlRequest, &req); err != nil {
			return err
		}
		reply := ControlReply{}
		if !req.Heartbeat() {
			var ok bool
			if reply, ok = handle(req); !ok {
				continue
			}
		}
		reply.Tick = req.Tick
		reply.SchemaVersion = req.SchemaVersion
		reply.Epoch = req.Epoch
		if err := writeFrame(conn, TypeControlReply, reply); err != nil {
			return err
		}
	}
}

// SendAsyncControl pushes inputs on the asynchronous channel.
func (c *Client) SendAsyncControl(ctx context.Context, msg ControlAsync) error {
	c.asyncMu.Lock()
	defer c.asyncMu.Unlock()
	if c.async == nil {
		conn, err := c.connect(ctx, PathAsync)
		if err != nil {
			return err
		}
		c.async = conn
	}
	if err := writeFrame(c.async, TypeControlAsync, msg); err != nil {
		_ = c.async.Close()
		c.async = nil
		return err
	}
	return nil
}

func (c *Client) Close() error {
	c.adminMu.Lock()
	if c.admin != nil {
		_ = c.admin.Close()
		c.admin = nil
	}
	c.adminMu.Unlock()
	c.asyncMu.Lock()
	if c.async != nil {
		_ = c.async.Close()
		c.async = nil
	}
	c.asyncMu.Unlock()
	return nil
}
