package comm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/test/bufconn"

	"github.com/san-kum/vehsim/internal/dynamo"
	"github.com/san-kum/vehsim/internal/logging"
	"github.com/san-kum/vehsim/internal/observability"
)

const (
	DefaultQueueSize  = 256
	DefaultIntakeSize = 64
	inprocBufSize     = 1 << 20
)

type Options struct {
	// Addr is the TCP listen address. Empty disables the TCP listener and
	// leaves only the in-process one.
	Addr       string
	QueueSize  int
	IntakeSize int
	Log        zerolog.Logger
	Metrics    *observability.Collector
}

// Server multiplexes the five engine channels over websocket paths.
// Broadcast channels never block the caller; the control and admin
// channels are drained by the engine through the poll methods.
type Server struct {
	opts     Options
	log      zerolog.Logger
	hot      zerolog.Logger
	upgrader ws.Upgrader
	mux      *http.ServeMux

	httpSrv *http.Server
	tcp     net.Listener
	inproc  *bufconn.Listener
	running atomic.Bool
	closeMu sync.Mutex
	wg      sync.WaitGroup

	subsMu     sync.RWMutex
	stateSubs  map[*peer]struct{}
	schemaSubs map[*peer]struct{}
	lastSchema []byte

	ctl    syncChannel
	intake chan ControlAsync

	adminMu sync.Mutex
	admin   adminSlot
}

type syncChannel struct {
	mu        sync.Mutex
	peer      *peer
	replies   chan ControlReply
	stash     []ControlReply
	connected atomic.Bool
}

type adminSlot struct {
	pending bool
	polled  bool
	cmd     AdminCommand
	from    *peer
}

func NewServer(opts Options) *Server {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.IntakeSize <= 0 {
		opts.IntakeSize = DefaultIntakeSize
	}
	log := logging.Component(opts.Log, "comm")
	s := &Server{
		opts: opts,
		log:  log,
		hot:  logging.Sampled(log),
		upgrader: ws.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		mux:        http.NewServeMux(),
		stateSubs:  make(map[*peer]struct{}),
		schemaSubs: make(map[*peer]struct{}),
		intake:     make(chan ControlAsync, opts.IntakeSize),
	}
	s.ctl.replies = make(chan ControlReply, opts.QueueSize)

	s.mux.HandleFunc(PathState, s.handleState)
	s.mux.HandleFunc(PathSchema, s.handleSchema)
	s.mux.HandleFunc(PathSync, s.handleSync)
	s.mux.HandleFunc(PathAsync, s.handleAsync)
	s.mux.HandleFunc(PathAdmin, s.handleAdmin)
	if opts.Metrics != nil {
		s.mux.Handle(PathMetrics, opts.Metrics.Handler())
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

// Start opens the listeners and serves until Close.
func (s *Server) Start() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.running.Load() {
		return nil
	}
	s.httpSrv = &http.Server{Handler: s.mux, ReadHeaderTimeout: 5 * time.Second}
	s.inproc = bufconn.Listen(inprocBufSize)
	if s.opts.Addr != "" {
		ln, err := net.Listen("tcp", s.opts.Addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
		}
		s.tcp = ln
		s.serve(ln)
		s.log.Info().Str("addr", ln.Addr().String()).Msg("listening")
	}
	s.serve(s.inproc)
	s.running.Store(true)
	return nil
}

func (s *Server) serve(ln net.Listener) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("serve failed")
		}
	}()
}

// Addr reports the bound TCP address, or "" when only in-process.
func (s *Server) Addr() string {
	if s.tcp == nil {
		return ""
	}
	return s.tcp.Addr().String()
}

// InProcDialer dials the in-process listener; the address is ignored.
func (s *Server) InProcDialer() func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, _, _ string) (net.Conn, error) {
		if !s.running.Load() {
			return nil, dynamo.ErrNotRunning
		}
		return s.inproc.DialContext(ctx)
	}
}

func (s *Server) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if !s.running.Swap(false) {
		return nil
	}
	err := s.httpSrv.Close()

	// Hijacked websocket connections outlive http.Server.Close.
	s.subsMu.Lock()
	for p := range s.stateSubs {
		p.close()
	}
	for p := range s.schemaSubs {
		p.close()
	}
	s.subsMu.Unlock()
	s.ctl.mu.Lock()
	if s.ctl.peer != nil {
		s.ctl.peer.close()
	}
	s.ctl.mu.Unlock()
	s.adminMu.Lock()
	if s.admin.from != nil {
		s.admin.from.close()
	}
	s.admin = adminSlot{}
	s.adminMu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) upgrade(w http.ResponseWriter, r *http.Request) (*peer, bool) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("path", r.URL.Path).Msg("upgrade failed")
		return nil, false
	}
	return newPeer(conn, s.opts.QueueSize, s.log), true
}

func (s *Server) subscribe(set map[*peer]struct{}, channel string, w http.ResponseWriter, r *http.Request, greeting func() []byte) {
	p, ok := s.upgrade(w, r)
	if !ok {
		return
	}
	s.subsMu.Lock()
	set[p] = struct{}{}
	var hello []byte
	if greeting != nil {
		hello = greeting()
	}
	s.subsMu.Unlock()
	if hello != nil {
		p.enqueue(hello)
	}
	s.opts.Metrics.SubscriberDelta(channel, 1)
	s.log.Debug().Str("channel", channel).Msg("subscriber connected")

	p.readLoop(nil)

	s.subsMu.Lock()
	delete(set, p)
	s.subsMu.Unlock()
	s.opts.Metrics.SubscriberDelta(channel, -1)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.subscribe(s.stateSubs, TypeState, w, r, nil)
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	s.subscribe(s.schemaSubs, TypeSchema, w, r, func() []byte { return s.lastSchema })
}

func (s *Server) broadcast(set map[*peer]struct{}, channel string, data []byte) {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	for p := range set {
		if !p.enqueue(data) {
			s.opts.Metrics.BroadcastDrop(channel)
			s.hot.Warn().Str("channel", channel).Msg("subscriber queue full, frame dropped")
		}
	}
}

// PublishState broadcasts one frame to every state subscriber.
func (s *Server) PublishState(u StateUpdate) error {
	data, err := Encode(TypeState, u)
	if err != nil {
		return err
	}
	s.broadcast(s.stateSubs, TypeState, data)
	return nil
}

// PublishSchema broadcasts the schema and retains it for late joiners.
func (s *Server) PublishSchema(sc Schema) error {
	data, err := Encode(TypeSchema, sc)
	if err != nil {
		return err
	}
	s.subsMu.Lock()
	s.lastSchema = data
	s.subsMu.Unlock()
	s.broadcast(s.schemaSubs, TypeSchema, data)
	return nil
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	p, ok := s.upgrade(w, r)
	if !ok {
		return
	}
	s.ctl.mu.Lock()
	old := s.ctl.peer
	s.ctl.peer = p
	s.ctl.stash = nil
	drain(s.ctl.replies)
	s.ctl.connected.Store(true)
	s.ctl.mu.Unlock()
	if old != nil {
		s.log.Info().Msg("sync client replaced")
		old.close()
	} else {
		s.log.Info().Msg("sync client connected")
	}

	p.readLoop(func(data []byte) {
		var reply ControlReply
		if err := Decode(data, TypeControlReply, &reply); err != nil {
			s.hot.Warn().Err(err).Msg("malformed control reply")
			return
		}
		s.ctl.mu.Lock()
		defer s.ctl.mu.Unlock()
		if s.ctl.peer != p {
			return
		}
		select {
		case s.ctl.replies <- reply:
		default:
			s.hot.Warn().Uint64("tick", reply.Tick).Msg("control reply queue full, reply dropped")
		}
	})

	s.ctl.mu.Lock()
	if s.ctl.peer == p {
		s.ctl.peer = nil
		s.ctl.connected.Store(false)
		s.log.Info().Msg("sync client disconnected")
	}
	s.ctl.mu.Unlock()
}

func drain[T any](ch chan T) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// SendControlRequest forwards a request to the synchronous client.
func (s *Server) SendControlRequest(req ControlRequest) error {
	s.ctl.mu.Lock()
	p := s.ctl.peer
	s.ctl.mu.Unlock()
	if p == nil {
		s.ctl.connected.Store(false)
		return dynamo.ErrNoSyncClient
	}
	data, err := Encode(TypeControlRequest, req)
	if err != nil {
		return err
	}
	if !p.enqueue(data) {
		s.ctl.connected.Store(false)
		return dynamo.ErrQueueFull
	}
	if !req.Heartbeat() {
		s.opts.Metrics.SyncRequest()
	}
	return nil
}

// PollControlReply returns a reply if one has already arrived.
func (s *Server) PollControlReply() (ControlReply, bool) {
	s.ctl.mu.Lock()
	if len(s.ctl.stash) > 0 {
		r := s.ctl.stash[0]
		s.ctl.stash = s.ctl.stash[1:]
		s.ctl.mu.Unlock()
		return r, true
	}
	s.ctl.mu.Unlock()
	select {
	case r := <-s.ctl.replies:
		s.ctl.connected.Store(true)
		return r, true
	default:
		return ControlReply{}, false
	}
}

// WaitControlReply blocks until a reply arrives or the deadline passes.
// The connected flag follows the outcome.
func (s *Server) WaitControlReply(deadline time.Time) (ControlReply, bool) {
	if r, ok := s.PollControlReply(); ok {
		return r, true
	}
	r, ok := s.receive(deadline)
	s.ctl.connected.Store(ok)
	return r, ok
}

func (s *Server) receive(deadline time.Time) (ControlReply, bool) {
	d := time.Until(deadline)
	if d <= 0 {
		select {
		case r := <-s.ctl.replies:
			return r, true
		default:
			return ControlReply{}, false
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case r := <-s.ctl.replies:
		return r, true
	case <-timer.C:
		return ControlReply{}, false
	}
}

// ProbeConnection sends a heartbeat and waits up to timeout for its echo.
// Non-heartbeat replies seen meanwhile are kept for PollControlReply.
func (s *Server) ProbeConnection(timeout time.Duration) bool {
	if err := s.SendControlRequest(ControlRequest{}); err != nil {
		return false
	}
	deadline := time.Now().Add(timeout)
	for {
		r, ok := s.receive(deadline)
		if !ok {
			s.ctl.connected.Store(false)
			return false
		}
		if r.Tick == 0 {
			s.ctl.connected.Store(true)
			return true
		}
		s.ctl.mu.Lock()
		s.ctl.stash = append(s.ctl.stash, r)
		s.ctl.mu.Unlock()
	}
}

func (s *Server) SyncClientConnected() bool { return s.ctl.connected.Load() }

func (s *Server) handleAsync(w http.ResponseWriter, r *http.Request) {
	p, ok := s.upgrade(w, r)
	if !ok {
		return
	}
	p.readLoop(func(data []byte) {
		var msg ControlAsync
		if err := Decode(data, TypeControlAsync, &msg); err != nil {
			s.hot.Warn().Err(err).Msg("malformed async control")
			return
		}
		// Newest input wins when the intake is full.
		select {
		case s.intake <- msg:
			return
		default:
		}
		select {
		case <-s.intake:
			s.hot.Debug().Msg("async intake full, oldest dropped")
		default:
		}
		select {
		case s.intake <- msg:
		default:
		}
	})
}

// PollAsyncControl returns the next queued asynchronous input, if any.
func (s *Server) PollAsyncControl() (ControlAsync, bool) {
	select {
	case m := <-s.intake:
		return m, true
	default:
		return ControlAsync{}, false
	}
}

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	p, ok := s.upgrade(w, r)
	if !ok {
		return
	}
	p.readLoop(func(data []byte) {
		var cmd AdminCommand
		if err := Decode(data, TypeAdminCommand, &cmd); err != nil {
			s.reply(p, AdminReply{Success: false, Message: err.Error()})
			return
		}
		s.adminMu.Lock()
		busy := s.admin.pending
		if !busy {
			s.admin = adminSlot{pending: true, cmd: cmd, from: p}
		}
		s.adminMu.Unlock()
		if busy {
			s.log.Warn().Str("type", string(cmd.Type)).Msg("admin command rejected, another is pending")
			s.reply(p, AdminReply{Success: false, Message: dynamo.ErrCommandPending.Error()})
		}
	})

	s.adminMu.Lock()
	if s.admin.from == p && !s.admin.polled {
		s.admin = adminSlot{}
	}
	s.adminMu.Unlock()
}

func (s *Server) reply(p *peer, r AdminReply) {
	data, err := Encode(TypeAdminReply, r)
	if err != nil {
		s.log.Error().Err(err).Msg("encode admin reply")
		return
	}
	if !p.enqueue(data) {
		s.log.Warn().Msg("admin reply dropped")
	}
}

// PollAdminCommand hands out the pending command once. Further calls
// return nothing until ReplyAdmin answers it.
func (s *Server) PollAdminCommand() (AdminCommand, bool) {
	s.adminMu.Lock()
	defer s.adminMu.Unlock()
	if !s.admin.pending || s.admin.polled {
		return AdminCommand{}, false
	}
	s.admin.polled = true
	return s.admin.cmd, true
}

// ReplyAdmin answers the command last returned by PollAdminCommand.
func (s *Server) ReplyAdmin(r AdminReply) {
	s.adminMu.Lock()
	slot := s.admin
	if slot.polled {
		s.admin = adminSlot{}
	}
	s.adminMu.Unlock()
	if !slot.polled {
		s.log.Warn().Msg("admin reply with no pending command")
		return
	}
	s.reply(slot.from, r)
}
