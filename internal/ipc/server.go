package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"nimf/internal/ic"
	"nimf/internal/idtable"
	"nimf/internal/metrics"
	"nimf/internal/reactor"
)

// ErrUnsupportedTransport is returned by Listen on platforms without
// abstract unix sockets.
var ErrUnsupportedTransport = errors.New("abstract unix sockets are not supported on this platform")

// ServerConfig configures the socket server.
type ServerConfig struct {
	Address         string        // abstract socket name, without the leading '@'
	WriteTimeout    time.Duration // per message
	MaxConnections  int
	AllowOtherUsers bool
}

// DefaultServerConfig returns the defaults used by the daemon.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:        "nimf",
		WriteTimeout:   10 * time.Second,
		MaxConnections: 256,
	}
}

// Server accepts socket clients and dispatches their messages on the
// reactor. The connection table and everything reachable from the hub are
// touched only from reactor tasks; mu guards the set of open sockets used
// at shutdown.
type Server struct {
	cfg     ServerConfig
	hub     *ic.Hub
	loop    *reactor.Loop
	logger  *slog.Logger
	metrics *metrics.Metrics

	listener net.Listener
	conns    *idtable.Table[*Connection]

	mu     sync.Mutex
	open   map[*Connection]struct{}
	active atomic.Int32
	wg     sync.WaitGroup
}

// Connection is one socket client. It implements ic.Sink so engine output
// for its contexts is written straight back to the socket.
type Connection struct {
	id     uint16
	conn   net.Conn
	server *Server

	// Reactor-owned.
	closed bool
	broken bool
}

var _ ic.Sink = (*Connection)(nil)

// NewServer creates a server. Call Listen before running it as a source.
func NewServer(cfg ServerConfig, hub *ic.Hub, loop *reactor.Loop, logger *slog.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultServerConfig().WriteTimeout
	}
	return &Server{
		cfg:     cfg,
		hub:     hub,
		loop:    loop,
		logger:  logger,
		metrics: m,
		conns:   idtable.New[*Connection](),
		open:    make(map[*Connection]struct{}),
	}
}

// Listen binds the abstract socket. Failure here is fatal for the daemon.
func (s *Server) Listen() error {
	ln, err := Listen(s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen on @%s: %w", s.cfg.Address, err)
	}
	s.listener = ln
	s.logger.Info("listening", "address", "@"+s.cfg.Address)
	return nil
}

// Name implements reactor.Source.
func (s *Server) Name() string { return "ipc" }

// Run accepts connections until ctx is cancelled.
func (s *Server) Run(ctx context.Context, _ *reactor.Loop) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	go func() {
		<-ctx.Done()
		s.listener.Close()
		s.closeAll()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}
		s.accept(ctx, conn)
	}
}

func (s *Server) accept(ctx context.Context, conn net.Conn) {
	if !s.cfg.AllowOtherUsers {
		uid, err := peerUID(conn)
		if err != nil {
			s.logger.Warn("rejecting connection: peer credentials unavailable", "error", err)
			conn.Close()
			return
		}
		if uid != os.Getuid() {
			s.logger.Warn("rejecting connection from another user", "uid", uid)
			conn.Close()
			return
		}
	}

	if limit := s.cfg.MaxConnections; limit > 0 && int(s.active.Load()) >= limit {
		s.logger.Warn("rejecting connection: limit reached", "max", limit)
		conn.Close()
		return
	}

	if err := s.Attach(ctx, conn); err != nil {
		s.logger.Warn("attach connection", "error", err)
	}
}

// Attach registers an already established connection and starts reading
// from it. The listener uses it for accepted sockets; tests use it with
// in-memory pipes.
func (s *Server) Attach(ctx context.Context, conn net.Conn) error {
	c := &Connection{conn: conn, server: s}

	var addErr error
	err := s.loop.Call(ctx, func() {
		id, err := s.conns.Add(c)
		if err != nil {
			addErr = err
			return
		}
		c.id = id
		s.hub.AddConnection(id)
	})
	if err == nil {
		err = addErr
	}
	if err != nil {
		conn.Close()
		return fmt.Errorf("register connection: %w", err)
	}

	s.mu.Lock()
	s.open[c] = struct{}{}
	s.mu.Unlock()
	s.active.Add(1)
	s.metrics.ConnectionOpened()
	s.logger.Debug("client connected", "conn", c.id)

	s.wg.Add(1)
	go s.serveConn(ctx, c)
	return nil
}

// serveConn reads one message at a time and waits for the reactor to finish
// it before reading the next, which keeps request/reply strictly ordered.
func (s *Server) serveConn(ctx context.Context, c *Connection) {
	defer s.wg.Done()

	for {
		msg, err := ReadMessage(c.conn)
		if err != nil {
			if errors.Is(err, ErrMalformed) {
				s.logger.Warn("malformed message", "conn", c.id, "error", err)
				s.metrics.MalformedMessage()
				continue
			}
			if !IsDisconnect(err) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("read failed", "conn", c.id, "error", err)
			}
			break
		}

		if err := s.loop.Call(ctx, func() { s.dispatch(c, msg) }); err != nil {
			break
		}
	}

	if !s.loop.Post(func() { s.teardown(c) }) {
		c.conn.Close()
		s.forget(c)
	}
}

// teardown closes the socket, resets every engine, then drops the
// connection's contexts and the connection itself.
func (s *Server) teardown(c *Connection) {
	if c.closed {
		return
	}
	c.closed = true
	c.conn.Close()

	s.hub.ResetAllEngines()
	n := s.hub.RemoveConnection(c.id)
	s.conns.Remove(c.id)
	s.forget(c)

	s.logger.Debug("client disconnected", "conn", c.id, "contexts", n)
}

func (s *Server) forget(c *Connection) {
	s.mu.Lock()
	_, ok := s.open[c]
	delete(s.open, c)
	s.mu.Unlock()
	if ok {
		s.active.Add(-1)
		s.metrics.ConnectionClosed()
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.open {
		c.conn.Close()
	}
}

// ConnectionCount returns the number of open connections.
func (s *Server) ConnectionCount() int {
	return int(s.active.Load())
}

// ID returns the connection id.
func (c *Connection) ID() uint16 { return c.id }

// send writes msg on the reactor goroutine. A failed write closes the
// socket; the reader then sees the error and schedules teardown.
func (c *Connection) send(msg *Message) error {
	if c.closed || c.broken {
		return net.ErrClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.server.cfg.WriteTimeout))
	if err := msg.Write(c.conn); err != nil {
		c.broken = true
		c.conn.Close()
		c.server.logger.Debug("write failed", "conn", c.id, "op", msg.Header.Op.String(), "error", err)
		return err
	}
	return nil
}

func (c *Connection) notify(ctx *ic.Context, op OpCode, payload []byte) bool {
	return c.send(NewMessage(op, ctx.ID(), payload)) == nil
}

func (c *Connection) PreeditStart(ctx *ic.Context) {
	c.notify(ctx, OpPreeditStart, nil)
}

func (c *Connection) PreeditChanged(ctx *ic.Context, text string, cursor int) {
	c.notify(ctx, OpPreeditChanged, EncodePreeditChanged(text, cursor))
}

func (c *Connection) PreeditEnd(ctx *ic.Context) {
	c.notify(ctx, OpPreeditEnd, nil)
}

func (c *Connection) Commit(ctx *ic.Context, text string) {
	c.notify(ctx, OpCommit, EncodeString(text))
}

// RetrieveSurrounding asks the client to push its surrounding text with
// SetSurrounding. The answer arrives as a later request, so this only
// reports whether the request could be sent.
func (c *Connection) RetrieveSurrounding(ctx *ic.Context) bool {
	return c.notify(ctx, OpRetrieveSurrounding, nil)
}

func (c *Connection) DeleteSurrounding(ctx *ic.Context, offset, nChars int) bool {
	return c.notify(ctx, OpDeleteSurrounding, EncodeDeleteSurrounding(offset, nChars))
}

func (c *Connection) EngineChanged(ctx *ic.Context, engineID, iconName string) {
	c.notify(ctx, OpEngineChanged, JoinStrings([]string{engineID, iconName}))
}
