package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"nimf/internal/engine"
	"nimf/internal/keysym"
)

// Common errors
var (
	ErrNotConnected     = errors.New("not connected to server")
	ErrConnectionLost   = errors.New("connection to server lost")
	ErrTimeout          = errors.New("request timeout")
	ErrServerNotRunning = errors.New("server is not running")
)

// ClientConfig configures the client.
type ClientConfig struct {
	Address        string
	RequestTimeout time.Duration
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Address:        DefaultServerConfig().Address,
		RequestTimeout: 5 * time.Second,
	}
}

// Notification is a server-initiated message for one of the client's
// contexts.
type Notification struct {
	Op       OpCode
	ICID     uint16
	Text     string
	Cursor   int
	Offset   int
	NChars   int
	EngineID string
	IconName string
}

// NotificationHandler is called on the client's read goroutine, in the
// order notifications arrive and before the reply of the request that
// caused them.
type NotificationHandler func(n Notification)

// Client speaks the socket protocol. Requests are serialized; the server
// answers them in order.
type Client struct {
	conn    net.Conn
	timeout time.Duration

	reqMu   sync.Mutex
	writeMu sync.Mutex
	replies chan *Message
	acks    chan *Message

	handlerMu sync.RWMutex
	handler   NotificationHandler

	done chan struct{}
	err  error
	wg   sync.WaitGroup
}

// Connect dials the server's abstract socket.
func Connect(cfg ClientConfig) (*Client, error) {
	conn, err := Dial(cfg.Address)
	if err != nil {
		if errors.Is(err, ErrUnsupportedTransport) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrServerNotRunning, err)
	}
	return NewClient(conn, cfg), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, cfg ClientConfig) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultClientConfig().RequestTimeout
	}
	c := &Client{
		conn:    conn,
		timeout: cfg.RequestTimeout,
		replies: make(chan *Message, 1),
		acks:    make(chan *Message, 64),
		done:    make(chan struct{}),
	}
	c.wg.Add(2)
	go c.readLoop()
	go c.ackLoop()
	return c
}

// SetNotificationHandler installs fn for preedit, commit and engine
// notifications.
func (c *Client) SetNotificationHandler(fn NotificationHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handler = fn
}

// Close closes the connection and waits for the reader to exit.
func (c *Client) Close() error {
	err := c.conn.Close()
	c.wg.Wait()
	return err
}

// Done is closed when the connection is lost.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the read error that ended the connection. It is only valid
// after Done is closed.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	defer close(c.done)

	for {
		msg, err := ReadMessage(c.conn)
		if err != nil {
			if errors.Is(err, ErrMalformed) {
				continue
			}
			c.err = err
			return
		}

		if msg.Header.Op.IsReply() {
			select {
			case c.replies <- msg:
			default:
			}
			continue
		}
		c.handleNotification(msg)
	}
}

func (c *Client) handleNotification(msg *Message) {
	n := Notification{Op: msg.Header.Op, ICID: msg.Header.ICID}
	var reply []byte

	switch msg.Header.Op {
	case OpPreeditChanged:
		n.Text, n.Cursor, _ = DecodePreeditChanged(msg.Payload)
	case OpCommit:
		n.Text = DecodeString(msg.Payload)
	case OpRetrieveSurrounding:
		reply = EncodeBool(false)
	case OpDeleteSurrounding:
		n.Offset, n.NChars, _ = DecodeDeleteSurrounding(msg.Payload)
		reply = EncodeBool(false)
	case OpEngineChanged:
		if parts := SplitStrings(msg.Payload); len(parts) > 0 {
			n.EngineID = parts[0]
			if len(parts) > 1 {
				n.IconName = parts[1]
			}
		}
	}

	c.handlerMu.RLock()
	handler := c.handler
	c.handlerMu.RUnlock()
	if handler != nil {
		handler(n)
	}

	select {
	case c.acks <- NewMessage(msg.Header.Op.Reply(), msg.Header.ICID, reply):
	default:
	}
}

// ackLoop writes notification replies so the read goroutine never blocks
// on a write.
func (c *Client) ackLoop() {
	defer c.wg.Done()
	for {
		select {
		case msg := <-c.acks:
			if err := c.write(msg); err != nil {
				c.conn.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) write(msg *Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	return msg.Write(c.conn)
}

// Call sends a request and waits for its reply.
func (c *Client) Call(ctx context.Context, op OpCode, icid uint16, payload []byte) (*Message, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	select {
	case <-c.done:
		return nil, fmt.Errorf("%w: %v", ErrConnectionLost, c.err)
	default:
	}

	if err := c.write(NewMessage(op, icid, payload)); err != nil {
		return nil, fmt.Errorf("send %s: %w", op, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	for {
		select {
		case reply := <-c.replies:
			if reply.Header.Op != op.Reply() {
				continue
			}
			return reply, nil
		case <-c.done:
			return nil, ErrConnectionLost
		case <-timer.C:
			return nil, fmt.Errorf("%w: %s", ErrTimeout, op)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// CreateContext creates a context and returns its id.
func (c *Client) CreateContext(ctx context.Context, kind ContextKind) (uint16, error) {
	reply, err := c.Call(ctx, OpCreateContext, 0, EncodeKind(kind))
	if err != nil {
		return 0, err
	}
	if reply.Header.ICID == 0 {
		return 0, errors.New("server could not allocate a context")
	}
	return reply.Header.ICID, nil
}

// DestroyContext removes a context.
func (c *Client) DestroyContext(ctx context.Context, icid uint16) error {
	_, err := c.Call(ctx, OpDestroyContext, icid, nil)
	return err
}

// FilterEvent sends a key event and reports whether the engine consumed it.
func (c *Client) FilterEvent(ctx context.Context, icid uint16, ev *keysym.Event) (bool, error) {
	reply, err := c.Call(ctx, OpFilterEvent, icid, EncodeEvent(ev))
	if err != nil {
		return false, err
	}
	return DecodeBool(reply.Payload)
}

func (c *Client) Reset(ctx context.Context, icid uint16) error {
	_, err := c.Call(ctx, OpReset, icid, nil)
	return err
}

func (c *Client) FocusIn(ctx context.Context, icid uint16) error {
	_, err := c.Call(ctx, OpFocusIn, icid, nil)
	return err
}

func (c *Client) FocusOut(ctx context.Context, icid uint16) error {
	_, err := c.Call(ctx, OpFocusOut, icid, nil)
	return err
}

func (c *Client) SetSurrounding(ctx context.Context, icid uint16, text string, cursor int) error {
	_, err := c.Call(ctx, OpSetSurrounding, icid, EncodeSetSurrounding(text, cursor))
	return err
}

func (c *Client) GetSurrounding(ctx context.Context, icid uint16) (string, int, bool, error) {
	reply, err := c.Call(ctx, OpGetSurrounding, icid, nil)
	if err != nil {
		return "", 0, false, err
	}
	return DecodeSurrounding(reply.Payload)
}

func (c *Client) SetCursorLocation(ctx context.Context, icid uint16, area engine.Rect) error {
	_, err := c.Call(ctx, OpSetCursorLocation, icid, EncodeRect(area))
	return err
}

func (c *Client) SetUsePreedit(ctx context.Context, icid uint16, use bool) error {
	_, err := c.Call(ctx, OpSetUsePreedit, icid, EncodeBool(use))
	return err
}

// LoadedEngineIDs lists the server's engines in load order.
func (c *Client) LoadedEngineIDs(ctx context.Context) ([]string, error) {
	reply, err := c.Call(ctx, OpGetLoadedEngineIDs, 0, nil)
	if err != nil {
		return nil, err
	}
	return SplitStrings(reply.Payload), nil
}

// SetEngineByID switches every context on the server to id.
func (c *Client) SetEngineByID(ctx context.Context, id string) error {
	_, err := c.Call(ctx, OpSetEngineByID, 0, EncodeString(id))
	return err
}
