package dbusctl

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// Client calls org.nimf.Server on the session bus.
type Client struct {
	conn *dbus.Conn
	obj  dbus.BusObject
}

// Dial connects to the session bus.
func Dial() (*Client, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return &Client{conn: conn, obj: conn.Object(BusName, ObjectPath)}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

// LoadedEngines returns the ids of the engines the server loaded.
func (c *Client) LoadedEngines(ctx context.Context) ([]string, error) {
	var ids []string
	if err := c.obj.CallWithContext(ctx, Interface+".GetLoadedEngineIds", 0).Store(&ids); err != nil {
		return nil, fmt.Errorf("GetLoadedEngineIds: %w", err)
	}
	return ids, nil
}

// SetEngine switches every context to id.
func (c *Client) SetEngine(ctx context.Context, id string) error {
	if err := c.obj.CallWithContext(ctx, Interface+".SetEngineById", 0, id).Err; err != nil {
		return fmt.Errorf("SetEngineById %s: %w", id, err)
	}
	return nil
}

// WatchEngineChanged calls fn for every EngineChanged signal until ctx is
// done.
func (c *Client) WatchEngineChanged(ctx context.Context, fn func(engineID string)) error {
	opts := []dbus.MatchOption{
		dbus.WithMatchObjectPath(ObjectPath),
		dbus.WithMatchInterface(Interface),
		dbus.WithMatchMember("EngineChanged"),
	}
	if err := c.conn.AddMatchSignalContext(ctx, opts...); err != nil {
		return fmt.Errorf("add signal match: %w", err)
	}
	defer c.conn.RemoveMatchSignal(opts...)

	ch := make(chan *dbus.Signal, 16)
	c.conn.Signal(ch)
	defer c.conn.RemoveSignal(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-ch:
			if !ok {
				return fmt.Errorf("bus connection closed")
			}
			if sig.Name != EngineChangedSignal || len(sig.Body) == 0 {
				continue
			}
			if id, ok := sig.Body[0].(string); ok {
				fn(id)
			}
		}
	}
}
