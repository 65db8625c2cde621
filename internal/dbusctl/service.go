// Package dbusctl exposes engine control on the session bus as
// org.nimf.Server and provides the matching client used by nimfctl.
package dbusctl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"nimf/internal/engine"
	"nimf/internal/ic"
	"nimf/internal/reactor"
)

// Bus names.
const (
	BusName    = "org.nimf.Server"
	ObjectPath = dbus.ObjectPath("/org/nimf/Server")
	Interface  = "org.nimf.Server"

	EngineChangedSignal = Interface + ".EngineChanged"

	errUnknownEngine = "org.nimf.Error.UnknownEngine"
)

// ErrNameTaken is returned by Run when another process owns BusName.
var ErrNameTaken = errors.New("bus name already owned")

const callTimeout = 5 * time.Second

// emitter is the part of *dbus.Conn used for signals.
type emitter interface {
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
}

// Service is the reactor.Source serving org.nimf.Server. It also observes
// the hub so engine switches become EngineChanged signals.
type Service struct {
	hub    *ic.Hub
	conn   *dbus.Conn
	emit   emitter
	logger *slog.Logger
	loop   *reactor.Loop
	closed atomic.Bool
}

var _ ic.Observer = (*Service)(nil)

// Open connects to the session bus. Nothing is exported until Run.
func Open(hub *ic.Hub, logger *slog.Logger) (*Service, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	s := newService(hub, logger)
	s.conn = conn
	s.emit = conn
	return s, nil
}

func newService(hub *ic.Hub, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{hub: hub, logger: logger}
}

func (s *Service) Name() string { return "dbus" }

// Run exports the object, claims the bus name and waits for ctx.
func (s *Service) Run(ctx context.Context, loop *reactor.Loop) error {
	s.loop = loop
	defer func() {
		s.closed.Store(true)
		s.conn.Close()
	}()

	obj := &server{s: s}
	if err := s.conn.Export(obj, ObjectPath, Interface); err != nil {
		return fmt.Errorf("export %s: %w", Interface, err)
	}
	node := &introspect.Node{
		Name: string(ObjectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name:    Interface,
				Methods: introspect.Methods(obj),
				Signals: []introspect.Signal{{
					Name: "EngineChanged",
					Args: []introspect.Arg{{Name: "engine_id", Type: "s"}},
				}},
			},
		},
	}
	if err := s.conn.Export(introspect.NewIntrospectable(node), ObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("export introspection: %w", err)
	}

	reply, err := s.conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("request %s: %w", BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("%s: %w", BusName, ErrNameTaken)
	}
	s.logger.Info("bus name acquired", "name", BusName)

	<-ctx.Done()
	if _, err := s.conn.ReleaseName(BusName); err != nil {
		s.logger.Debug("release bus name", "error", err)
	}
	return nil
}

func (s *Service) ContextCreated(ic.Kind)   {}
func (s *Service) ContextDestroyed(ic.Kind) {}

// EngineSwitched emits EngineChanged. It runs on the reactor.
func (s *Service) EngineSwitched(engineID string) {
	if s.emit == nil || s.closed.Load() {
		return
	}
	if err := s.emit.Emit(ObjectPath, EngineChangedSignal, engineID); err != nil {
		s.logger.Warn("emit EngineChanged", "engine", engineID, "error", err)
	}
}

// call runs fn on the reactor. Bus methods arrive on godbus goroutines.
func (s *Service) call(fn func()) error {
	if s.loop == nil {
		return reactor.ErrStopped
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return s.loop.Call(ctx, fn)
}

// server holds the exported methods; godbus exports every method of the
// value it is given.
type server struct {
	s *Service
}

// GetLoadedEngineIds returns the loaded engines in load order.
func (o *server) GetLoadedEngineIds() ([]string, *dbus.Error) {
	var ids []string
	if err := o.s.call(func() { ids = o.s.hub.Engines().IDs() }); err != nil {
		return nil, dbus.MakeFailedError(err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// SetEngineById binds every context to the engine.
func (o *server) SetEngineById(id string) *dbus.Error {
	var setErr error
	if err := o.s.call(func() { setErr = o.s.hub.SetEngineByID(id) }); err != nil {
		return dbus.MakeFailedError(err)
	}
	if errors.Is(setErr, engine.ErrUnknownEngine) {
		return dbus.NewError(errUnknownEngine, []interface{}{setErr.Error()})
	}
	if setErr != nil {
		return dbus.MakeFailedError(setErr)
	}
	o.s.logger.Info("engine set over bus", "engine", id)
	return nil
}
