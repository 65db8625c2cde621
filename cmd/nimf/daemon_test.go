package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nimf/internal/config"
	"nimf/internal/dbusctl"
	"nimf/internal/health"
	"nimf/internal/ipc"
	"nimf/internal/reactor"
)

func TestEngineIDsAlwaysIncludeSystemKeyboard(t *testing.T) {
	cfg := &config.Config{Engines: []config.EngineConfig{
		{ID: "nimf-romaji", Active: true},
		{ID: "nimf-anthy", Active: false},
	}}
	assert.Equal(t, []string{"nimf-romaji", "nimf-system-keyboard"}, engineIDs(cfg))

	cfg.Engines = append(cfg.Engines, config.EngineConfig{ID: "nimf-system-keyboard", Active: true})
	assert.Equal(t, []string{"nimf-romaji", "nimf-system-keyboard"}, engineIDs(cfg))

	assert.Equal(t, []string{"nimf-system-keyboard"}, engineIDs(&config.Config{}))
}

// newTestDaemon builds a daemon on a private socket address with XIM and the
// session bus turned off.
func newTestDaemon(t *testing.T, metricsAddr string) (*daemon, string) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("abstract unix sockets are Linux only")
	}
	dir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))

	address := fmt.Sprintf("nimf-test-%d-%d", os.Getpid(), time.Now().UnixNano())
	doc := fmt.Sprintf(`[server]
address = %q
xim = false

[metrics]
enabled = true
address = %q

[dbus]
enabled = false

[settings]
database = %q

[logging]
level = "error"
output = "stderr"
`, address, metricsAddr, filepath.Join(dir, "settings.db"))
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0600))

	d, err := newDaemon(path, false)
	require.NoError(t, err)
	return d, address
}

func startDaemon(t *testing.T, d *daemon) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
		d.close()
	})
}

// requireServing waits until a socket client can list the loaded engines.
func requireServing(t *testing.T, address string) {
	t.Helper()
	cfg := ipc.DefaultClientConfig()
	cfg.Address = address

	var ids []string
	require.Eventually(t, func() bool {
		client, err := ipc.Connect(cfg)
		if err != nil {
			return false
		}
		defer client.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		ids, err = client.LoadedEngineIDs(ctx)
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)
	assert.Contains(t, ids, "nimf-system-keyboard")
	assert.Contains(t, ids, "nimf-romaji")
}

func TestBusyMetricsAddressKeepsSocketServing(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	d, address := newTestDaemon(t, busy.Addr().String())
	startDaemon(t, d)

	// Outlive any source that might fail right after start.
	time.Sleep(100 * time.Millisecond)
	requireServing(t, address)
}

func TestFailingOptionalSourceKeepsSocketServing(t *testing.T) {
	d, address := newTestDaemon(t, "127.0.0.1:0")
	failed := make(chan struct{})
	d.sources = append(d.sources, d.optional(reactor.SourceFunc{
		SourceName: "dbus",
		Fn: func(context.Context, *reactor.Loop) error {
			defer close(failed)
			return fmt.Errorf("%s: %w", dbusctl.BusName, dbusctl.ErrNameTaken)
		},
	}, "dbus"))
	startDaemon(t, d)

	select {
	case <-failed:
	case <-time.After(2 * time.Second):
		t.Fatal("failing source never ran")
	}
	requireServing(t, address)

	require.Eventually(t, func() bool {
		d.health.Check(context.Background())
		r, ok := d.health.Result("dbus")
		return ok && r.Status == health.StatusDegraded
	}, 2*time.Second, 20*time.Millisecond)
	r, _ := d.health.Result("dbus")
	assert.Contains(t, r.Message, "bus name already owned")
}
