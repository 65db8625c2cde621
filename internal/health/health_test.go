package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nimf/internal/reactor"
)

func TestOverallStatus(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("reactor", true, Static(StatusHealthy, ""))
	c.RegisterFunc("xim", false, Static(StatusHealthy, ""))

	assert.Equal(t, StatusUnknown, c.OverallStatus())
	c.Check(context.Background())
	assert.Equal(t, StatusHealthy, c.OverallStatus())

	c.RegisterFunc("xim", false, Static(StatusUnhealthy, "no display"))
	c.Check(context.Background())
	assert.Equal(t, StatusDegraded, c.OverallStatus())

	c.RegisterFunc("reactor", true, Func(func(context.Context) error { return errors.New("stuck") }))
	results := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, c.OverallStatus())
	assert.Equal(t, "stuck", results["reactor"].Error)
	assert.Equal(t, []string{"reactor", "xim"}, c.Names())
}

func TestCheckTimeoutAndPanic(t *testing.T) {
	c := NewChecker()
	c.Register(&Component{
		Name:    "slow",
		Timeout: 20 * time.Millisecond,
		Check: func(ctx context.Context) CheckResult {
			<-ctx.Done()
			time.Sleep(50 * time.Millisecond)
			return CheckResult{Status: StatusHealthy}
		},
	})
	c.RegisterFunc("broken", false, func(context.Context) CheckResult { panic("boom") })

	results := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, results["slow"].Status)
	assert.Equal(t, "check timed out", results["slow"].Message)
	assert.Equal(t, StatusUnhealthy, results["broken"].Status)
	assert.Equal(t, "boom", results["broken"].Error)

	r, ok := c.Result("broken")
	require.True(t, ok)
	assert.False(t, r.LastChecked.IsZero())
}

func TestReactorChecks(t *testing.T) {
	loop := reactor.New(8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)

	engines := 0
	c := NewChecker()
	c.RegisterFunc("reactor", true, ReactorCheck(loop, time.Second))
	c.RegisterFunc("engines", true, OnLoop(loop, func() CheckResult {
		if engines == 0 {
			return CheckResult{Status: StatusUnhealthy}
		}
		return CheckResult{Status: StatusHealthy}
	}))

	results := c.Check(context.Background())
	assert.Equal(t, StatusHealthy, results["reactor"].Status)
	assert.Contains(t, results["reactor"].Details, "latency")
	assert.Equal(t, StatusUnhealthy, results["engines"].Status)

	require.NoError(t, loop.Call(context.Background(), func() { engines = 2 }))
	results = c.Check(context.Background())
	assert.Equal(t, StatusHealthy, results["engines"].Status)

	cancel()
	<-loop.Stopped()
	results = c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, results["reactor"].Status)
	assert.Equal(t, reactor.ErrStopped.Error(), results["reactor"].Error)
}

func get(t *testing.T, mux *http.ServeMux, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandlers(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("engines", true, Static(StatusHealthy, ""))
	c.RegisterFunc("dbus", false, Static(StatusDegraded, "no session bus"))
	mux := http.NewServeMux()
	c.Routes(mux)

	assert.Equal(t, http.StatusOK, get(t, mux, "/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, mux, "/readyz").Code)

	c.SetReady(true)
	assert.Equal(t, http.StatusOK, get(t, mux, "/readyz").Code)

	rec := get(t, mux, "/health?full=true")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.True(t, resp.Ready)
	assert.Equal(t, "no session bus", resp.Components["dbus"].Message)

	rec = get(t, mux, "/health")
	resp = Response{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Components)

	c.RegisterFunc("engines", true, Static(StatusUnhealthy, "no engine loaded"))
	assert.Equal(t, http.StatusServiceUnavailable, get(t, mux, "/readyz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, mux, "/health").Code)
}
