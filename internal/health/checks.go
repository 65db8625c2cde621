package health

import (
	"context"
	"time"

	"nimf/internal/reactor"
)

// Func turns a plain error-returning probe into a Check.
func Func(fn func(ctx context.Context) error) Check {
	return func(ctx context.Context) CheckResult {
		if err := fn(ctx); err != nil {
			return CheckResult{Status: StatusUnhealthy, Message: "check failed", Error: err.Error()}
		}
		return CheckResult{Status: StatusHealthy}
	}
}

// ReactorCheck measures how long the loop takes to run an empty task. A loop
// slower than slow is degraded; one that does not answer is unhealthy.
func ReactorCheck(loop *reactor.Loop, slow time.Duration) Check {
	return func(ctx context.Context) CheckResult {
		start := time.Now()
		if err := loop.Call(ctx, func() {}); err != nil {
			return CheckResult{Status: StatusUnhealthy, Message: "reactor not responding", Error: err.Error()}
		}
		latency := time.Since(start)
		result := CheckResult{
			Status:  StatusHealthy,
			Details: map[string]any{"latency": latency.String()},
		}
		if latency > slow {
			result.Status = StatusDegraded
			result.Message = "reactor is slow"
		}
		return result
	}
}

// OnLoop runs probe on the reactor so it may read reactor-owned state. The
// probe reports its result like a normal check.
func OnLoop(loop *reactor.Loop, probe func() CheckResult) Check {
	return func(ctx context.Context) CheckResult {
		var result CheckResult
		if err := loop.Call(ctx, func() { result = probe() }); err != nil {
			return CheckResult{Status: StatusUnhealthy, Message: "reactor not responding", Error: err.Error()}
		}
		return result
	}
}

// Static reports a fixed result, for components whose state is decided at
// startup such as an optional bridge that could not be opened.
func Static(status Status, message string) Check {
	return func(context.Context) CheckResult {
		return CheckResult{Status: status, Message: message}
	}
}
