package reactor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Serve runs the loop and every source until ctx is cancelled or one of
// them fails. A source returning nil simply finishes; the rest keep going.
func Serve(ctx context.Context, l *Loop, sources ...Source) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.Run(ctx) })
	for _, s := range sources {
		g.Go(func() error {
			err := s.Run(ctx, l)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s: %w", s.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Optional wraps a source whose failure must not stop the server. An error
// from it is handed to onFail and the wrapper then finishes like a source
// that returned nil. Cancellation is not a failure.
func Optional(src Source, onFail func(name string, err error)) Source {
	return SourceFunc{
		SourceName: src.Name(),
		Fn: func(ctx context.Context, loop *Loop) error {
			err := src.Run(ctx, loop)
			if err != nil && !errors.Is(err, context.Canceled) && onFail != nil {
				onFail(src.Name(), err)
			}
			return nil
		},
	}
}

// SourceFunc adapts a function to Source.
type SourceFunc struct {
	SourceName string
	Fn         func(ctx context.Context, loop *Loop) error
}

func (s SourceFunc) Name() string { return s.SourceName }

func (s SourceFunc) Run(ctx context.Context, loop *Loop) error {
	return s.Fn(ctx, loop)
}

// Every returns a source that posts fn to the loop at each interval.
func Every(name string, interval time.Duration, fn func()) Source {
	return SourceFunc{
		SourceName: name,
		Fn: func(ctx context.Context, loop *Loop) error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					loop.Post(fn)
				}
			}
		},
	}
}
