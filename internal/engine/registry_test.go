package engine

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nimf/internal/keysym"
)

type fakeEngine struct {
	id     string
	resets int
}

func (e *fakeEngine) ID() string                             { return e.id }
func (e *fakeEngine) IconName() string                       { return e.id + "-icon" }
func (e *fakeEngine) FilterEvent(Target, *keysym.Event) bool { return false }
func (e *fakeEngine) Reset(Target)                           { e.resets++ }
func (e *fakeEngine) FocusIn(Target)                         {}
func (e *fakeEngine) FocusOut(Target)                        {}

type fakeSettings struct {
	current  string
	fallback string
	resets   int
	err      error
}

func (s *fakeSettings) DefaultEngineID() string { return s.current }

func (s *fakeSettings) ResetDefaultEngine() error {
	s.resets++
	if s.err != nil {
		return s.err
	}
	s.current = s.fallback
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(settings Settings, ids ...string) *Registry {
	r := NewRegistry(settings, quietLogger())
	for _, id := range ids {
		r.Add(&fakeEngine{id: id})
	}
	return r
}

func TestNextIsCyclic(t *testing.T) {
	r := newTestRegistry(nil, "A", "B", "C")
	b, _ := r.Instance("B")
	c, _ := r.Instance("C")

	next, err := r.Next(b)
	require.NoError(t, err)
	assert.Equal(t, "C", next.ID())

	next, err = r.Next(c)
	require.NoError(t, err)
	assert.Equal(t, "A", next.ID())
}

func TestNextUnknownCurrent(t *testing.T) {
	r := newTestRegistry(nil, "A", "B")

	_, err := r.Next(&fakeEngine{id: "gone"})
	assert.ErrorIs(t, err, ErrEngineNotLoaded)

	_, err = r.Next(nil)
	assert.ErrorIs(t, err, ErrEngineNotLoaded)
}

func TestDefaultEngine(t *testing.T) {
	t.Run("configured id loaded", func(t *testing.T) {
		s := &fakeSettings{current: "B", fallback: "A"}
		r := newTestRegistry(s, "A", "B")

		e, err := r.Default()
		require.NoError(t, err)
		assert.Equal(t, "B", e.ID())
		assert.Equal(t, 0, s.resets)
	})

	t.Run("reset and retry succeeds", func(t *testing.T) {
		s := &fakeSettings{current: "missing", fallback: "A"}
		r := newTestRegistry(s, "A", "B")

		e, err := r.Default()
		require.NoError(t, err)
		assert.Equal(t, "A", e.ID())
		assert.Equal(t, 1, s.resets)
	})

	t.Run("reset and retry still missing", func(t *testing.T) {
		s := &fakeSettings{current: "missing", fallback: "also-missing"}
		r := newTestRegistry(s, "A")

		e, err := r.Default()
		assert.Nil(t, e)
		assert.ErrorIs(t, err, ErrNoDefaultEngine)
		assert.Equal(t, 1, s.resets)
	})

	t.Run("reset fails", func(t *testing.T) {
		s := &fakeSettings{current: "missing", err: errors.New("read-only")}
		r := newTestRegistry(s, "A")

		_, err := r.Default()
		assert.ErrorIs(t, err, ErrNoDefaultEngine)
		assert.Equal(t, 1, s.resets)
	})
}

func TestLoadSkipsFailures(t *testing.T) {
	Register("test-load-ok", func(Host) (Engine, error) { return &fakeEngine{id: "test-load-ok"}, nil })
	Register("test-load-fail", func(Host) (Engine, error) { return nil, errors.New("no dictionary") })
	Register("test-load-wrong-id", func(Host) (Engine, error) { return &fakeEngine{id: "other"}, nil })

	r := NewRegistry(nil, quietLogger())
	err := r.Load([]string{"test-load-fail", "test-load-ok", "not-registered", "test-load-wrong-id", "test-load-ok"}, nil)

	assert.ErrorIs(t, err, ErrEngineLoad)
	assert.Equal(t, []string{"test-load-ok"}, r.IDs())
	assert.Contains(t, Registered(), "test-load-ok")
}

func TestRegisterDuplicatePanics(t *testing.T) {
	Register("test-dup", func(Host) (Engine, error) { return &fakeEngine{id: "test-dup"}, nil })
	assert.Panics(t, func() {
		Register("test-dup", func(Host) (Engine, error) { return nil, nil })
	})
}

func TestTriggerKeys(t *testing.T) {
	r := newTestRegistry(nil, "A", "B")

	r.SetTriggerKeys(map[string][]string{
		"A":       {"<Shift>space"},
		"B":       {"Hangul", "not a key"},
		"missing": {"F1"},
	})

	e, ok := r.MatchTrigger(&keysym.Event{Type: keysym.KeyPress, Keyval: keysym.Hangul})
	require.True(t, ok)
	assert.Equal(t, "B", e.ID())

	e, ok = r.MatchTrigger(&keysym.Event{Type: keysym.KeyPress, Keyval: keysym.Space, State: keysym.ShiftMask})
	require.True(t, ok)
	assert.Equal(t, "A", e.ID())

	_, ok = r.MatchTrigger(&keysym.Event{Type: keysym.KeyPress, Keyval: keysym.F1})
	assert.False(t, ok)

	// Rebuilding replaces the table wholesale.
	r.SetTriggerKeys(map[string][]string{"A": {"F2"}})
	_, ok = r.MatchTrigger(&keysym.Event{Type: keysym.KeyPress, Keyval: keysym.Hangul})
	assert.False(t, ok)
	assert.Nil(t, r.TriggerKeys("B"))
	assert.Equal(t, []keysym.Key{{Keyval: keysym.F1 + 1}}, r.TriggerKeys("A"))
}

func TestHotkeys(t *testing.T) {
	r := newTestRegistry(nil, "A")
	r.SetHotkeys([]string{"<Control>space", "<Super>space"})

	assert.True(t, r.IsHotkey(&keysym.Event{Type: keysym.KeyPress, Keyval: keysym.Space, State: keysym.ControlMask}))
	assert.False(t, r.IsHotkey(&keysym.Event{Type: keysym.KeyRelease, Keyval: keysym.Space, State: keysym.ControlMask}))
	assert.Len(t, r.Hotkeys(), 2)
}

func TestResetAll(t *testing.T) {
	r := newTestRegistry(nil, "A", "B")
	r.ResetAll()
	for _, e := range r.Engines() {
		assert.Equal(t, 1, e.(*fakeEngine).resets)
	}
}
