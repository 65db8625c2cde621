package romaji

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nimf/internal/keysym"
)

type target struct {
	id      uint16
	events  []string
	preedit string
	commits []string
}

func (t *target) ID() uint16        { return t.id }
func (t *target) UsesPreedit() bool { return true }
func (t *target) EmitPreeditStart() { t.events = append(t.events, "start") }
func (t *target) EmitPreeditChanged(text string, _ int) {
	t.preedit = text
	t.events = append(t.events, "changed")
}
func (t *target) EmitPreeditEnd() {
	t.preedit = ""
	t.events = append(t.events, "end")
}
func (t *target) EmitCommit(text string)          { t.commits = append(t.commits, text) }
func (t *target) RetrieveSurrounding() bool       { return false }
func (t *target) DeleteSurrounding(_, _ int) bool { return false }

func press(keyval uint32) *keysym.Event {
	return &keysym.Event{Type: keysym.KeyPress, Keyval: keyval}
}

func typeString(e *Engine, t *target, s string) {
	for _, r := range s {
		e.FilterEvent(t, press(uint32(r)))
	}
}

func TestConversion(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"ka", "か"},
		{"konnnichiha", "こんにちは"},
		{"kitte", "きって"},
		{"shashin", "しゃしん"},
		{"tsukue", "つくえ"},
		{"kyou", "きょう"},
		{"nihon", "にほん"},
		{"sanka", "さんか"},
		{"a-", "あー"},
		{"KA", "か"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			e := New()
			tgt := &target{id: 1}

			typeString(e, tgt, tt.input)
			assert.True(t, e.FilterEvent(tgt, press(keysym.Return)))
			assert.Equal(t, []string{tt.want}, tgt.commits)
		})
	}
}

func TestPreeditLifecycle(t *testing.T) {
	e := New()
	tgt := &target{id: 1}

	assert.True(t, e.FilterEvent(tgt, press('k')))
	assert.Equal(t, "k", tgt.preedit)
	assert.True(t, e.FilterEvent(tgt, press('a')))
	assert.Equal(t, "か", tgt.preedit)

	assert.True(t, e.FilterEvent(tgt, press(keysym.BackSpace)))
	assert.False(t, e.FilterEvent(tgt, press(keysym.BackSpace)))

	assert.Equal(t, []string{"start", "changed", "changed", "end"}, tgt.events)
	assert.Empty(t, tgt.commits)
}

func TestEscapeCancels(t *testing.T) {
	e := New()
	tgt := &target{id: 1}

	typeString(e, tgt, "ka")
	assert.True(t, e.FilterEvent(tgt, press(keysym.Escape)))
	assert.Empty(t, tgt.commits)
	assert.Equal(t, "", e.Pending(tgt))
	assert.False(t, e.FilterEvent(tgt, press(keysym.Escape)))
}

func TestPassThroughWithoutPreedit(t *testing.T) {
	e := New()
	tgt := &target{id: 1}

	assert.False(t, e.FilterEvent(tgt, press(keysym.Return)))
	assert.False(t, e.FilterEvent(tgt, press(keysym.Space)))
	assert.False(t, e.FilterEvent(tgt, &keysym.Event{Type: keysym.KeyRelease, Keyval: 'a'}))
	assert.Empty(t, tgt.events)
}

func TestModifiedKeyFlushes(t *testing.T) {
	e := New()
	tgt := &target{id: 1}

	typeString(e, tgt, "ne")
	consumed := e.FilterEvent(tgt, &keysym.Event{Type: keysym.KeyPress, Keyval: 'c', State: keysym.ControlMask})
	assert.False(t, consumed)
	assert.Equal(t, []string{"ね"}, tgt.commits)
}

func TestResetAllTargets(t *testing.T) {
	e := New()
	a := &target{id: 1}
	b := &target{id: 2}

	typeString(e, a, "a")
	typeString(e, b, "i")
	e.Reset(nil)

	assert.Equal(t, []string{"あ"}, a.commits)
	assert.Equal(t, []string{"い"}, b.commits)

	// A second reset has nothing left to commit.
	e.Reset(nil)
	assert.Len(t, a.commits, 1)
}

func TestFocusOutCommits(t *testing.T) {
	e := New()
	tgt := &target{id: 1}

	typeString(e, tgt, "n")
	e.FocusOut(tgt)
	require.Equal(t, []string{"ん"}, tgt.commits)
	assert.Equal(t, "end", tgt.events[len(tgt.events)-1])
}

func TestReleaseIsSilent(t *testing.T) {
	e := New()
	tgt := &target{id: 1}

	typeString(e, tgt, "ka")
	e.Release(tgt)
	e.Reset(nil)
	assert.Empty(t, tgt.commits)
}

func TestSpaceCommitsOption(t *testing.T) {
	e := New()
	e.spaceCommits = false
	tgt := &target{id: 1}

	typeString(e, tgt, "ka")
	assert.False(t, e.FilterEvent(tgt, press(keysym.Space)))
	assert.Equal(t, []string{"か"}, tgt.commits)
}
