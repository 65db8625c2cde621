package systemkeyboard

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"nimf/internal/engine"
	"nimf/internal/keysym"
)

func TestPassThrough(t *testing.T) {
	e := New()
	assert.Equal(t, ID, e.ID())
	assert.Equal(t, ID, e.IconName())
	assert.False(t, e.FilterEvent(nil, &keysym.Event{Type: keysym.KeyPress, Keyval: 'a'}))
	assert.Contains(t, engine.Registered(), ID)
}
