package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"nimf/internal/config"
	"nimf/internal/engine"
)

func TestKnownEngine(t *testing.T) {
	cfg := &config.Config{Engines: []config.EngineConfig{{ID: "nimf-romaji"}}}
	assert.True(t, knownEngine(cfg, "nimf-romaji"))
	assert.True(t, knownEngine(cfg, "nimf-system-keyboard"))
	assert.False(t, knownEngine(cfg, "nimf-libhangul"))
}

func TestCheckLoadedRejectsUnknownEngine(t *testing.T) {
	ids := []string{"nimf-system-keyboard", "nimf-romaji"}
	assert.NoError(t, checkLoaded(ids, "nimf-romaji"))

	err := checkLoaded(ids, "nimf-libhangul")
	assert.ErrorIs(t, err, engine.ErrUnknownEngine)
	assert.Contains(t, err.Error(), "nimf-libhangul")
}
