package store

import (
	"log/slog"
	"sync"

	"nimf/internal/config"
	"nimf/internal/engine"
)

// Setting keys.
const (
	KeyDefaultEngine = "default-engine"
)

// BuiltinDefaultEngine is what the default engine falls back to once both
// the stored override and the configured default have failed.
const BuiltinDefaultEngine = "nimf-system-keyboard"

// Settings layers the store's overrides over the configuration file. It
// implements engine.Settings and engine.Host.
//
// The default-engine override is cached so DefaultEngineID never touches
// the database; Refresh picks up writes made by other processes.
type Settings struct {
	store  *Store
	logger *slog.Logger

	mu             sync.Mutex
	cfg            *config.Config
	configRejected bool
	override       string
}

var (
	_ engine.Settings = (*Settings)(nil)
	_ engine.Host     = (*Settings)(nil)
)

// NewSettings returns settings backed by s with cfg as the fallback. A nil
// store means file settings only.
func NewSettings(s *Store, cfg *config.Config, logger *slog.Logger) *Settings {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	settings := &Settings{store: s, cfg: cfg, logger: logger}
	if err := settings.Refresh(); err != nil {
		logger.Warn("read default engine", "error", err)
	}
	return settings
}

// Refresh re-reads the stored override. It queries the database and must
// not run on the reactor.
func (s *Settings) Refresh() error {
	if s.store == nil {
		return nil
	}
	v, _, err := s.store.Get(KeyDefaultEngine)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.override = v
	return nil
}

// SetConfig replaces the fallback configuration after a reload.
func (s *Settings) SetConfig(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.Server.DefaultEngine != s.cfg.Server.DefaultEngine {
		s.configRejected = false
	}
	s.cfg = cfg
}

// DefaultEngineID returns the stored override, else the configured
// default, else BuiltinDefaultEngine.
func (s *Settings) DefaultEngineID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.override != "" {
		return s.override
	}
	if s.configRejected || s.cfg.Server.DefaultEngine == "" {
		return BuiltinDefaultEngine
	}
	return s.cfg.Server.DefaultEngine
}

// SetDefaultEngine stores an override.
func (s *Settings) SetDefaultEngine(id string) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.Set(KeyDefaultEngine, id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.override = id
	return nil
}

// ResetDefaultEngine drops the stored override. When there was none, the
// configured default is the one that failed, so later lookups use
// BuiltinDefaultEngine instead. Only dropping an override touches the
// database.
func (s *Settings) ResetDefaultEngine() error {
	s.mu.Lock()
	had := s.override != ""
	s.override = ""
	if !had {
		s.configRejected = true
	}
	s.mu.Unlock()

	if had && s.store != nil {
		if _, err := s.store.Delete(KeyDefaultEngine); err != nil {
			return err
		}
	}
	return nil
}

// EngineOption returns the stored override, else the value from the file.
func (s *Settings) EngineOption(engineID, key string) (string, bool) {
	if s.store != nil {
		v, ok, err := s.store.EngineOption(engineID, key)
		if err != nil {
			s.logger.Warn("read engine option", "engine", engineID, "key", key, "error", err)
		} else if ok {
			return v, true
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.EngineOption(engineID, key)
}
