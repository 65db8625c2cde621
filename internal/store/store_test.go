package store

import (
	"context"
	"path/filepath"
	"testing"

	"nimf/internal/config"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "settings.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesDirectoryAndMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subdir", "nested", "settings.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	v, err := SchemaVersion(s.db)
	if err != nil {
		t.Fatal(err)
	}
	if v != LatestVersion() {
		t.Errorf("expected schema version %d, got %d", LatestVersion(), v)
	}

	// Reopening is a no-op migration.
	s.Close()
	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	s.Close()
}

func TestPing(t *testing.T) {
	s := openTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping on open store: %v", err)
	}
	s.Close()
	if err := s.Ping(context.Background()); err == nil {
		t.Error("Ping on closed store should fail")
	}
}

func TestCloseNilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close on nil db should not error: %v", err)
	}
}

func TestSettingsCRUD(t *testing.T) {
	s := openTestStore(t)

	if _, ok, err := s.Get("missing"); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}

	if err := s.Set("default-engine", "nimf-romaji"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("default-engine", "nimf-anthy"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := s.Get("default-engine")
	if err != nil || !ok || v != "nimf-anthy" {
		t.Errorf("expected overwritten value, got %q %v %v", v, ok, err)
	}

	all, err := s.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("expected 1 setting, got %v", all)
	}

	existed, err := s.Delete("default-engine")
	if err != nil || !existed {
		t.Errorf("expected delete of existing key, got %v %v", existed, err)
	}
	existed, err = s.Delete("default-engine")
	if err != nil || existed {
		t.Errorf("expected second delete to find nothing, got %v %v", existed, err)
	}
}

func TestEngineOptions(t *testing.T) {
	s := openTestStore(t)

	if err := s.SetEngineOption("nimf-romaji", "space_commits", "false"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetEngineOption("nimf-romaji", "other", "1"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetEngineOption("nimf-anthy", "space_commits", "true"); err != nil {
		t.Fatal(err)
	}

	opts, err := s.EngineOptions("nimf-romaji")
	if err != nil {
		t.Fatal(err)
	}
	if len(opts) != 2 || opts["space_commits"] != "false" {
		t.Errorf("unexpected options: %v", opts)
	}

	if err := s.DeleteEngineOption("nimf-romaji", "space_commits"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.EngineOption("nimf-romaji", "space_commits"); ok {
		t.Error("option should be gone")
	}
	if v, ok, _ := s.EngineOption("nimf-anthy", "space_commits"); !ok || v != "true" {
		t.Error("other engine's option should be untouched")
	}
}

func TestSettingsDefaultEngineFallbacks(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.DefaultEngine = "nimf-romaji"

	s := NewSettings(openTestStore(t), cfg, nil)
	if got := s.DefaultEngineID(); got != "nimf-romaji" {
		t.Fatalf("expected configured default, got %s", got)
	}

	if err := s.SetDefaultEngine("nimf-anthy"); err != nil {
		t.Fatal(err)
	}
	if got := s.DefaultEngineID(); got != "nimf-anthy" {
		t.Fatalf("expected stored override, got %s", got)
	}

	// First reset drops the override.
	if err := s.ResetDefaultEngine(); err != nil {
		t.Fatal(err)
	}
	if got := s.DefaultEngineID(); got != "nimf-romaji" {
		t.Fatalf("expected configured default after reset, got %s", got)
	}

	// Second reset gives up on the configured default.
	if err := s.ResetDefaultEngine(); err != nil {
		t.Fatal(err)
	}
	if got := s.DefaultEngineID(); got != BuiltinDefaultEngine {
		t.Fatalf("expected builtin default, got %s", got)
	}

	// A reload with a different default tries it again.
	next := cfg.Clone()
	next.Server.DefaultEngine = "nimf-system-keyboard"
	s.SetConfig(next)
	if got := s.DefaultEngineID(); got != "nimf-system-keyboard" {
		t.Fatalf("expected reloaded default, got %s", got)
	}
}

func TestSettingsDefaultEngineIsCached(t *testing.T) {
	st := openTestStore(t)
	if err := st.Set(KeyDefaultEngine, "nimf-anthy"); err != nil {
		t.Fatal(err)
	}
	s := NewSettings(st, config.DefaultConfig(), nil)
	if got := s.DefaultEngineID(); got != "nimf-anthy" {
		t.Fatalf("expected override loaded at start, got %s", got)
	}

	// A write from another process is seen only after Refresh.
	if err := st.Set(KeyDefaultEngine, "nimf-romaji"); err != nil {
		t.Fatal(err)
	}
	if got := s.DefaultEngineID(); got != "nimf-anthy" {
		t.Fatalf("expected cached override, got %s", got)
	}
	if err := s.Refresh(); err != nil {
		t.Fatal(err)
	}
	if got := s.DefaultEngineID(); got != "nimf-romaji" {
		t.Fatalf("expected refreshed override, got %s", got)
	}

	// Lookups keep working from the cache once the database is gone.
	st.Close()
	if got := s.DefaultEngineID(); got != "nimf-romaji" {
		t.Fatalf("expected cached override after close, got %s", got)
	}
	if err := s.Refresh(); err == nil {
		t.Error("Refresh on closed store should fail")
	}
}

func TestSettingsWithoutStore(t *testing.T) {
	s := NewSettings(nil, nil, nil)
	if got := s.DefaultEngineID(); got != "nimf-system-keyboard" {
		t.Errorf("unexpected default %s", got)
	}
	if err := s.SetDefaultEngine("x"); err != nil {
		t.Error(err)
	}
	if err := s.ResetDefaultEngine(); err != nil {
		t.Error(err)
	}
}

func TestSettingsEngineOptionLayering(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Engines[1].Options = map[string]string{"space_commits": "true", "file_only": "yes"}

	st := openTestStore(t)
	s := NewSettings(st, cfg, nil)
	if err := st.SetEngineOption("nimf-romaji", "space_commits", "false"); err != nil {
		t.Fatal(err)
	}

	if v, ok := s.EngineOption("nimf-romaji", "space_commits"); !ok || v != "false" {
		t.Errorf("stored option should win, got %q", v)
	}
	if v, ok := s.EngineOption("nimf-romaji", "file_only"); !ok || v != "yes" {
		t.Errorf("file option should be visible, got %q", v)
	}
	if _, ok := s.EngineOption("nimf-romaji", "missing"); ok {
		t.Error("missing option reported present")
	}
}
