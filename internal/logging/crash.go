package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"nimf/internal/config"
)

// CrashReport is written for every panic recovered by the daemon.
type CrashReport struct {
	Timestamp    time.Time `json:"timestamp"`
	Version      string    `json:"version,omitempty"`
	GoVersion    string    `json:"go_version"`
	GOOS         string    `json:"goos"`
	GOARCH       string    `json:"goarch"`
	NumGoroutine int       `json:"num_goroutine"`
	Component    string    `json:"component,omitempty"`
	PanicValue   string    `json:"panic_value"`
	StackTrace   string    `json:"stack_trace"`
}

// DefaultCrashDir returns where crash reports go unless configured.
func DefaultCrashDir() string {
	return filepath.Join(config.PlatformStateDir(), "crashes")
}

// CrashReporter writes panics as JSON files. The reactor recovers panics in
// its tasks and keeps running; the reporter keeps a record of each one.
type CrashReporter struct {
	dir       string
	component string
	version   string
	logger    *Logger

	mu  sync.Mutex
	seq int
}

// NewCrashReporter creates dir if needed.
func NewCrashReporter(dir, component, version string, logger *Logger) (*CrashReporter, error) {
	if dir == "" {
		dir = DefaultCrashDir()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create crash directory: %w", err)
	}
	if logger == nil {
		logger = Default()
	}
	if version == "" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			version = bi.Main.Version
		}
	}
	return &CrashReporter{dir: dir, component: component, version: version, logger: logger}, nil
}

// Report records a recovered panic and returns the file it wrote. stack may
// be nil, in which case the current goroutine's stack is used.
func (c *CrashReporter) Report(value any, stack []byte) (string, error) {
	if stack == nil {
		stack = debug.Stack()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++

	report := CrashReport{
		Timestamp:    time.Now().UTC(),
		Version:      c.version,
		GoVersion:    runtime.Version(),
		GOOS:         runtime.GOOS,
		GOARCH:       runtime.GOARCH,
		NumGoroutine: runtime.NumGoroutine(),
		Component:    c.component,
		PanicValue:   fmt.Sprint(value),
		StackTrace:   string(stack),
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal crash report: %w", err)
	}

	name := fmt.Sprintf("crash-%s-%s-%d.json", c.component, report.Timestamp.Format("20060102-150405"), c.seq)
	path := filepath.Join(c.dir, name)
	if err := os.WriteFile(path, data, 0o640); err != nil {
		c.logger.Error("write crash report", "error", err)
		return "", fmt.Errorf("write crash report: %w", err)
	}

	c.logger.Error("crash report written", "path", path, "panic", report.PanicValue)
	return path, nil
}

// Recover is deferred at the top of long-lived goroutines. It reports the
// panic and then re-panics so the process still dies.
func (c *CrashReporter) Recover() {
	if r := recover(); r != nil {
		c.Report(r, debug.Stack())
		panic(r)
	}
}

// Reports reads back every report in the directory.
func (c *CrashReporter) Reports() ([]CrashReport, error) {
	files, err := filepath.Glob(filepath.Join(c.dir, "crash-*.json"))
	if err != nil {
		return nil, err
	}

	out := make([]CrashReport, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		var r CrashReport
		if json.Unmarshal(data, &r) == nil {
			out = append(out, r)
		}
	}
	return out, nil
}

// Cleanup removes reports older than maxAge.
func (c *CrashReporter) Cleanup(maxAge time.Duration) error {
	files, err := filepath.Glob(filepath.Join(c.dir, "crash-*.json"))
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-maxAge)
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(f)
		}
	}
	return nil
}
