package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "nimf"

// PlatformConfigDir returns the directory holding config files.
//
// Platform paths:
//   - Linux:  $XDG_CONFIG_HOME/nimf or ~/.config/nimf
//   - macOS:  ~/Library/Application Support/nimf
func PlatformConfigDir() string {
	if runtime.GOOS == "darwin" {
		return macOSDir()
	}
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// PlatformDataDir returns the directory holding the settings database.
//
// Platform paths:
//   - Linux:  $XDG_DATA_HOME/nimf or ~/.local/share/nimf
//   - macOS:  ~/Library/Application Support/nimf
//
// NIMF_DATA_DIR overrides both.
func PlatformDataDir() string {
	if dir := os.Getenv("NIMF_DATA_DIR"); dir != "" {
		return dir
	}
	if runtime.GOOS == "darwin" {
		return macOSDir()
	}
	return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// PlatformStateDir returns the directory for log files.
func PlatformStateDir() string {
	if runtime.GOOS == "darwin" {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Logs", appName)
	}
	return xdgDir("XDG_STATE_HOME", filepath.Join(".local", "state"))
}

func xdgDir(env, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), appName)
	}
	return filepath.Join(home, fallback, appName)
}

func macOSDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "Library", "Application Support", appName)
}

// SupportedConfigFormats returns the config file extensions that are
// recognized, without the dot.
func SupportedConfigFormats() []string {
	return []string{"toml", "json", "yaml", "yml"}
}

// FindConfigFile searches for a config file in standard locations.
// Returns the path to the first found config file, or empty string if none found.
func FindConfigFile() string {
	for _, dir := range []string{PlatformConfigDir(), "/etc/nimf"} {
		for _, ext := range SupportedConfigFormats() {
			path := filepath.Join(dir, "config."+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}
