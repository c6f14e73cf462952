package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the YAML configuration for the habitsync CLI.
type Config struct {
	// Database is the path to the local SQLite database.
	Database string `yaml:"database"`
	// Settings is the path to the YAML settings file (sync watermarks).
	Settings string `yaml:"settings"`
	// Remote is the base URL of the document server. Empty means guest
	// mode with no remote configured.
	Remote string `yaml:"remote"`
	// User is the signed-in user id. Empty means guest mode.
	User string `yaml:"user"`
	// Debounce is the quiet period before a requested sync runs.
	Debounce time.Duration `yaml:"debounce"`
	// Interval is the periodic background sync interval.
	Interval time.Duration `yaml:"interval"`
	// Listen is the address the serve command binds to.
	Listen string `yaml:"listen"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	dir := filepath.Join(home, ".habitsync")
	return Config{
		Database: filepath.Join(dir, "habits.db"),
		Settings: filepath.Join(dir, "settings.yaml"),
		Debounce: time.Second,
		Interval: 5 * time.Minute,
		Listen:   ":8080",
	}
}

// LoadConfig reads a YAML config file, filling unset fields from defaults.
// An empty path returns the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if fileCfg.Database != "" {
		cfg.Database = fileCfg.Database
	}
	if fileCfg.Settings != "" {
		cfg.Settings = fileCfg.Settings
	}
	if fileCfg.Remote != "" {
		cfg.Remote = fileCfg.Remote
	}
	if fileCfg.User != "" {
		cfg.User = fileCfg.User
	}
	if fileCfg.Debounce > 0 {
		cfg.Debounce = fileCfg.Debounce
	}
	if fileCfg.Interval > 0 {
		cfg.Interval = fileCfg.Interval
	}
	if fileCfg.Listen != "" {
		cfg.Listen = fileCfg.Listen
	}
	return cfg, nil
}
