// Package config loads the engagement configuration: everything about how
// the core runs that is not the RoE document itself.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/swarmgate/internal/alert"
)

// BusConfig selects and tunes the signal bus transport.
type BusConfig struct {
	Transport string `yaml:"transport"` // "memory" (default) or "redis"
	RedisAddr string `yaml:"redis_addr"`
	RedisPass string `yaml:"redis_password"`
	RedisDB   int    `yaml:"redis_db"`
	Buffer    int    `yaml:"buffer"`
}

// KillConfig tunes the kill switch.
type KillConfig struct {
	Deadline time.Duration `yaml:"deadline"`
}

// AuthzConfig tunes the authorization gate.
type AuthzConfig struct {
	Dir           string        `yaml:"dir"`
	Timeout       time.Duration `yaml:"timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// OrchConfig points at the external orchestration API.
type OrchConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// EvidenceConfig locates the evidence stores.
type EvidenceConfig struct {
	LogPath string `yaml:"log_path"`
	DBPath  string `yaml:"db_path"`
}

// Config is the full engagement configuration.
type Config struct {
	RoEPath    string         `yaml:"roe_path"`
	ListenAddr string         `yaml:"listen_addr"`
	RunID      string         `yaml:"run_id"`
	Bus        BusConfig      `yaml:"bus"`
	Kill       KillConfig     `yaml:"kill"`
	Authz      AuthzConfig    `yaml:"authz"`
	Orch       OrchConfig     `yaml:"orchestrator"`
	Evidence   EvidenceConfig `yaml:"evidence"`
	Alerts     []alert.Config `yaml:"alerts"`
}

// Default returns the built-in engagement configuration.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	base := filepath.Join(home, ".swarmgate")
	return &Config{
		RoEPath:    filepath.Join(base, "roe.yaml"),
		ListenAddr: ":8470",
		RunID:      "coordinated",
		Bus:        BusConfig{Transport: "memory"},
		Kill:       KillConfig{Deadline: time.Second},
		Authz: AuthzConfig{
			Dir:           filepath.Join(base, "authz"),
			Timeout:       24 * time.Hour,
			SweepInterval: 30 * time.Second,
		},
		Evidence: EvidenceConfig{
			LogPath: filepath.Join(base, "evidence.jsonl"),
			DBPath:  filepath.Join(base, "evidence.db"),
		},
	}
}

// Load reads the engagement config from a YAML file. Empty path falls back
// to ~/.swarmgate/config.yaml; a missing file returns defaults; invalid
// YAML is an error.
func Load(path string) (*Config, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Default(), nil
		}
		path = filepath.Join(home, ".swarmgate", "config.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("config: read: %w", err)
	}

	// Start with defaults, YAML overwrites only specified fields
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Bus.Transport {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("config: unknown bus transport %q", c.Bus.Transport)
	}
	if c.Bus.Transport == "redis" && c.Bus.RedisAddr == "" {
		return fmt.Errorf("config: redis transport requires redis_addr")
	}
	if c.Kill.Deadline < 0 {
		return fmt.Errorf("config: kill deadline must not be negative")
	}
	return nil
}
