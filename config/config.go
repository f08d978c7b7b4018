package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config carries the swaplockd daemon settings.
type Config struct {
	RPCAddress       string  `toml:"RPCAddress"`
	DataDir          string  `toml:"DataDir"`
	NetworkName      string  `toml:"NetworkName"`
	AuthorityAddress string  `toml:"AuthorityAddress"`
	RPCAuthTokenEnv  string  `toml:"RPCAuthTokenEnv"`
	RatePerMinute    float64 `toml:"RatePerMinute"`
	RateBurst        int     `toml:"RateBurst"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// AuthToken resolves the RPC bearer token from the configured environment
// variable. An empty result disables the mutating RPC surface.
func (c *Config) AuthToken() string {
	if c == nil || strings.TrimSpace(c.RPCAuthTokenEnv) == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.RPCAuthTokenEnv))
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8545"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./swaplock-data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "swaplock-local"
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 600
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 20
	}
}

func validate(cfg *Config) error {
	addr := strings.TrimSpace(cfg.AuthorityAddress)
	if addr == "" {
		return nil
	}
	cleaned := strings.TrimPrefix(strings.TrimPrefix(addr, "0x"), "0X")
	if len(cleaned) != 40 {
		return fmt.Errorf("config: AuthorityAddress must be a 20-byte hex address")
	}
	for _, r := range cleaned {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') && (r < 'A' || r > 'F') {
			return fmt.Errorf("config: AuthorityAddress must be a 20-byte hex address")
		}
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.RPCAuthTokenEnv = "SWAPLOCK_RPC_TOKEN"
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
