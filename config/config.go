package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	DefaultListenAddress = ":8645"
	DefaultDataDir       = "./ramp-data"
	DefaultEnvironment   = "local"
	DefaultNativeSymbol  = "NATIVE"
	DefaultCapacity      = 10
	DefaultChainID       = 1
)

type Config struct {
	ListenAddress      string         `toml:"ListenAddress" yaml:"ListenAddress"`
	DataDir            string         `toml:"DataDir" yaml:"DataDir"`
	KeystorePath       string         `toml:"KeystorePath" yaml:"KeystorePath"`
	Environment        string         `toml:"Environment" yaml:"Environment"`
	ChainID            uint64         `toml:"ChainID" yaml:"ChainID"`
	LogFile            string         `toml:"LogFile,omitempty" yaml:"LogFile,omitempty"`
	AssetCapacity      uint16         `toml:"AssetCapacity" yaml:"AssetCapacity"`
	MaxRecordBytes     int            `toml:"MaxRecordBytes" yaml:"MaxRecordBytes"`
	RentPerByte        uint64         `toml:"RentPerByte" yaml:"RentPerByte"`
	NativeSymbol       string         `toml:"NativeSymbol" yaml:"NativeSymbol"`
	RateLimitPerSecond float64        `toml:"RateLimitPerSecond" yaml:"RateLimitPerSecond"`
	RateLimitBurst     int            `toml:"RateLimitBurst" yaml:"RateLimitBurst"`
	EventHistory       int            `toml:"EventHistory" yaml:"EventHistory"`
	AllowedOrigins     []string       `toml:"AllowedOrigins,omitempty" yaml:"AllowedOrigins,omitempty"`
	Auth               RPCAuth        `toml:"Auth" yaml:"Auth"`
	Telemetry          Telemetry      `toml:"Telemetry" yaml:"Telemetry"`
	Genesis            []GenesisEntry `toml:"Genesis,omitempty" yaml:"Genesis,omitempty"`
}

// Load loads the configuration from the given path, writing a default file
// first when none exists. Files ending in .yaml or .yml are read as YAML,
// everything else as TOML.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if isYAML(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config %s: unknown field %s", path, undecoded[0])
		}
	}

	cfg.applyDefaults(path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults(configPath string) {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = DefaultListenAddress
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = DefaultDataDir
	}
	if strings.TrimSpace(c.KeystorePath) == "" {
		c.KeystorePath = defaultKeystorePath(configPath)
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = DefaultEnvironment
	}
	if c.ChainID == 0 {
		c.ChainID = DefaultChainID
	}
	if c.AssetCapacity == 0 {
		c.AssetCapacity = DefaultCapacity
	}
	if strings.TrimSpace(c.NativeSymbol) == "" {
		c.NativeSymbol = DefaultNativeSymbol
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RateLimitPerSecond: 20,
		RateLimitBurst:     40,
		Telemetry:          Telemetry{Endpoint: "localhost:4318", Insecure: true},
	}
	cfg.applyDefaults(path)
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

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "operator.keystore")
}
