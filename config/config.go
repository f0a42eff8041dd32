package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// DomainConfig maps a destination settlement domain to its fee override. A
// zero FeeBps falls back to the base fee.
type DomainConfig struct {
	ID     uint64 `toml:"ID"`
	Name   string `toml:"Name"`
	FeeBps uint32 `toml:"FeeBps"`
}

// BalanceConfig seeds a token balance at startup, e.g. the payroll float.
type BalanceConfig struct {
	Token   string `toml:"Token"`
	Address string `toml:"Address"`
	Amount  string `toml:"Amount"`
}

type Config struct {
	RPCAddress    string          `toml:"RPCAddress"`
	DataDir       string          `toml:"DataDir"`
	ServiceName   string          `toml:"ServiceName"`
	Environment   string          `toml:"Environment"`
	LogFile       string          `toml:"LogFile"`
	Tokens        []string        `toml:"Tokens"`
	LocalDomain   uint64          `toml:"LocalDomain"`
	BaseFeeBps    uint32          `toml:"BaseFeeBps"`
	FeeCollector  string          `toml:"FeeCollector"`
	RootAuthority string          `toml:"RootAuthority"`
	Domains       []DomainConfig  `toml:"Domains"`
	Balances      []BalanceConfig `toml:"Balances"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = "127.0.0.1:8645"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./payvault-data"
	}
	if strings.TrimSpace(cfg.ServiceName) == "" {
		cfg.ServiceName = "payvaultd"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
	if len(cfg.Tokens) == 0 {
		cfg.Tokens = []string{"USDM"}
	}
	if cfg.Domains == nil {
		cfg.Domains = []DomainConfig{}
	}
	if cfg.Balances == nil {
		cfg.Balances = []BalanceConfig{}
	}
}

// Validate checks the configuration for values the daemon cannot start with.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}
	if cfg.BaseFeeBps > 10_000 {
		return fmt.Errorf("config: BaseFeeBps must be <= 10000, got %d", cfg.BaseFeeBps)
	}
	for _, domain := range cfg.Domains {
		if domain.FeeBps > 10_000 {
			return fmt.Errorf("config: domain %d FeeBps must be <= 10000, got %d", domain.ID, domain.FeeBps)
		}
		if domain.ID == cfg.LocalDomain {
			return fmt.Errorf("config: domain %d duplicates the local domain", domain.ID)
		}
	}
	for _, symbol := range cfg.Tokens {
		if strings.TrimSpace(symbol) == "" {
			return fmt.Errorf("config: empty token symbol")
		}
	}
	if strings.TrimSpace(cfg.FeeCollector) != "" {
		if _, err := ParseAddress(cfg.FeeCollector); err != nil {
			return fmt.Errorf("config: FeeCollector: %w", err)
		}
	}
	if strings.TrimSpace(cfg.RootAuthority) != "" {
		if _, err := ParseAddress(cfg.RootAuthority); err != nil {
			return fmt.Errorf("config: RootAuthority: %w", err)
		}
	}
	for _, balance := range cfg.Balances {
		if _, err := ParseAddress(balance.Address); err != nil {
			return fmt.Errorf("config: balance address: %w", err)
		}
	}
	return nil
}

// ParseAddress decodes a 20-byte hex address, with or without the 0x prefix.
func ParseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("invalid address %q: %w", value, err)
	}
	if len(decoded) != 20 {
		return addr, fmt.Errorf("invalid address %q: want 20 bytes, got %d", value, len(decoded))
	}
	copy(addr[:], decoded)
	return addr, nil
}
