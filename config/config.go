package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// MintConfig declares a mint to register at genesis.
type MintConfig struct {
	ID       string `toml:"ID"`
	Decimals uint8  `toml:"Decimals"`
	Standard string `toml:"Standard"`
}

// GenesisAccount declares an account funded at genesis. TokenBalances maps a
// mint ID to an initial token balance.
type GenesisAccount struct {
	Address         string            `toml:"Address"`
	BalanceLamports uint64            `toml:"BalanceLamports"`
	TokenBalances   map[string]uint64 `toml:"TokenBalances,omitempty"`
}

type Config struct {
	RPCAddress  string           `toml:"RPCAddress"`
	MetricsPath string           `toml:"MetricsPath"`
	DataDir     string           `toml:"DataDir"`
	NetworkName string           `toml:"NetworkName"`
	FeeTreasury string           `toml:"FeeTreasury"`
	Mints       []MintConfig     `toml:"Mints,omitempty"`
	Accounts    []GenesisAccount `toml:"Accounts,omitempty"`
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
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = "127.0.0.1:8645"
	}
	if strings.TrimSpace(cfg.MetricsPath) == "" {
		cfg.MetricsPath = "/metrics"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "shop-local"
	}
}

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

// Validate checks the address and mint declarations without touching state.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}
	if strings.TrimSpace(cfg.FeeTreasury) != "" {
		if _, err := ParseAddress(cfg.FeeTreasury); err != nil {
			return fmt.Errorf("config: FeeTreasury: %w", err)
		}
	}
	for i, mint := range cfg.Mints {
		if _, err := ParseMintID(mint.ID); err != nil {
			return fmt.Errorf("config: Mints[%d].ID: %w", i, err)
		}
		standard := strings.ToLower(strings.TrimSpace(mint.Standard))
		if standard != "legacy" && standard != "extended" {
			return fmt.Errorf("config: Mints[%d].Standard must be legacy or extended", i)
		}
	}
	for i, account := range cfg.Accounts {
		if _, err := ParseAddress(account.Address); err != nil {
			return fmt.Errorf("config: Accounts[%d].Address: %w", i, err)
		}
		for mintID := range account.TokenBalances {
			if _, err := ParseMintID(mintID); err != nil {
				return fmt.Errorf("config: Accounts[%d].TokenBalances: %w", i, err)
			}
		}
	}
	return nil
}

// ParseAddress decodes a 20-byte hex address, with or without 0x prefix.
func ParseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if err != nil {
		return addr, fmt.Errorf("invalid address hex: %w", err)
	}
	if len(raw) != 20 {
		return addr, fmt.Errorf("address must be 20 bytes, got %d", len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}

// ParseMintID decodes a 32-byte hex mint identifier.
func ParseMintID(value string) ([32]byte, error) {
	var id [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if err != nil {
		return id, fmt.Errorf("invalid mint hex: %w", err)
	}
	if len(raw) != 32 {
		return id, fmt.Errorf("mint must be 32 bytes, got %d", len(raw))
	}
	copy(id[:], raw)
	return id, nil
}
