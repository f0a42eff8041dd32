package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:8645", cfg.RPCAddress)
	require.Equal(t, "./payvault-data", cfg.DataDir)
	require.Equal(t, "payvaultd", cfg.ServiceName)
	require.Equal(t, []string{"USDM"}, cfg.Tokens)

	// The default file lands on disk and loads back unchanged.
	_, err = os.Stat(path)
	require.NoError(t, err)
	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, reloaded)
}

func TestLoadParsesFullConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
RPCAddress = "0.0.0.0:9000"
DataDir = "/var/lib/payvault"
Tokens = ["USDM", "EURM"]
LocalDomain = 1
BaseFeeBps = 10
FeeCollector = "0x1111111111111111111111111111111111111111"
RootAuthority = "2222222222222222222222222222222222222222"

[[Domains]]
ID = 42
Name = "treasury-net"
FeeBps = 50

[[Balances]]
Token = "USDM"
Address = "0x3333333333333333333333333333333333333333"
Amount = "1000000"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9000", cfg.RPCAddress)
	require.Equal(t, []string{"USDM", "EURM"}, cfg.Tokens)
	require.Equal(t, uint64(1), cfg.LocalDomain)
	require.Equal(t, uint32(10), cfg.BaseFeeBps)
	require.Len(t, cfg.Domains, 1)
	require.Equal(t, uint64(42), cfg.Domains[0].ID)
	require.Equal(t, uint32(50), cfg.Domains[0].FeeBps)
	require.Len(t, cfg.Balances, 1)
	require.Equal(t, "1000000", cfg.Balances[0].Amount)
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		applyDefaults(cfg)
		return cfg
	}

	cfg := base()
	cfg.BaseFeeBps = 10_001
	require.Error(t, Validate(cfg))

	cfg = base()
	cfg.LocalDomain = 1
	cfg.Domains = []DomainConfig{{ID: 1, FeeBps: 10}}
	require.Error(t, Validate(cfg))

	cfg = base()
	cfg.Domains = []DomainConfig{{ID: 42, FeeBps: 10_001}}
	require.Error(t, Validate(cfg))

	cfg = base()
	cfg.Tokens = []string{"USDM", " "}
	require.Error(t, Validate(cfg))

	cfg = base()
	cfg.FeeCollector = "not-an-address"
	require.Error(t, Validate(cfg))

	cfg = base()
	cfg.Balances = []BalanceConfig{{Token: "USDM", Address: "0xabc", Amount: "1"}}
	require.Error(t, Validate(cfg))
}

func TestParseAddress(t *testing.T) {
	want := [20]byte{0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11}

	got, err := ParseAddress("0x1111111111111111111111111111111111111111")
	require.NoError(t, err)
	require.Equal(t, want, got)

	got, err = ParseAddress("1111111111111111111111111111111111111111")
	require.NoError(t, err)
	require.Equal(t, want, got)

	_, err = ParseAddress("0x1111")
	require.Error(t, err)
	_, err = ParseAddress("0xzz11111111111111111111111111111111111111")
	require.Error(t, err)
}
