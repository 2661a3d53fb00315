package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fortiblox/pythsim/internal/types"
	"github.com/fortiblox/pythsim/pkg/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFile("")
	require.NoError(t, err)
	want := DefaultConfig()
	assert.Equal(t, want.Storage, cfg.Storage)
	assert.Equal(t, want.Bank, cfg.Bank)
	assert.Equal(t, want.Log, cfg.Log)
	assert.Equal(t, want.RPC.ReadTimeout, cfg.RPC.ReadTimeout)

	sb, err := cfg.Sandbox()
	require.NoError(t, err)
	assert.Equal(t, sandbox.StorageMemory, sb.Storage)
	assert.Equal(t, types.PythProgramAddr, sb.Bank.OracleProgramID)
	assert.Equal(t, uint64(5000), sb.Bank.FeePerSignature)

	assert.Equal(t, "127.0.0.1:8899", cfg.RPCServer().Addr)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, "pythsim.yaml", `
storage:
  mode: disk
  data_dir: `+dir+`
  retain_slots: 500
bank:
  fee_per_signature: 10000
  slot_duration: 200ms
rpc:
  addr: 0.0.0.0:9000
  allowed_origins: ["http://localhost:3000"]
log:
  level: debug
  format: json
keypair: /tmp/payer.json
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "disk", cfg.Storage.Mode)
	assert.Equal(t, dir, cfg.Storage.DataDir)
	assert.Equal(t, uint64(500), cfg.Storage.RetainSlots)
	assert.Equal(t, time.Hour, cfg.Storage.PruneInterval)
	assert.Equal(t, uint64(10000), cfg.Bank.FeePerSignature)
	assert.Equal(t, 200*time.Millisecond, cfg.Bank.SlotDuration)
	assert.Equal(t, uint64(150), cfg.Bank.MaxTransactionAge)
	assert.Equal(t, "0.0.0.0:9000", cfg.RPC.Addr)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.RPCServer().AllowedOrigins)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "/tmp/payer.json", cfg.Keypair)

	sb, err := cfg.Sandbox()
	require.NoError(t, err)
	assert.Equal(t, sandbox.StorageDisk, sb.Storage)
	assert.Equal(t, uint64(500), sb.RetainSlots)
}

func TestLoadTOML(t *testing.T) {
	oracle := types.Pubkey{42}
	path := writeConfig(t, "pythsim.toml", `
[bank]
oracle_program_id = "`+oracle.String()+`"
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	sb, err := cfg.Sandbox()
	require.NoError(t, err)
	assert.Equal(t, oracle, sb.Bank.OracleProgramID)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PYTHSIM_RPC_ADDR", "127.0.0.1:7000")
	t.Setenv("PYTHSIM_STORAGE_MODE", "temp")
	t.Setenv("PYTHSIM_BANK_FEE_PER_SIGNATURE", "1")

	path := writeConfig(t, "pythsim.yaml", "rpc:\n  addr: 127.0.0.1:6000\n")
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.RPC.Addr)
	assert.Equal(t, "temp", cfg.Storage.Mode)
	assert.Equal(t, uint64(1), cfg.Bank.FeePerSignature)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown storage", func(c *Config) { c.Storage.Mode = "tape" }},
		{"disk without dir", func(c *Config) { c.Storage.Mode = "disk" }},
		{"zero cache", func(c *Config) { c.Storage.CacheSize = 0 }},
		{"pruning without interval", func(c *Config) {
			c.Storage.RetainSlots = 10
			c.Storage.PruneInterval = 0
		}},
		{"zero compute", func(c *Config) { c.Bank.ComputeUnitLimit = 0 }},
		{"zero slot duration", func(c *Config) { c.Bank.SlotDuration = 0 }},
		{"bad oracle id", func(c *Config) { c.Bank.OracleProgramID = "0OIl" }},
		{"empty rpc addr", func(c *Config) { c.RPC.Addr = "" }},
		{"zero request size", func(c *Config) { c.RPC.MaxRequestSize = 0 }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}

	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}
