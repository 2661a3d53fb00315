// Package config loads pythsim configuration from defaults, an optional
// YAML or TOML file and PYTHSIM_ environment variables, in that order of
// precedence from lowest to highest.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fortiblox/pythsim/internal/logging"
	"github.com/fortiblox/pythsim/internal/types"
	"github.com/fortiblox/pythsim/pkg/bank"
	"github.com/fortiblox/pythsim/pkg/rpc"
	"github.com/fortiblox/pythsim/pkg/sandbox"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. PYTHSIM_RPC_ADDR.
const EnvPrefix = "PYTHSIM"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete pythsim configuration.
type Config struct {
	Storage StorageConfig  `mapstructure:"storage"`
	Bank    BankConfig     `mapstructure:"bank"`
	RPC     RPCConfig      `mapstructure:"rpc"`
	Log     logging.Config `mapstructure:"log"`

	// Keypair is the payer keyfile used by the CLI. Empty means a fresh
	// keypair per run.
	Keypair string `mapstructure:"keypair"`
}

// StorageConfig selects where sandbox state lives.
type StorageConfig struct {
	Mode          string        `mapstructure:"mode"`
	DataDir       string        `mapstructure:"data_dir"`
	CacheSize     int           `mapstructure:"cache_size"`
	GCInterval    time.Duration `mapstructure:"gc_interval"`
	RetainSlots   uint64        `mapstructure:"retain_slots"`
	PruneInterval time.Duration `mapstructure:"prune_interval"`
}

// BankConfig holds runtime parameters.
type BankConfig struct {
	FeePerSignature      uint64        `mapstructure:"fee_per_signature"`
	ComputeUnitLimit     uint64        `mapstructure:"compute_unit_limit"`
	MaxTransactionAge    uint64        `mapstructure:"max_transaction_age"`
	SlotsPerEpoch        uint64        `mapstructure:"slots_per_epoch"`
	SlotDuration         time.Duration `mapstructure:"slot_duration"`
	GenesisUnixTimestamp int64         `mapstructure:"genesis_unix_timestamp"`
	LamportsPerByteYear  uint64        `mapstructure:"lamports_per_byte_year"`
	ExemptionYears       uint64        `mapstructure:"exemption_years"`
	OracleProgramID      string        `mapstructure:"oracle_program_id"`
}

// RPCConfig configures the JSON-RPC listener.
type RPCConfig struct {
	Addr           string        `mapstructure:"addr"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxRequestSize int64         `mapstructure:"max_request_size"`
	EnableCORS     bool          `mapstructure:"enable_cors"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	LogRequests    bool          `mapstructure:"log_requests"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	sb := sandbox.DefaultConfig()
	b := sb.Bank
	r := rpc.DefaultConfig()
	return Config{
		Storage: StorageConfig{
			Mode:          string(sb.Storage),
			DataDir:       sb.DataDir,
			CacheSize:     sb.CacheSize,
			GCInterval:    sb.GCInterval,
			RetainSlots:   sb.RetainSlots,
			PruneInterval: sb.PruneInterval,
		},
		Bank: BankConfig{
			FeePerSignature:      b.FeePerSignature,
			ComputeUnitLimit:     b.ComputeUnitLimit,
			MaxTransactionAge:    b.MaxTransactionAge,
			SlotsPerEpoch:        b.SlotsPerEpoch,
			SlotDuration:         b.SlotDuration,
			GenesisUnixTimestamp: b.GenesisUnixTimestamp,
			LamportsPerByteYear:  b.LamportsPerByteYear,
			ExemptionYears:       b.ExemptionYears,
			OracleProgramID:      b.OracleProgramID.String(),
		},
		RPC: RPCConfig{
			Addr:           r.Addr,
			ReadTimeout:    r.ReadTimeout,
			WriteTimeout:   r.WriteTimeout,
			MaxRequestSize: r.MaxRequestSize,
			EnableCORS:     r.EnableCORS,
			AllowedOrigins: r.AllowedOrigins,
			LogRequests:    r.LogRequests,
		},
		Log: logging.DefaultConfig(),
	}
}

// setDefaults registers every key so environment overrides apply to keys
// absent from the file.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("storage.mode", d.Storage.Mode)
	v.SetDefault("storage.data_dir", d.Storage.DataDir)
	v.SetDefault("storage.cache_size", d.Storage.CacheSize)
	v.SetDefault("storage.gc_interval", d.Storage.GCInterval)
	v.SetDefault("storage.retain_slots", d.Storage.RetainSlots)
	v.SetDefault("storage.prune_interval", d.Storage.PruneInterval)

	v.SetDefault("bank.fee_per_signature", d.Bank.FeePerSignature)
	v.SetDefault("bank.compute_unit_limit", d.Bank.ComputeUnitLimit)
	v.SetDefault("bank.max_transaction_age", d.Bank.MaxTransactionAge)
	v.SetDefault("bank.slots_per_epoch", d.Bank.SlotsPerEpoch)
	v.SetDefault("bank.slot_duration", d.Bank.SlotDuration)
	v.SetDefault("bank.genesis_unix_timestamp", d.Bank.GenesisUnixTimestamp)
	v.SetDefault("bank.lamports_per_byte_year", d.Bank.LamportsPerByteYear)
	v.SetDefault("bank.exemption_years", d.Bank.ExemptionYears)
	v.SetDefault("bank.oracle_program_id", d.Bank.OracleProgramID)

	v.SetDefault("rpc.addr", d.RPC.Addr)
	v.SetDefault("rpc.read_timeout", d.RPC.ReadTimeout)
	v.SetDefault("rpc.write_timeout", d.RPC.WriteTimeout)
	v.SetDefault("rpc.max_request_size", d.RPC.MaxRequestSize)
	v.SetDefault("rpc.enable_cors", d.RPC.EnableCORS)
	v.SetDefault("rpc.allowed_origins", d.RPC.AllowedOrigins)
	v.SetDefault("rpc.log_requests", d.RPC.LogRequests)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.output", d.Log.Output)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.report_caller", d.Log.ReportCaller)

	v.SetDefault("keypair", d.Keypair)
}

// New returns a viper instance with defaults and environment overrides set
// up. Callers may bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional file at path into v, then decodes and validates
// the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile is Load on a fresh instance.
func LoadFile(path string) (*Config, error) {
	return Load(New(), path)
}

// Validate checks the configuration for values the sandbox cannot run with.
func (c *Config) Validate() error {
	switch sandbox.Storage(c.Storage.Mode) {
	case sandbox.StorageMemory, sandbox.StorageTemp:
	case sandbox.StorageDisk:
		if c.Storage.DataDir == "" {
			return fmt.Errorf("%w: storage.data_dir is required for disk storage", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown storage.mode %q", ErrInvalid, c.Storage.Mode)
	}
	if c.Storage.CacheSize <= 0 {
		return fmt.Errorf("%w: storage.cache_size must be positive", ErrInvalid)
	}
	if c.Storage.RetainSlots > 0 && c.Storage.PruneInterval <= 0 {
		return fmt.Errorf("%w: storage.prune_interval must be positive when pruning", ErrInvalid)
	}

	if c.Bank.ComputeUnitLimit == 0 {
		return fmt.Errorf("%w: bank.compute_unit_limit must be positive", ErrInvalid)
	}
	if c.Bank.SlotDuration <= 0 {
		return fmt.Errorf("%w: bank.slot_duration must be positive", ErrInvalid)
	}
	if _, err := types.PubkeyFromBase58(c.Bank.OracleProgramID); err != nil {
		return fmt.Errorf("%w: bank.oracle_program_id: %v", ErrInvalid, err)
	}

	if c.RPC.Addr == "" {
		return fmt.Errorf("%w: rpc.addr is required", ErrInvalid)
	}
	if c.RPC.MaxRequestSize <= 0 {
		return fmt.Errorf("%w: rpc.max_request_size must be positive", ErrInvalid)
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalid, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log.format %q", ErrInvalid, c.Log.Format)
	}
	return nil
}

// Sandbox maps the configuration onto sandbox settings.
func (c *Config) Sandbox() (sandbox.Config, error) {
	oracle, err := types.PubkeyFromBase58(c.Bank.OracleProgramID)
	if err != nil {
		return sandbox.Config{}, fmt.Errorf("%w: bank.oracle_program_id: %v", ErrInvalid, err)
	}
	return sandbox.Config{
		Storage:       sandbox.Storage(c.Storage.Mode),
		DataDir:       c.Storage.DataDir,
		CacheSize:     c.Storage.CacheSize,
		GCInterval:    c.Storage.GCInterval,
		RetainSlots:   c.Storage.RetainSlots,
		PruneInterval: c.Storage.PruneInterval,
		Bank: bank.Config{
			FeePerSignature:      c.Bank.FeePerSignature,
			ComputeUnitLimit:     c.Bank.ComputeUnitLimit,
			MaxTransactionAge:    c.Bank.MaxTransactionAge,
			SlotsPerEpoch:        c.Bank.SlotsPerEpoch,
			SlotDuration:         c.Bank.SlotDuration,
			GenesisUnixTimestamp: c.Bank.GenesisUnixTimestamp,
			LamportsPerByteYear:  c.Bank.LamportsPerByteYear,
			ExemptionYears:       c.Bank.ExemptionYears,
			OracleProgramID:      oracle,
		},
	}, nil
}

// RPCServer maps the configuration onto RPC server settings.
func (c *Config) RPCServer() rpc.Config {
	return rpc.Config{
		Addr:           c.RPC.Addr,
		ReadTimeout:    c.RPC.ReadTimeout,
		WriteTimeout:   c.RPC.WriteTimeout,
		MaxRequestSize: c.RPC.MaxRequestSize,
		EnableCORS:     c.RPC.EnableCORS,
		AllowedOrigins: c.RPC.AllowedOrigins,
		LogRequests:    c.RPC.LogRequests,
	}
}
