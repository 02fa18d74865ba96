// ============================================================================
// Ledger-Scheduler Configuration
// ============================================================================
//
// Package: internal/config
// File: config.go
// Purpose: load the process configuration once at startup
//
// Precedence (lowest to highest):
//   defaults → YAML file → .env file → environment
//
// Environment:
//   SCHEDULER_<SECTION>_<KEY>, e.g. SCHEDULER_LEDGER_RPCURL.
//   The legacy names PORT, RPC_URL, PRIVATE_KEY, PRIVATE_KEY_OWNER,
//   CONTRACT_ADDRESS and ABI_PATH are honoured as well.
//
// The loaded Config is never mutated afterwards.
//
// ============================================================================

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/ChuLiYu/ledger-scheduler/internal/ledger"
)

// Ledger modes
const (
	LedgerEthereum  = "ethereum"
	LedgerSimulated = "simulated"
)

// EnvPrefix prefixes every structured environment variable.
const EnvPrefix = "SCHEDULER"

type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	GRPC       GRPCConfig       `mapstructure:"grpc" yaml:"grpc"`
	Storage    StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Ledger     LedgerConfig     `mapstructure:"ledger" yaml:"ledger"`
	Settlement SettlementConfig `mapstructure:"settlement" yaml:"settlement"`
	Selection  SelectionConfig  `mapstructure:"selection" yaml:"selection"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"readTimeout" yaml:"readTimeout"`
	WriteTimeout    time.Duration `mapstructure:"writeTimeout" yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout" yaml:"shutdownTimeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type GRPCConfig struct {
	// Port for the gRPC health service; 0 disables it.
	Port int `mapstructure:"port" yaml:"port"`
}

type StorageConfig struct {
	JobsPath    string `mapstructure:"jobsPath" yaml:"jobsPath"`
	NodesPath   string `mapstructure:"nodesPath" yaml:"nodesPath"`
	JournalPath string `mapstructure:"journalPath" yaml:"journalPath"`
}

type LedgerConfig struct {
	Mode            string        `mapstructure:"mode" yaml:"mode"`
	RPCURL          string        `mapstructure:"rpcUrl" yaml:"rpcUrl"`
	PrivateKey      string        `mapstructure:"privateKey" yaml:"privateKey"`
	OwnerPrivateKey string        `mapstructure:"ownerPrivateKey" yaml:"ownerPrivateKey"`
	ContractAddress string        `mapstructure:"contractAddress" yaml:"contractAddress"`
	ABIPath         string        `mapstructure:"abiPath" yaml:"abiPath"`
	ConfirmTimeout  time.Duration `mapstructure:"confirmTimeout" yaml:"confirmTimeout"`
	MaxTxPerSecond  float64       `mapstructure:"maxTxPerSecond" yaml:"maxTxPerSecond"`
	// SimulatedLatency only applies to mode=simulated.
	SimulatedLatency time.Duration `mapstructure:"simulatedLatency" yaml:"simulatedLatency"`
}

// Ethereum converts the section into the client's settings.
func (l LedgerConfig) Ethereum() ledger.EthereumConfig {
	return ledger.EthereumConfig{
		RPCURL:          l.RPCURL,
		PrivateKey:      l.PrivateKey,
		OwnerPrivateKey: l.OwnerPrivateKey,
		ContractAddress: l.ContractAddress,
		ABIPath:         l.ABIPath,
		MaxTxPerSecond:  l.MaxTxPerSecond,
	}
}

type SettlementConfig struct {
	Workers        int           `mapstructure:"workers" yaml:"workers"`
	MaxAttempts    int           `mapstructure:"maxAttempts" yaml:"maxAttempts"`
	InitialBackoff time.Duration `mapstructure:"initialBackoff" yaml:"initialBackoff"`
	MaxBackoff     time.Duration `mapstructure:"maxBackoff" yaml:"maxBackoff"`
}

type SelectionConfig struct {
	EnforceMinMemory bool `mapstructure:"enforceMinMemory" yaml:"enforceMinMemory"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// legacyEnv maps keys to the unprefixed variable names older deployments use.
var legacyEnv = map[string]string{
	"server.port":            "PORT",
	"ledger.rpcUrl":          "RPC_URL",
	"ledger.privateKey":      "PRIVATE_KEY",
	"ledger.ownerPrivateKey": "PRIVATE_KEY_OWNER",
	"ledger.contractAddress": "CONTRACT_ADDRESS",
	"ledger.abiPath":         "ABI_PATH",
}

// SetDefaults installs every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.readTimeout", "15s")
	v.SetDefault("server.writeTimeout", "3m")
	v.SetDefault("server.shutdownTimeout", "10s")

	v.SetDefault("grpc.port", 0)

	v.SetDefault("storage.jobsPath", "jobs.json")
	v.SetDefault("storage.nodesPath", "nodes.json")
	v.SetDefault("storage.journalPath", "settlement.wal")

	v.SetDefault("ledger.mode", LedgerEthereum)
	v.SetDefault("ledger.rpcUrl", "")
	v.SetDefault("ledger.privateKey", "")
	v.SetDefault("ledger.ownerPrivateKey", "")
	v.SetDefault("ledger.contractAddress", "")
	v.SetDefault("ledger.abiPath", "abi/JobRegistryABI.json")
	v.SetDefault("ledger.confirmTimeout", "2m")
	v.SetDefault("ledger.maxTxPerSecond", 5)
	v.SetDefault("ledger.simulatedLatency", "0s")

	v.SetDefault("settlement.workers", 2)
	v.SetDefault("settlement.maxAttempts", 5)
	v.SetDefault("settlement.initialBackoff", "2s")
	v.SetDefault("settlement.maxBackoff", "1m")

	v.SetDefault("selection.enforceMinMemory", false)
	v.SetDefault("metrics.enabled", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Load reads the configuration. path may be empty, in which case
// ./scheduler.yaml is used if it exists. envFile may be empty to skip .env.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else {
		v.SetConfigName("scheduler")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("config: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		structured := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, structured, legacy); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for the serve path.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.GRPC.Port < 0 || c.GRPC.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("grpc.port %d out of range", c.GRPC.Port))
	}
	if c.Storage.JobsPath == "" || c.Storage.NodesPath == "" || c.Storage.JournalPath == "" {
		result = multierror.Append(result, errors.New("storage paths must not be empty"))
	}

	switch c.Ledger.Mode {
	case LedgerSimulated:
	case LedgerEthereum:
		for name, val := range map[string]string{
			"ledger.rpcUrl":          c.Ledger.RPCURL,
			"ledger.privateKey":      c.Ledger.PrivateKey,
			"ledger.ownerPrivateKey": c.Ledger.OwnerPrivateKey,
			"ledger.abiPath":         c.Ledger.ABIPath,
		} {
			if strings.TrimSpace(val) == "" {
				result = multierror.Append(result, fmt.Errorf("%s is required in ethereum mode", name))
			}
		}
		if !ledger.ValidAddress(c.Ledger.ContractAddress) {
			result = multierror.Append(result, fmt.Errorf("ledger.contractAddress %q is not a valid address", c.Ledger.ContractAddress))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("ledger.mode %q must be %s or %s", c.Ledger.Mode, LedgerEthereum, LedgerSimulated))
	}
	if c.Ledger.ConfirmTimeout <= 0 {
		result = multierror.Append(result, errors.New("ledger.confirmTimeout must be positive"))
	}

	if c.Settlement.Workers < 1 {
		result = multierror.Append(result, errors.New("settlement.workers must be at least 1"))
	}
	if c.Settlement.MaxAttempts < 1 {
		result = multierror.Append(result, errors.New("settlement.maxAttempts must be at least 1"))
	}
	if c.Settlement.InitialBackoff <= 0 || c.Settlement.MaxBackoff < c.Settlement.InitialBackoff {
		result = multierror.Append(result, errors.New("settlement backoff must satisfy 0 < initialBackoff <= maxBackoff"))
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		result = multierror.Append(result, fmt.Errorf("logging.level: %w", err))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		result = multierror.Append(result, fmt.Errorf("logging.format %q must be json or console", c.Logging.Format))
	}

	return result.ErrorOrNil()
}
