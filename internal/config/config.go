package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Output formats.
const (
	FormatCSV   = "csv"
	FormatJSONL = "jsonl"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL        string
	TargetAddress string
	EventString   string
	StartBlock    uint64
	// StopBlock is nil when the export should run to the current chain height.
	StopBlock     *uint64
	StepBlock     uint64
	BlockNumber   bool
	BlockHash     bool
	TxHash        bool
	ClientNumber  int
	Log           bool
	LogLevel      string
	Workers       int
	DecodeWorkers int
	MaxRetries    int
	RetryBackoff  time.Duration
	Strict        bool
	Out           string
	Format        string
	Errors        string
	PGDSN         string
	PGTable       string
	MetricsAddr   string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LOGEXPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("start-block", uint64(0))
	v.SetDefault("step-block", uint64(2048))
	v.SetDefault("client-number", 1)
	v.SetDefault("log", false)
	v.SetDefault("log-level", "info")
	v.SetDefault("workers", 8)
	v.SetDefault("decode-workers", 0)
	v.SetDefault("max-retries", 8)
	v.SetDefault("retry-backoff", 250*time.Millisecond)
	v.SetDefault("strict", true)
	v.SetDefault("out", "-")
	v.SetDefault("format", FormatCSV)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("logexport")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:        v.GetString("rpc-url"),
		TargetAddress: v.GetString("target-address"),
		EventString:   v.GetString("event-string"),
		StartBlock:    v.GetUint64("start-block"),
		StepBlock:     v.GetUint64("step-block"),
		BlockNumber:   v.GetBool("block-number"),
		BlockHash:     v.GetBool("block-hash"),
		TxHash:        v.GetBool("tx-hash"),
		ClientNumber:  v.GetInt("client-number"),
		Log:           v.GetBool("log"),
		LogLevel:      v.GetString("log-level"),
		Workers:       v.GetInt("workers"),
		DecodeWorkers: v.GetInt("decode-workers"),
		MaxRetries:    v.GetInt("max-retries"),
		RetryBackoff:  v.GetDuration("retry-backoff"),
		Strict:        v.GetBool("strict"),
		Out:           v.GetString("out"),
		Format:        strings.ToLower(v.GetString("format")),
		Errors:        v.GetString("errors"),
		PGDSN:         v.GetString("pg-dsn"),
		PGTable:       v.GetString("pg-table"),
		MetricsAddr:   v.GetString("metrics-addr"),
	}
	if v.IsSet("stop-block") {
		stop := v.GetUint64("stop-block")
		cfg.StopBlock = &stop
	}

	return cfg, nil
}

// Validate checks required values and ranges.
func (c Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if c.TargetAddress == "" {
		return fmt.Errorf("target address is required")
	}
	if c.EventString == "" {
		return fmt.Errorf("event string is required")
	}
	if c.StepBlock == 0 {
		return fmt.Errorf("step block must be greater than zero")
	}
	if c.ClientNumber <= 0 {
		return fmt.Errorf("client number must be greater than zero")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	if c.StopBlock != nil && *c.StopBlock < c.StartBlock {
		return fmt.Errorf("stop block %d is before start block %d", *c.StopBlock, c.StartBlock)
	}
	switch c.Format {
	case FormatCSV, FormatJSONL:
	default:
		return fmt.Errorf("unsupported output format: %s", c.Format)
	}
	return nil
}
