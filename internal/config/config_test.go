package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func newFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("rpc-url", "", "")
	flags.String("target-address", "", "")
	flags.String("event-string", "", "")
	flags.Uint64("start-block", 0, "")
	flags.Uint64("stop-block", 0, "")
	flags.Uint64("step-block", 2048, "")
	flags.Bool("block-number", false, "")
	flags.Int("client-number", 1, "")
	flags.Duration("retry-backoff", 250*time.Millisecond, "")
	return flags
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	flags := newFlags()
	if err := flags.Parse([]string{"--rpc-url", "http://localhost:8545", "--block-number"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load("", flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCURL != "http://localhost:8545" || !cfg.BlockNumber {
		t.Fatalf("flag values not applied: %+v", cfg)
	}
	if cfg.StepBlock != 2048 || cfg.ClientNumber != 1 || cfg.MaxRetries != 8 || !cfg.Strict {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.StopBlock != nil {
		t.Fatalf("stop block should be unset, got %d", *cfg.StopBlock)
	}
	if cfg.Out != "-" || cfg.Format != FormatCSV {
		t.Fatalf("output defaults mismatch: %+v", cfg)
	}
}

func TestLoadStopBlockZero(t *testing.T) {
	chdir(t, t.TempDir())

	flags := newFlags()
	if err := flags.Parse([]string{"--stop-block", "0"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load("", flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StopBlock == nil || *cfg.StopBlock != 0 {
		t.Fatalf("explicit stop block 0 should be kept: %+v", cfg.StopBlock)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "export.yaml")
	content := "rpc-url: http://file:8545\nstep-block: 500\nevent-string: Sync(uint112,uint112)\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("LOGEXPORT_TARGET_ADDRESS", "0x1111111111111111111111111111111111111111")
	t.Setenv("LOGEXPORT_STOP_BLOCK", "900")

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCURL != "http://file:8545" || cfg.StepBlock != 500 || cfg.EventString != "Sync(uint112,uint112)" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.TargetAddress != "0x1111111111111111111111111111111111111111" {
		t.Fatalf("env value not applied: %+v", cfg)
	}
	if cfg.StopBlock == nil || *cfg.StopBlock != 900 {
		t.Fatalf("env stop block not applied: %+v", cfg.StopBlock)
	}
}

func TestValidate(t *testing.T) {
	stop := uint64(5)
	valid := Config{
		RPCURL:        "http://localhost:8545",
		TargetAddress: "0x1111111111111111111111111111111111111111",
		EventString:   "Sync(uint112,uint112)",
		StepBlock:     2048,
		ClientNumber:  1,
		Format:        FormatCSV,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	invalid := []func(c *Config){
		func(c *Config) { c.RPCURL = "" },
		func(c *Config) { c.EventString = "" },
		func(c *Config) { c.StepBlock = 0 },
		func(c *Config) { c.ClientNumber = 0 },
		func(c *Config) { c.Format = "xml" },
		func(c *Config) { c.StartBlock = 10; c.StopBlock = &stop },
	}
	for i, mutate := range invalid {
		cfg := valid
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}
