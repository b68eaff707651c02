package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/generic"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "json", cfg.Logger.Format)
	assert.Equal(t, 8, cfg.Payroll.Workers)
	assert.Equal(t, []string{"NG-LA", "NG-FC"}, cfg.Payroll.SeedJurisdictions)
	assert.Equal(t, time.Hour, cfg.Scheduler.OverdueCheckInterval)

	policy := cfg.WageAdvance.Policy()
	assert.Equal(t, "0.5", policy.PercentageAllowed.String())
	assert.Equal(t, generic.NewMoney(1_000), policy.MinAmount)
	assert.Equal(t, generic.NewMoney(5_000_000), cfg.Payroll.Orchestrator().OwnerApprovalThreshold)
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	// GIVEN: A YAML file and an env override for the same key
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
  read_timeout: 5s
payroll:
  workers: 4
  owner_approval_threshold: 2000000
wage_advance:
  percentage_allowed: 0.3
scheduler:
  overdue_check_interval: 15m
`), 0o644))
	t.Setenv("PAYROLL_PAYROLL_WORKERS", "16")

	// WHEN: Loaded
	cfg, err := Load(path)
	require.NoError(t, err)

	// THEN: The environment wins, the file beats defaults
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 16, cfg.Payroll.Workers)
	assert.Equal(t, int64(2_000_000), cfg.Payroll.OwnerApprovalThreshold)
	assert.Equal(t, "0.3", cfg.WageAdvance.Policy().PercentageAllowed.String())
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.OverdueCheckInterval)
	assert.Equal(t, "info", cfg.Logger.Level, "untouched keys keep defaults")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cases := map[string]func(*Config){
		"port":        func(c *Config) { c.Server.Port = 0 },
		"db path":     func(c *Config) { c.Database.Path = "" },
		"log format":  func(c *Config) { c.Logger.Format = "xml" },
		"workers":     func(c *Config) { c.Payroll.Workers = 0 },
		"threshold":   func(c *Config) { c.Payroll.OwnerApprovalThreshold = -1 },
		"huge limit":  func(c *Config) { c.Payroll.OwnerApprovalThreshold = generic.MaxNaira + 1 },
		"huge min":    func(c *Config) { c.WageAdvance.MinAmount = generic.MaxNaira + 1 },
		"percentage":  func(c *Config) { c.WageAdvance.PercentageAllowed = 1.5 },
		"installment": func(c *Config) { c.WageAdvance.MaxInstallments = 0 },
		"interval":    func(c *Config) { c.Scheduler.OverdueCheckInterval = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	// Disabled scheduler doesn't need an interval
	cfg := valid()
	cfg.Scheduler.Enabled = false
	cfg.Scheduler.OverdueCheckInterval = 0
	assert.NoError(t, cfg.Validate())
}
