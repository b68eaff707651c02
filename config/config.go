/*
Package config loads server configuration.

PURPOSE:
  One Config struct for the whole process, read by viper from (in order of
  precedence) environment variables, an optional YAML file, and defaults.

ENVIRONMENT:
  Every key can be overridden with a PAYROLL_ variable, dots becoming
  underscores:

    PAYROLL_SERVER_PORT=9090
    PAYROLL_PAYROLL_WORKERS=16
    PAYROLL_WAGE_ADVANCE_PERCENTAGE_ALLOWED=0.4

MONEY:
  Amounts in the file are whole naira (owner_approval_threshold: 5000000).

SEE ALSO:
  - cmd/server/main.go: Wiring
  - logging/logging.go: Logger construction from LoggerConfig
*/
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payrun"
	"github.com/warp/payroll-engine/wageadvance"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logger      LoggerConfig      `mapstructure:"logger"`
	Payroll     PayrollConfig     `mapstructure:"payroll"`
	WageAdvance WageAdvanceConfig `mapstructure:"wage_advance"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// Addr is host:port for http.Server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DatabaseConfig struct {
	// Path is a SQLite file, or ":memory:".
	Path string `mapstructure:"path"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json or console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, or file path
}

type PayrollConfig struct {
	Workers                int    `mapstructure:"workers"`
	OwnerApprovalThreshold int64  `mapstructure:"owner_approval_threshold"`
	DefaultJurisdiction    string `mapstructure:"default_jurisdiction"`
	// SeedStatutoryTables publishes PITA 2011 and NTA 2025 tables for each
	// jurisdiction on startup if they are missing.
	SeedStatutoryTables bool     `mapstructure:"seed_statutory_tables"`
	SeedJurisdictions   []string `mapstructure:"seed_jurisdictions"`
	// TaxTablesFile is an optional YAML file of extra tables to publish.
	TaxTablesFile string `mapstructure:"tax_tables_file"`
}

// Orchestrator converts to the pay run orchestrator's settings.
func (c PayrollConfig) Orchestrator() payrun.Config {
	return payrun.Config{
		Workers:                c.Workers,
		OwnerApprovalThreshold: generic.NewMoney(c.OwnerApprovalThreshold),
	}
}

type WageAdvanceConfig struct {
	PercentageAllowed float64 `mapstructure:"percentage_allowed"`
	MaxActiveAdvances int     `mapstructure:"max_active_advances"`
	MinInstallments   int     `mapstructure:"min_installments"`
	MaxInstallments   int     `mapstructure:"max_installments"`
	MinAmount         int64   `mapstructure:"min_amount"`
}

// Policy converts to the eligibility policy.
func (c WageAdvanceConfig) Policy() wageadvance.Policy {
	return wageadvance.Policy{
		PercentageAllowed: decimal.NewFromFloat(c.PercentageAllowed),
		MaxActiveAdvances: c.MaxActiveAdvances,
		MinInstallments:   c.MinInstallments,
		MaxInstallments:   c.MaxInstallments,
		MinAmount:         generic.NewMoney(c.MinAmount),
	}
}

type SchedulerConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	OverdueCheckInterval time.Duration `mapstructure:"overdue_check_interval"`
}

// Load reads configuration. configPath may be empty, in which case only
// defaults and the environment apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PAYROLL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("database.path", "./data/payroll.db")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output_path", "stdout")

	v.SetDefault("payroll.workers", 8)
	v.SetDefault("payroll.owner_approval_threshold", 5_000_000)
	v.SetDefault("payroll.default_jurisdiction", "NG-LA")
	v.SetDefault("payroll.seed_statutory_tables", true)
	v.SetDefault("payroll.seed_jurisdictions", []string{"NG-LA", "NG-FC"})
	v.SetDefault("payroll.tax_tables_file", "")

	v.SetDefault("wage_advance.percentage_allowed", 0.5)
	v.SetDefault("wage_advance.max_active_advances", 1)
	v.SetDefault("wage_advance.min_installments", 1)
	v.SetDefault("wage_advance.max_installments", 6)
	v.SetDefault("wage_advance.min_amount", 1_000)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.overdue_check_interval", time.Hour)
}

// Validate rejects configurations the server can't run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	switch c.Logger.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logger.format must be json or console, got %q", c.Logger.Format))
	}
	if c.Payroll.Workers < 1 {
		errs = append(errs, errors.New("payroll.workers must be at least 1"))
	}
	if c.Payroll.OwnerApprovalThreshold < 0 {
		errs = append(errs, errors.New("payroll.owner_approval_threshold must not be negative"))
	} else if err := generic.CheckNaira(c.Payroll.OwnerApprovalThreshold); err != nil {
		errs = append(errs, fmt.Errorf("payroll.owner_approval_threshold: %w", err))
	}
	if c.Payroll.DefaultJurisdiction == "" {
		errs = append(errs, errors.New("payroll.default_jurisdiction is required"))
	}
	if err := generic.CheckNaira(c.WageAdvance.MinAmount); err != nil {
		errs = append(errs, fmt.Errorf("wage_advance.min_amount: %w", err))
	} else if err := c.WageAdvance.Policy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("wage_advance: %w", err))
	}
	if c.Scheduler.Enabled && c.Scheduler.OverdueCheckInterval <= 0 {
		errs = append(errs, errors.New("scheduler.overdue_check_interval must be positive"))
	}
	return errors.Join(errs...)
}
