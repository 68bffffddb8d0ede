package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/CymonMachera/OnSight-Helper/internal/cohort"
)

type Config struct {
	Env             string   `mapstructure:"ENV"`
	LogLevel        string   `mapstructure:"LOG_LEVEL"`
	RecordCount     int      `mapstructure:"RECORD_COUNT"`
	Prevalence      float64  `mapstructure:"PREVALENCE"`
	Seed            int64    `mapstructure:"SEED"`
	OutputPath      string   `mapstructure:"OUTPUT_PATH"`
	Port            string   `mapstructure:"PORT"`
	CORSOrigins     []string `mapstructure:"CORS_ORIGINS"`
	MaxServeRecords int      `mapstructure:"MAX_SERVE_RECORDS"`
	ArchiveMaxRuns  int      `mapstructure:"ARCHIVE_MAX_RUNS"`
	DatabaseURL     string   `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32    `mapstructure:"DB_MIN_CONNS"`
	SQLitePath      string   `mapstructure:"SQLITE_PATH"`
	S3Bucket        string   `mapstructure:"S3_BUCKET"`
	S3Region        string   `mapstructure:"S3_REGION"`
	S3Endpoint      string   `mapstructure:"S3_ENDPOINT"`
	S3Prefix        string   `mapstructure:"S3_PREFIX"`
	S3PathStyle     bool     `mapstructure:"S3_PATH_STYLE"`
	AuthSigningKey  string   `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer      string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience    string   `mapstructure:"AUTH_AUDIENCE"`
}

var keys = []string{
	"ENV", "LOG_LEVEL", "RECORD_COUNT", "PREVALENCE", "SEED", "OUTPUT_PATH",
	"PORT", "CORS_ORIGINS", "MAX_SERVE_RECORDS", "ARCHIVE_MAX_RUNS",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"SQLITE_PATH", "S3_BUCKET", "S3_REGION", "S3_ENDPOINT", "S3_PREFIX",
	"S3_PATH_STYLE", "AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
}

// Load reads configuration from a .env file (if present) and the process
// environment. Environment variables win over the file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("RECORD_COUNT", cohort.DefaultRecordCount)
	v.SetDefault("PREVALENCE", cohort.DefaultPrevalence)
	v.SetDefault("SEED", cohort.DefaultSeed)
	v.SetDefault("OUTPUT_PATH", cohort.DefaultOutputPath)
	v.SetDefault("PORT", "8000")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("MAX_SERVE_RECORDS", 100000)
	v.SetDefault("ARCHIVE_MAX_RUNS", 32)
	v.SetDefault("DB_MAX_CONNS", 4)
	v.SetDefault("DB_MIN_CONNS", 0)
	v.SetDefault("SQLITE_PATH", "synthetic_tb.db")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_PREFIX", "cohorts")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Cohort returns the generator configuration.
func (c *Config) Cohort() cohort.Config {
	return cohort.Config{
		RecordCount: c.RecordCount,
		Prevalence:  c.Prevalence,
		Seed:        c.Seed,
	}
}

// Validate rejects configurations the generator or server cannot run with.
// Out-of-range generation parameters surface as cohort.ErrValueConstraint.
func (c *Config) Validate() error {
	if err := c.Cohort().Validate(); err != nil {
		return err
	}
	if c.MaxServeRecords < 0 {
		return fmt.Errorf("MAX_SERVE_RECORDS must not be negative, got %d", c.MaxServeRecords)
	}
	if c.ArchiveMaxRuns < 0 {
		return fmt.Errorf("ARCHIVE_MAX_RUNS must not be negative, got %d", c.ArchiveMaxRuns)
	}
	if c.DBMaxConns < 0 || c.DBMinConns < 0 || (c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns) {
		return fmt.Errorf("invalid pool bounds: DB_MIN_CONNS=%d DB_MAX_CONNS=%d", c.DBMinConns, c.DBMaxConns)
	}
	if c.AuthIssuer != "" && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when AUTH_ISSUER is set")
	}
	return nil
}
