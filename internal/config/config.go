// Package config loads application settings from the config file, the
// environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Veraticus/expensetrack/internal/common"
	"github.com/Veraticus/expensetrack/internal/matching"
	"github.com/Veraticus/expensetrack/internal/report"
	"github.com/Veraticus/expensetrack/internal/scoring"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. EXPENSETRACK_DATABASE_PATH.
const EnvPrefix = "EXPENSETRACK"

// Embedder names.
const (
	EmbedderHashing = "hashing"
	EmbedderGemini  = "gemini"
)

// Config holds every runtime setting.
type Config struct {
	Database       DatabaseConfig
	Logging        LoggingConfig
	Normalize      NormalizeConfig
	User           UserConfig
	Categorization CategorizationConfig
	Report         ReportConfig
	Matching       MatchingConfig
	Worker         WorkerConfig
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string
}

// LoggingConfig configures slog.
type LoggingConfig struct {
	Level  string
	Format string
}

// UserConfig names the user records belong to.
type UserConfig struct {
	ID string
}

// MatchingConfig tunes match proposals.
type MatchingConfig struct {
	MinScore            float64
	AmountTolerancePct  float64
	DateWindowDays      int
	CandidateWindowDays int
}

// CategorizationConfig tunes the tier chain.
type CategorizationConfig struct {
	Embedder           string
	GeminiModel        string
	GeminiAPIKey       string
	EmbeddingThreshold float64
	LookupTimeout      time.Duration
	EmbeddingDims      int
}

// ReportConfig tunes report generation.
type ReportConfig struct {
	ReceiptThreshold      decimal.Decimal
	ProgressInterval      time.Duration
	ProgressEveryLines    int
	CancelCheckEveryLines int
}

// WorkerConfig tunes the background job worker.
type WorkerConfig struct {
	PollInterval time.Duration
	Concurrency  int
}

// NormalizeConfig points at an optional vendor rule file.
type NormalizeConfig struct {
	PatternsFile string
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", DefaultDatabasePath())
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("user.id", "default")

	v.SetDefault("matching.min_score", 50.0)
	v.SetDefault("matching.date_window_days", 7)
	v.SetDefault("matching.amount_tolerance_pct", 20.0)
	v.SetDefault("matching.candidate_window_days", 10)

	v.SetDefault("categorization.embedder", EmbedderHashing)
	v.SetDefault("categorization.embedding_threshold", 0.85)
	v.SetDefault("categorization.lookup_timeout", 2*time.Second)
	v.SetDefault("categorization.embedding_dims", 256)
	v.SetDefault("categorization.gemini_model", "text-embedding-004")

	v.SetDefault("report.progress_every_lines", report.DefaultProgressEveryLines)
	v.SetDefault("report.progress_interval", report.DefaultProgressInterval)
	v.SetDefault("report.cancel_check_every_lines", report.DefaultCancelCheckEveryLines)
	v.SetDefault("report.receipt_threshold", "75.00")

	v.SetDefault("worker.concurrency", report.DefaultConcurrency)
	v.SetDefault("worker.poll_interval", report.DefaultPollInterval)

	v.SetDefault("normalize.patterns_file", "")
}

// BindEnv makes EXPENSETRACK_* variables override config keys. The Gemini key
// is also read from GEMINI_API_KEY.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("categorization.gemini_api_key", EnvPrefix+"_GEMINI_API_KEY", "GEMINI_API_KEY")
}

// LoadDotEnv loads variables from the given .env files, skipping missing ones.
// Variables already set in the environment win.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		path = ExpandPath(path)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// Load reads the configuration from v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	threshold, err := decimal.NewFromString(strings.TrimSpace(v.GetString("report.receipt_threshold")))
	if err != nil {
		return nil, fmt.Errorf("%w: report.receipt_threshold: %w", common.ErrInvalidConfig, err)
	}

	cfg := &Config{
		Database: DatabaseConfig{Path: ExpandPath(v.GetString("database.path"))},
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
		User: UserConfig{ID: v.GetString("user.id")},
		Matching: MatchingConfig{
			MinScore:            v.GetFloat64("matching.min_score"),
			DateWindowDays:      v.GetInt("matching.date_window_days"),
			AmountTolerancePct:  v.GetFloat64("matching.amount_tolerance_pct"),
			CandidateWindowDays: v.GetInt("matching.candidate_window_days"),
		},
		Categorization: CategorizationConfig{
			Embedder:           strings.ToLower(v.GetString("categorization.embedder")),
			EmbeddingThreshold: v.GetFloat64("categorization.embedding_threshold"),
			LookupTimeout:      v.GetDuration("categorization.lookup_timeout"),
			EmbeddingDims:      v.GetInt("categorization.embedding_dims"),
			GeminiModel:        v.GetString("categorization.gemini_model"),
			GeminiAPIKey:       v.GetString("categorization.gemini_api_key"),
		},
		Report: ReportConfig{
			ReceiptThreshold:      threshold,
			ProgressEveryLines:    v.GetInt("report.progress_every_lines"),
			ProgressInterval:      v.GetDuration("report.progress_interval"),
			CancelCheckEveryLines: v.GetInt("report.cancel_check_every_lines"),
		},
		Worker: WorkerConfig{
			Concurrency:  v.GetInt("worker.concurrency"),
			PollInterval: v.GetDuration("worker.poll_interval"),
		},
		Normalize: NormalizeConfig{PatternsFile: ExpandPath(v.GetString("normalize.patterns_file"))},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects out-of-range settings.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path is required", common.ErrInvalidConfig)
	}
	if strings.TrimSpace(c.User.ID) == "" {
		return fmt.Errorf("%w: user.id is required", common.ErrInvalidConfig)
	}
	if _, err := common.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("%w: logging.format must be console or json, got %q", common.ErrInvalidConfig, c.Logging.Format)
	}
	if err := c.MatchingConfig().Validate(); err != nil {
		return err
	}

	cat := c.Categorization
	switch {
	case cat.EmbeddingThreshold < 0 || cat.EmbeddingThreshold >= 1:
		return fmt.Errorf("%w: categorization.embedding_threshold must be in [0,1), got %.2f", common.ErrInvalidConfig, cat.EmbeddingThreshold)
	case cat.LookupTimeout <= 0:
		return fmt.Errorf("%w: categorization.lookup_timeout must be positive", common.ErrInvalidConfig)
	case cat.EmbeddingDims <= 0:
		return fmt.Errorf("%w: categorization.embedding_dims must be positive", common.ErrInvalidConfig)
	case cat.Embedder != EmbedderHashing && cat.Embedder != EmbedderGemini:
		return fmt.Errorf("%w: categorization.embedder must be %s or %s, got %q", common.ErrInvalidConfig, EmbedderHashing, EmbedderGemini, cat.Embedder)
	case cat.Embedder == EmbedderGemini && cat.GeminiAPIKey == "":
		return fmt.Errorf("%w: the gemini embedder needs GEMINI_API_KEY", common.ErrMissingConfig)
	}

	if err := c.ReportConfig().Validate(); err != nil {
		return err
	}
	if c.Worker.Concurrency <= 0 || c.Worker.PollInterval <= 0 {
		return fmt.Errorf("%w: worker.concurrency and worker.poll_interval must be positive", common.ErrInvalidConfig)
	}
	return nil
}

// MatchingConfig returns the match engine configuration.
func (c *Config) MatchingConfig() matching.Config {
	cfg := matching.DefaultConfig()
	cfg.MinScore = c.Matching.MinScore
	cfg.CandidateWindowDays = c.Matching.CandidateWindowDays
	cfg.Scoring = scoring.DefaultConfig()
	cfg.Scoring.DateWindowDays = c.Matching.DateWindowDays
	cfg.Scoring.AmountTolerancePct = c.Matching.AmountTolerancePct
	return cfg
}

// ReportConfig returns the report generator configuration.
func (c *Config) ReportConfig() report.Config {
	return report.Config{
		ReceiptThreshold:      c.Report.ReceiptThreshold,
		ProgressInterval:      c.Report.ProgressInterval,
		ProgressEveryLines:    c.Report.ProgressEveryLines,
		CancelCheckEveryLines: c.Report.CancelCheckEveryLines,
	}
}
