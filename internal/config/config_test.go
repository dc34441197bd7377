package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Veraticus/expensetrack/internal/common"
	"github.com/Veraticus/expensetrack/internal/sheets"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	v.Set("database.path", filepath.Join(t.TempDir(), "test.db"))
	return v
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(newViper(t))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, "default", cfg.User.ID)
	assert.InDelta(t, 50.0, cfg.Matching.MinScore, 0.001)
	assert.Equal(t, 7, cfg.Matching.DateWindowDays)
	assert.Equal(t, 10, cfg.Matching.CandidateWindowDays)
	assert.Equal(t, EmbedderHashing, cfg.Categorization.Embedder)
	assert.InDelta(t, 0.85, cfg.Categorization.EmbeddingThreshold, 0.0001)
	assert.Equal(t, 2*time.Second, cfg.Categorization.LookupTimeout)
	assert.Equal(t, 256, cfg.Categorization.EmbeddingDims)
	assert.True(t, cfg.Report.ReceiptThreshold.Equal(decimal.NewFromInt(75)))
	assert.Equal(t, 10, cfg.Report.ProgressEveryLines)
	assert.Equal(t, 5*time.Second, cfg.Report.ProgressInterval)
	assert.Equal(t, 2, cfg.Worker.Concurrency)
	assert.Equal(t, 2*time.Second, cfg.Worker.PollInterval)

	matchingCfg := cfg.MatchingConfig()
	assert.Equal(t, 7, matchingCfg.Scoring.DateWindowDays)
	assert.InDelta(t, 20.0, matchingCfg.Scoring.AmountTolerancePct, 0.001)
	assert.NoError(t, cfg.ReportConfig().Validate())
}

func TestLoad_Overrides(t *testing.T) {
	v := newViper(t)
	v.Set("matching.min_score", 65)
	v.Set("report.receipt_threshold", "25.50")
	v.Set("report.progress_interval", "1s")
	v.Set("worker.concurrency", 4)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.InDelta(t, 65.0, cfg.Matching.MinScore, 0.001)
	assert.True(t, cfg.Report.ReceiptThreshold.Equal(decimal.RequireFromString("25.50")))
	assert.Equal(t, time.Second, cfg.Report.ProgressInterval)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("EXPENSETRACK_USER_ID", "alice")
	t.Setenv("GEMINI_API_KEY", "secret")

	v := newViper(t)
	BindEnv(v)
	v.Set("categorization.embedder", "gemini")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "alice", cfg.User.ID)
	assert.Equal(t, "secret", cfg.Categorization.GeminiAPIKey)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   any
		wantErr error
	}{
		{name: "log level", key: "logging.level", value: "loud", wantErr: common.ErrInvalidConfig},
		{name: "log format", key: "logging.format", value: "xml", wantErr: common.ErrInvalidConfig},
		{name: "min score", key: "matching.min_score", value: 120, wantErr: common.ErrInvalidConfig},
		{name: "threshold", key: "categorization.embedding_threshold", value: 1.5, wantErr: common.ErrInvalidConfig},
		{name: "embedder", key: "categorization.embedder", value: "word2vec", wantErr: common.ErrInvalidConfig},
		{name: "gemini without key", key: "categorization.embedder", value: "gemini", wantErr: common.ErrMissingConfig},
		{name: "receipt threshold", key: "report.receipt_threshold", value: "lots", wantErr: common.ErrInvalidConfig},
		{name: "negative receipt threshold", key: "report.receipt_threshold", value: "-1", wantErr: common.ErrInvalidConfig},
		{name: "progress lines", key: "report.progress_every_lines", value: 0, wantErr: common.ErrInvalidConfig},
		{name: "worker", key: "worker.concurrency", value: 0, wantErr: common.ErrInvalidConfig},
		{name: "user", key: "user.id", value: " ", wantErr: common.ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GEMINI_API_KEY", "")
			v := newViper(t)
			v.Set(tt.key, tt.value)
			_, err := Load(v)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("EXPENSETRACK_DOTENV_PROBE=loaded\n"), 0o600))
	t.Setenv("EXPENSETRACK_DOTENV_PROBE", "")
	require.NoError(t, os.Unsetenv("EXPENSETRACK_DOTENV_PROBE"))

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "loaded", os.Getenv("EXPENSETRACK_DOTENV_PROBE"))
}

func TestLoadSheetsConfig(t *testing.T) {
	for _, key := range []string{
		"GOOGLE_SHEETS_SERVICE_ACCOUNT_PATH", "GOOGLE_SHEETS_CLIENT_ID", "GOOGLE_SHEETS_CLIENT_SECRET",
		"GOOGLE_SHEETS_REFRESH_TOKEN", "GOOGLE_SHEETS_SPREADSHEET_ID", "GOOGLE_SHEETS_SPREADSHEET_NAME",
	} {
		t.Setenv(key, "")
	}

	v := viper.New()
	_, err := LoadSheetsConfig(v)
	assert.ErrorIs(t, err, common.ErrInvalidConfig)

	t.Setenv("GOOGLE_SHEETS_SERVICE_ACCOUNT_PATH", "/keys/sa.json")
	v.Set("sheets.spreadsheet_id", "sheet-123")
	cfg, err := LoadSheetsConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "/keys/sa.json", cfg.ServiceAccountPath)
	assert.Equal(t, "sheet-123", cfg.SpreadsheetID)
	assert.Equal(t, "Expense Reports", cfg.SpreadsheetName)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	t.Setenv("EXPENSETRACK_TEST_DIR", "/data")

	assert.Equal(t, "", ExpandPath(""))
	assert.Equal(t, home, ExpandPath("~"))
	assert.Equal(t, filepath.Join(home, "reports"), ExpandPath("~/reports"))
	assert.Equal(t, "/data/db.sqlite", ExpandPath("$EXPENSETRACK_TEST_DIR/db.sqlite"))
	assert.Equal(t, "relative/path", ExpandPath("relative/path"))
}

func TestXDGDirectories(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	t.Run("explicit base directories", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/etc/xdg-config")
		t.Setenv("XDG_DATA_HOME", "/var/xdg-data")

		assert.Equal(t, "/etc/xdg-config/expensetrack", ConfigDir())
		assert.Equal(t, "/var/xdg-data/expensetrack", DataDir())
		assert.Equal(t, "/var/xdg-data/expensetrack/expensetrack.db", DefaultDatabasePath())
		assert.Equal(t, "/etc/xdg-config/expensetrack/sheets_token.json", SheetsTokenFile(viper.New()))
	})

	t.Run("unset or relative falls back to home", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		t.Setenv("XDG_DATA_HOME", "relative/data")

		assert.Equal(t, filepath.Join(home, ".config", "expensetrack"), ConfigDir())
		assert.Equal(t, filepath.Join(home, ".local", "share", "expensetrack", "expensetrack.db"), DefaultDatabasePath())
	})

	t.Run("configured token file wins", func(t *testing.T) {
		v := viper.New()
		v.Set("sheets.token_file", "~/tokens/sheets.json")
		assert.Equal(t, filepath.Join(home, "tokens", "sheets.json"), SheetsTokenFile(v))
	})
}

func TestLoadSheetsConfig_CachedRefreshToken(t *testing.T) {
	for _, key := range []string{
		"GOOGLE_SHEETS_SERVICE_ACCOUNT_PATH", "GOOGLE_SHEETS_REFRESH_TOKEN",
	} {
		t.Setenv(key, "")
	}
	tokenFile := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, sheets.SaveToken(tokenFile, &oauth2.Token{AccessToken: "access", RefreshToken: "cached-refresh"}))

	v := viper.New()
	v.Set("sheets.client_id", "client")
	v.Set("sheets.client_secret", "secret")
	v.Set("sheets.token_file", tokenFile)

	cfg, err := LoadSheetsConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "cached-refresh", cfg.RefreshToken)
}
