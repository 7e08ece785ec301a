package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Helper to clear all config-related env vars
func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"SOURCE_URL",
		"SOURCE_KEY",
		"GRIDSYNC_SOURCE_TABLE",
		"GRIDSYNC_PAGE_SIZE",
		"GRIDSYNC_SOURCE_TIMEOUT",
		"GRIDSYNC_SHEET_BACKEND",
		"GRIDSYNC_SHEET_PATH",
		"GRIDSYNC_SHEET_NAME",
		"GRIDSYNC_IDENTITY_COLUMN",
		"GRIDSYNC_TIMEZONE",
		"GRIDSYNC_CUTOVER",
		"GRIDSYNC_SCHEDULE",
		"GRIDSYNC_PORT",
		"GRIDSYNC_API_KEY",
		"GRIDSYNC_SHUTDOWN_TIMEOUT",
		"GRIDSYNC_LOG_LEVEL",
		"GRIDSYNC_LOG_FORMAT",
		"GRIDSYNC_CONFIG_PATH",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}

// Helper to set the required source credentials
func setSourceEnv(t *testing.T) {
	t.Helper()
	os.Setenv("SOURCE_URL", "https://example.supabase.co")
	os.Setenv("SOURCE_KEY", "test-service-key")
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	setSourceEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Source.Table != "orders" {
		t.Errorf("Source.Table = %q, want orders", cfg.Source.Table)
	}
	if cfg.Source.PageSize != 1000 {
		t.Errorf("Source.PageSize = %d, want 1000", cfg.Source.PageSize)
	}
	if cfg.Source.OrderBy != "id" {
		t.Errorf("Source.OrderBy = %q, want id", cfg.Source.OrderBy)
	}
	if cfg.Source.ModifiedField != "updated_at" {
		t.Errorf("Source.ModifiedField = %q, want updated_at", cfg.Source.ModifiedField)
	}
	if cfg.Sheet.Backend != "sqlite" {
		t.Errorf("Sheet.Backend = %q, want sqlite", cfg.Sheet.Backend)
	}
	if cfg.Schema.Identity != "id" {
		t.Errorf("Schema.Identity = %q, want id", cfg.Schema.Identity)
	}
	if len(cfg.Schema.Columns) == 0 {
		t.Error("Schema.Columns is empty")
	}
	if cfg.Sync.Timezone != "Asia/Seoul" {
		t.Errorf("Sync.Timezone = %q, want Asia/Seoul", cfg.Sync.Timezone)
	}
	if cfg.Sync.Cutover != "15:30" {
		t.Errorf("Sync.Cutover = %q, want 15:30", cfg.Sync.Cutover)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if time.Duration(cfg.Server.ShutdownTimeout) != 15*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 15s", time.Duration(cfg.Server.ShutdownTimeout))
	}
}

func TestLoad_MissingCredentials(t *testing.T) {
	clearEnv(t)

	_, err := Load()
	if err == nil {
		t.Fatal("Load() succeeded without SOURCE_URL")
	}
	if !strings.Contains(err.Error(), "SOURCE_URL") {
		t.Errorf("error %q does not mention SOURCE_URL", err)
	}

	os.Setenv("SOURCE_URL", "https://example.supabase.co")
	defer os.Unsetenv("SOURCE_URL")

	_, err = Load()
	if err == nil {
		t.Fatal("Load() succeeded without SOURCE_KEY")
	}
	if !strings.Contains(err.Error(), "SOURCE_KEY") {
		t.Errorf("error %q does not mention SOURCE_KEY", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	setSourceEnv(t)
	os.Setenv("GRIDSYNC_PAGE_SIZE", "2000")
	os.Setenv("GRIDSYNC_SHEET_BACKEND", "csv")
	os.Setenv("GRIDSYNC_SHEET_PATH", "/tmp/orders.csv")
	os.Setenv("GRIDSYNC_CUTOVER", "16:00")
	os.Setenv("GRIDSYNC_LOG_LEVEL", "debug")
	defer clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Source.PageSize != 2000 {
		t.Errorf("Source.PageSize = %d, want 2000", cfg.Source.PageSize)
	}
	if cfg.Sheet.Backend != "csv" {
		t.Errorf("Sheet.Backend = %q, want csv", cfg.Sheet.Backend)
	}
	if cfg.Sheet.Path != "/tmp/orders.csv" {
		t.Errorf("Sheet.Path = %q, want /tmp/orders.csv", cfg.Sheet.Path)
	}
	if cfg.Sync.Cutover != "16:00" {
		t.Errorf("Sync.Cutover = %q, want 16:00", cfg.Sync.Cutover)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	setSourceEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "gridsync.yaml")
	content := `
source:
  table: uzu_orders
  page_size: 500
sheet:
  backend: csv
  path: orders.csv
schema:
  columns: [id, order_no, order_time]
  identity: id
sync:
  cutover: "14:00"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Source.Table != "uzu_orders" {
		t.Errorf("Source.Table = %q, want uzu_orders", cfg.Source.Table)
	}
	if cfg.Source.PageSize != 500 {
		t.Errorf("Source.PageSize = %d, want 500", cfg.Source.PageSize)
	}
	if len(cfg.Schema.Columns) != 3 {
		t.Errorf("Schema.Columns = %v, want 3 columns", cfg.Schema.Columns)
	}
	if cfg.Sync.Cutover != "14:00" {
		t.Errorf("Sync.Cutover = %q, want 14:00", cfg.Sync.Cutover)
	}
}

func TestValidate_IdentityNotInColumns(t *testing.T) {
	clearEnv(t)
	setSourceEnv(t)
	os.Setenv("GRIDSYNC_IDENTITY_COLUMN", "nonexistent")
	defer clearEnv(t)

	_, err := Load()
	if err == nil {
		t.Fatal("Load() accepted an identity column outside the schema")
	}
}

func TestValidate_BadBackend(t *testing.T) {
	clearEnv(t)
	setSourceEnv(t)
	os.Setenv("GRIDSYNC_SHEET_BACKEND", "gsheet")
	defer clearEnv(t)

	_, err := Load()
	if err == nil {
		t.Fatal("Load() accepted an unknown sheet backend")
	}
}

func TestParseCutover(t *testing.T) {
	tests := []struct {
		in      string
		wantH   int
		wantM   int
		wantErr bool
	}{
		{"15:30", 15, 30, false},
		{"00:00", 0, 0, false},
		{"23:59", 23, 59, false},
		{"24:00", 0, 0, true},
		{"15:60", 0, 0, true},
		{"1530", 0, 0, true},
		{"", 0, 0, true},
	}

	for _, tt := range tests {
		c, err := ParseCutover(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseCutover(%q) succeeded, want error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseCutover(%q) error = %v", tt.in, err)
			continue
		}
		if c.Hour != tt.wantH || c.Minute != tt.wantM {
			t.Errorf("ParseCutover(%q) = %d:%d, want %d:%d", tt.in, c.Hour, c.Minute, tt.wantH, tt.wantM)
		}
	}
}
