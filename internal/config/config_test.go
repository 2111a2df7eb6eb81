package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vitebski/db-autofill/pkg/models"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "autofill.json", `{
		"database": {"driver": "mysql", "host": "db.internal", "port": 3307, "name": "shop", "user": "app", "password": "secret"},
		"defaults": {"batch_size": 100, "null_probability": 0.25, "retry_backoff": "1s"},
		"tables": [
			{"name": "authors", "row_count": 5},
			{"name": "books", "row_count": 20, "columns": [
				{"name": "pages", "min_value": 10, "max_value": 900},
				{"name": "genre", "values": ["novel", "poetry"], "always_fill": true}
			]},
			{"name": "reviews"}
		]
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Database.Driver != "mysql" || cfg.Database.Port != "3307" || cfg.Database.Name != "shop" {
		t.Errorf("unexpected database config: %+v", cfg.Database)
	}
	if cfg.Defaults.BatchSize != 100 {
		t.Errorf("Expected batch size 100, got %d", cfg.Defaults.BatchSize)
	}
	if cfg.Defaults.NullProbability != 0.25 {
		t.Errorf("Expected null probability 0.25, got %v", cfg.Defaults.NullProbability)
	}
	if cfg.Defaults.RetryBackoff != time.Second {
		t.Errorf("Expected retry backoff 1s, got %v", cfg.Defaults.RetryBackoff)
	}
	if cfg.Defaults.MaxRetries != 3 || cfg.Defaults.UniqueAttempts != 10 {
		t.Errorf("Expected untouched defaults, got %+v", cfg.Defaults)
	}

	if got := cfg.RowCountFor("authors"); got != 5 {
		t.Errorf("Expected 5 authors, got %d", got)
	}
	if got := cfg.RowCountFor("reviews"); got != 50 {
		t.Errorf("Expected default row count 50 for reviews, got %d", got)
	}

	books, ok := cfg.Table("books")
	if !ok {
		t.Fatal("Expected books to be configured")
	}
	if len(books.Columns) != 2 {
		t.Fatalf("Expected 2 column overrides, got %d", len(books.Columns))
	}
	if books.Columns[0].MinValue == nil || *books.Columns[0].MinValue != 10 {
		t.Errorf("Expected pages min_value 10, got %v", books.Columns[0].MinValue)
	}
	if !books.Columns[1].AlwaysFill || len(books.Columns[1].Values) != 2 {
		t.Errorf("unexpected genre override: %+v", books.Columns[1])
	}

	names := cfg.TableNames()
	if len(names) != 3 || names[0] != "authors" || names[2] != "reviews" {
		t.Errorf("Expected tables in configuration order, got %v", names)
	}
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	path := writeFile(t, "autofill.yaml", `
database:
  driver: sqlite
  name: test.db
defaults:
  workers: 2
tables:
  - name: authors
    row_count: 0
`)
	t.Setenv("AUTOFILL_DEFAULTS_SEED", "42")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Defaults.Workers != 2 {
		t.Errorf("Expected 2 workers, got %d", cfg.Defaults.Workers)
	}
	if cfg.Defaults.Seed != 42 {
		t.Errorf("Expected seed 42 from the environment, got %d", cfg.Defaults.Seed)
	}
	if got := cfg.RowCountFor("authors"); got != 0 {
		t.Errorf("Expected explicit zero row count, got %d", got)
	}
}

func TestValidate(t *testing.T) {
	negative := -1
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative row count", func(c *Config) { c.Tables = []TableConfig{{Name: "t", RowCount: &negative}} }},
		{"zero batch size", func(c *Config) { c.Defaults.BatchSize = 0 }},
		{"null probability above one", func(c *Config) { c.Defaults.NullProbability = 1.5 }},
		{"inverted int range", func(c *Config) { c.Defaults.IntMin, c.Defaults.IntMax = 10, 1 }},
		{"bad date", func(c *Config) { c.Defaults.DateFrom = "yesterday" }},
		{"inverted dates", func(c *Config) { c.Defaults.DateFrom, c.Defaults.DateTo = "2024-02-01", "2024-01-01" }},
		{"duplicate table", func(c *Config) { c.Tables = []TableConfig{{Name: "t"}, {Name: "t"}} }},
		{"zero workers", func(c *Config) { c.Defaults.Workers = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			var configErr *models.ConfigError
			if !errors.As(err, &configErr) {
				t.Errorf("Expected ConfigError, got %v", err)
			}
		})
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("Expected defaults to validate, got %v", err)
	}
}

func TestDateRange(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	from, to, err := Defaults{}.DateRange(now)
	if err != nil {
		t.Fatalf("DateRange returned error: %v", err)
	}
	if !from.Equal(now.AddDate(-1, 0, 0)) || !to.Equal(now) {
		t.Errorf("Expected the last year, got %v..%v", from, to)
	}

	from, to, err = Defaults{DateFrom: "2020-01-01", DateTo: "2020-12-31"}.DateRange(now)
	if err != nil {
		t.Fatalf("DateRange returned error: %v", err)
	}
	if from.Year() != 2020 || to.Month() != time.December {
		t.Errorf("unexpected range %v..%v", from, to)
	}
}
