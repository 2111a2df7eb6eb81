package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/vitebski/db-autofill/pkg/models"
)

const dateLayout = "2006-01-02"

// Config is the resolved configuration of one autofill run
type Config struct {
	Database DatabaseConfig `json:"database" mapstructure:"database"`
	Defaults Defaults       `json:"defaults" mapstructure:"defaults"`
	Tables   []TableConfig  `json:"tables" mapstructure:"tables"`
}

// DatabaseConfig holds connection parameters
type DatabaseConfig struct {
	Driver   string `json:"driver" mapstructure:"driver"`
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Name     string `json:"name" mapstructure:"name"`
	User     string `json:"user" mapstructure:"user"`
	Password string `json:"password" mapstructure:"password"`
	Schema   string `json:"schema" mapstructure:"schema"`
	SSLMode  string `json:"sslmode" mapstructure:"sslmode"`
}

// Defaults holds the global generation and insertion settings
type Defaults struct {
	RowCount            int           `json:"row_count" mapstructure:"row_count"`
	BatchSize           int           `json:"batch_size" mapstructure:"batch_size"`
	MaxRetries          int           `json:"max_retries" mapstructure:"max_retries"`
	RetryBackoff        time.Duration `json:"retry_backoff" mapstructure:"retry_backoff"`
	NullProbability     float64       `json:"null_probability" mapstructure:"null_probability"`
	UniqueAttempts      int           `json:"unique_attempts" mapstructure:"unique_attempts"`
	IntMin              int64         `json:"int_min" mapstructure:"int_min"`
	IntMax              int64         `json:"int_max" mapstructure:"int_max"`
	DecimalMin          float64       `json:"decimal_min" mapstructure:"decimal_min"`
	DecimalMax          float64       `json:"decimal_max" mapstructure:"decimal_max"`
	DecimalScale        int           `json:"decimal_scale" mapstructure:"decimal_scale"`
	TextMaxLength       int           `json:"text_max_length" mapstructure:"text_max_length"`
	DateFrom            string        `json:"date_from" mapstructure:"date_from"`
	DateTo              string        `json:"date_to" mapstructure:"date_to"`
	ExistingKeyLimit    int           `json:"existing_key_limit" mapstructure:"existing_key_limit"`
	PartialSuccessRatio float64       `json:"partial_success_ratio" mapstructure:"partial_success_ratio"`
	Workers             int           `json:"workers" mapstructure:"workers"`
	Seed                int64         `json:"seed" mapstructure:"seed"`
}

// TableConfig requests rows for one table
type TableConfig struct {
	Name     string         `json:"name" mapstructure:"name"`
	RowCount *int           `json:"row_count,omitempty" mapstructure:"row_count"`
	Columns  []ColumnConfig `json:"columns,omitempty" mapstructure:"columns"`
}

// ColumnConfig overrides generation for one column
type ColumnConfig struct {
	Name       string        `json:"name" mapstructure:"name"`
	MinValue   *float64      `json:"min_value,omitempty" mapstructure:"min_value"`
	MaxValue   *float64      `json:"max_value,omitempty" mapstructure:"max_value"`
	Values     []interface{} `json:"values,omitempty" mapstructure:"values"`
	AlwaysFill bool          `json:"always_fill,omitempty" mapstructure:"always_fill"`
}

// DefaultConfig returns a configuration holding only default values
func DefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults alone always decode
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "")
	v.SetDefault("database.name", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.schema", "")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("defaults.row_count", 50)
	v.SetDefault("defaults.batch_size", 500)
	v.SetDefault("defaults.max_retries", 3)
	v.SetDefault("defaults.retry_backoff", "200ms")
	v.SetDefault("defaults.null_probability", 0.1)
	v.SetDefault("defaults.unique_attempts", 10)
	v.SetDefault("defaults.int_min", 1)
	v.SetDefault("defaults.int_max", 10000)
	v.SetDefault("defaults.decimal_min", 0.0)
	v.SetDefault("defaults.decimal_max", 1000.0)
	v.SetDefault("defaults.decimal_scale", 2)
	v.SetDefault("defaults.text_max_length", 64)
	v.SetDefault("defaults.date_from", "")
	v.SetDefault("defaults.date_to", "")
	v.SetDefault("defaults.existing_key_limit", 10000)
	v.SetDefault("defaults.partial_success_ratio", 1.0)
	v.SetDefault("defaults.workers", 1)
	v.SetDefault("defaults.seed", 0)
}

// Load reads a JSON or YAML configuration file; AUTOFILL_* environment variables override it.
// An empty path yields the defaults plus environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AUTOFILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration on its own, before any schema is known
func (c *Config) Validate() error {
	d := c.Defaults
	switch {
	case d.RowCount < 0:
		return &models.ConfigError{Reason: "defaults.row_count must not be negative"}
	case d.BatchSize < 1:
		return &models.ConfigError{Reason: "defaults.batch_size must be at least 1"}
	case d.MaxRetries < 0:
		return &models.ConfigError{Reason: "defaults.max_retries must not be negative"}
	case d.NullProbability < 0 || d.NullProbability > 1:
		return &models.ConfigError{Reason: "defaults.null_probability must be between 0 and 1"}
	case d.UniqueAttempts < 1:
		return &models.ConfigError{Reason: "defaults.unique_attempts must be at least 1"}
	case d.IntMin > d.IntMax:
		return &models.ConfigError{Reason: "defaults.int_min is greater than defaults.int_max"}
	case d.DecimalMin > d.DecimalMax:
		return &models.ConfigError{Reason: "defaults.decimal_min is greater than defaults.decimal_max"}
	case d.DecimalScale < 0:
		return &models.ConfigError{Reason: "defaults.decimal_scale must not be negative"}
	case d.TextMaxLength < 1:
		return &models.ConfigError{Reason: "defaults.text_max_length must be at least 1"}
	case d.PartialSuccessRatio < 0 || d.PartialSuccessRatio > 1:
		return &models.ConfigError{Reason: "defaults.partial_success_ratio must be between 0 and 1"}
	case d.Workers < 1:
		return &models.ConfigError{Reason: "defaults.workers must be at least 1"}
	}

	if _, _, err := d.DateRange(time.Now()); err != nil {
		return err
	}

	seen := make(map[string]bool)
	for _, t := range c.Tables {
		if t.Name == "" {
			return &models.ConfigError{Reason: "table entry without a name"}
		}
		if seen[t.Name] {
			return &models.ConfigError{Table: t.Name, Reason: "table listed more than once"}
		}
		seen[t.Name] = true

		if t.RowCount != nil && *t.RowCount < 0 {
			return &models.ConfigError{Table: t.Name, Reason: "row_count must not be negative"}
		}
		for _, col := range t.Columns {
			if col.Name == "" {
				return &models.ConfigError{Table: t.Name, Reason: "column entry without a name"}
			}
			if col.MinValue != nil && col.MaxValue != nil && *col.MinValue > *col.MaxValue {
				return &models.ConfigError{Table: t.Name, Column: col.Name, Reason: "min_value is greater than max_value"}
			}
		}
	}
	return nil
}

// DateRange resolves the timestamp generation window; the default is the year before now
func (d Defaults) DateRange(now time.Time) (time.Time, time.Time, error) {
	from := now.AddDate(-1, 0, 0)
	to := now

	if d.DateFrom != "" {
		parsed, err := time.Parse(dateLayout, d.DateFrom)
		if err != nil {
			return time.Time{}, time.Time{}, &models.ConfigError{Reason: fmt.Sprintf("defaults.date_from: %v", err)}
		}
		from = parsed
	}
	if d.DateTo != "" {
		parsed, err := time.Parse(dateLayout, d.DateTo)
		if err != nil {
			return time.Time{}, time.Time{}, &models.ConfigError{Reason: fmt.Sprintf("defaults.date_to: %v", err)}
		}
		to = parsed
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, &models.ConfigError{Reason: "defaults.date_from is after defaults.date_to"}
	}
	return from, to, nil
}

// TableNames returns the configured tables in configuration order
func (c *Config) TableNames() []string {
	names := make([]string, 0, len(c.Tables))
	for _, t := range c.Tables {
		names = append(names, t.Name)
	}
	return names
}

// Table returns the configuration entry of a table
func (c *Config) Table(name string) (TableConfig, bool) {
	for _, t := range c.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableConfig{}, false
}

// RowCountFor returns how many rows to generate for a configured table
func (c *Config) RowCountFor(name string) int {
	if t, ok := c.Table(name); ok && t.RowCount != nil {
		return *t.RowCount
	}
	return c.Defaults.RowCount
}
