package models

import (
	"errors"
	"fmt"
	"strings"
)

// SchemaError is returned when the catalog cannot be turned into a usable schema
type SchemaError struct {
	Table  string
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("schema error in %s.%s: %s", e.Table, e.Column, e.Reason)
	}
	if e.Table != "" {
		return fmt.Sprintf("schema error in %s: %s", e.Table, e.Reason)
	}
	return "schema error: " + e.Reason
}

// CyclicDependencyError names the tables of a foreign key cycle spanning two or more tables
type CyclicDependencyError struct {
	Tables []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic foreign key dependency between tables: %s", strings.Join(e.Tables, ", "))
}

// ConfigError is returned when the configuration does not fit the introspected schema
type ConfigError struct {
	Table  string
	Column string
	Reason string
}

func (e *ConfigError) Error() string {
	switch {
	case e.Column != "":
		return fmt.Sprintf("configuration error for %s.%s: %s", e.Table, e.Column, e.Reason)
	case e.Table != "":
		return fmt.Sprintf("configuration error for %s: %s", e.Table, e.Reason)
	default:
		return "configuration error: " + e.Reason
	}
}

// UniquenessExhaustedError is returned when no unused value was found within the attempt budget
type UniquenessExhaustedError struct {
	Table    string
	Columns  []string
	Attempts int
}

func (e *UniquenessExhaustedError) Error() string {
	return fmt.Sprintf("could not generate a unique value for %s(%s) after %d attempts",
		e.Table, strings.Join(e.Columns, ", "), e.Attempts)
}

// EmptyParentPoolError is returned when a NOT NULL foreign key has no parent key to point at
type EmptyParentPoolError struct {
	Table       string
	Columns     []string
	ParentTable string
}

func (e *EmptyParentPoolError) Error() string {
	return fmt.Sprintf("no rows available in %s for NOT NULL foreign key %s(%s)",
		e.ParentTable, e.Table, strings.Join(e.Columns, ", "))
}

// ValueConstraintError is returned when a generated value would violate a column constraint
type ValueConstraintError struct {
	Table  string
	Column string
	Reason string
}

func (e *ValueConstraintError) Error() string {
	return fmt.Sprintf("value for %s.%s rejected: %s", e.Table, e.Column, e.Reason)
}

// BatchInsertError is returned when a batch could not be committed
type BatchInsertError struct {
	Table    string
	Batch    int
	Attempts int
	Err      error
}

func (e *BatchInsertError) Error() string {
	return fmt.Sprintf("batch %d of %s failed after %d attempt(s): %v", e.Batch, e.Table, e.Attempts, e.Err)
}

func (e *BatchInsertError) Unwrap() error {
	return e.Err
}

// DependencyFailedError marks a table skipped because a table it references failed
type DependencyFailedError struct {
	Table  string
	Parent string
}

func (e *DependencyFailedError) Error() string {
	return fmt.Sprintf("%s skipped: referenced table %s failed", e.Table, e.Parent)
}

// IsConfigurationFatal reports whether err must abort the run before any row is written
func IsConfigurationFatal(err error) bool {
	var schemaErr *SchemaError
	var cycleErr *CyclicDependencyError
	var configErr *ConfigError
	return errors.As(err, &schemaErr) || errors.As(err, &cycleErr) || errors.As(err, &configErr)
}
