package main

import (
	"os"
	"testing"
)

func TestResolveRecords(t *testing.T) {
	os.Unsetenv("AUTOFILL_RECORDS")
	if n := resolveRecords(false, 50, 120); n != 120 {
		t.Errorf("Expected the configured row count 120, got %d", n)
	}

	t.Setenv("AUTOFILL_RECORDS", "75")
	if n := resolveRecords(false, 50, 120); n != 75 {
		t.Errorf("Expected AUTOFILL_RECORDS to apply without the flag, got %d", n)
	}
	if n := resolveRecords(true, 10, 120); n != 10 {
		t.Errorf("Expected the --records flag to win, got %d", n)
	}

	t.Setenv("AUTOFILL_RECORDS", "lots")
	if n := resolveRecords(false, 50, 120); n != 120 {
		t.Errorf("Expected an invalid AUTOFILL_RECORDS to be ignored, got %d", n)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if v := firstNonEmpty("", "env", "config"); v != "env" {
		t.Errorf("Expected env, got %q", v)
	}
	if v := firstNonEmpty("", ""); v != "" {
		t.Errorf("Expected empty string, got %q", v)
	}
}
