package util

import (
	"strings"
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	t.Setenv("TEST_BOOL_TRUE", "yes")
	t.Setenv("TEST_BOOL_FALSE", "0")
	t.Setenv("TEST_BOOL_INVALID", "maybe")

	if !ParseBoolEnv("TEST_BOOL_TRUE", false) {
		t.Error("Expected 'yes' to parse as true")
	}
	if ParseBoolEnv("TEST_BOOL_FALSE", true) {
		t.Error("Expected '0' to parse as false")
	}
	if !ParseBoolEnv("TEST_BOOL_INVALID", true) {
		t.Error("Expected invalid value to fall back to default")
	}
	if ParseBoolEnv("TEST_BOOL_UNSET", false) {
		t.Error("Expected unset variable to fall back to default")
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("TEST_INT", "7")
	t.Setenv("TEST_INT_INVALID", "seven")

	if got := ParseIntEnv("TEST_INT", 5); got != 7 {
		t.Errorf("Expected 7, got %d", got)
	}
	if got := ParseIntEnv("TEST_INT_INVALID", 5); got != 5 {
		t.Errorf("Expected default 5 on invalid value, got %d", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("TEST_DUR", "30s")
	t.Setenv("TEST_DUR_BARE", "1500")
	t.Setenv("TEST_DUR_INVALID", "soon")

	if got := ParseDurationEnv("TEST_DUR", time.Second); got != 30*time.Second {
		t.Errorf("Expected 30s, got %s", got)
	}
	// Bare integers are milliseconds.
	if got := ParseDurationEnv("TEST_DUR_BARE", time.Second); got != 1500*time.Millisecond {
		t.Errorf("Expected 1.5s, got %s", got)
	}
	if got := ParseDurationEnv("TEST_DUR_INVALID", time.Second); got != time.Second {
		t.Errorf("Expected default on invalid value, got %s", got)
	}
}

func TestGenerateRandomID(t *testing.T) {
	id := GenerateRandomID("job_", 16)
	if !strings.HasPrefix(id, "job_") {
		t.Errorf("Expected prefix 'job_', got %q", id)
	}
	if len(id) != 4+16 {
		t.Errorf("Expected length 20, got %d", len(id))
	}
	for _, c := range GenerateRandomHex(64) {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Errorf("Unexpected non-hex character %q", c)
		}
	}
	if GenerateRandomHex(0) != "" {
		t.Error("Expected empty string for zero length")
	}
}

func TestGenerateSecureHex(t *testing.T) {
	a, err := GenerateSecureHex(32)
	if err != nil {
		t.Fatalf("GenerateSecureHex failed: %v", err)
	}
	b, err := GenerateSecureHex(32)
	if err != nil {
		t.Fatalf("GenerateSecureHex failed: %v", err)
	}
	if len(a) != 32 || len(b) != 32 {
		t.Errorf("Expected 32 hex chars, got %d and %d", len(a), len(b))
	}
	if a == b {
		t.Error("Expected distinct secrets on consecutive calls")
	}
}

func TestHashAPIKey(t *testing.T) {
	h := HashAPIKey("wgk_test")
	if len(h) != 64 {
		t.Errorf("Expected 64-char SHA-256 hex digest, got %d", len(h))
	}
	if h != HashAPIKey("wgk_test") {
		t.Error("Expected hashing to be deterministic")
	}
	if h == HashAPIKey("wgk_other") {
		t.Error("Expected different keys to hash differently")
	}
}
