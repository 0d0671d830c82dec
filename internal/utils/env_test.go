package utils

import (
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("SOMNARI_TEST_STR", "value")
	if got := GetEnv("SOMNARI_TEST_STR", "default", nil); got != "value" {
		t.Errorf("GetEnv = %q, want value", got)
	}
	if got := GetEnv("SOMNARI_TEST_MISSING", "default", nil); got != "default" {
		t.Errorf("GetEnv = %q, want default", got)
	}
}

func TestGetEnvAsInt(t *testing.T) {
	t.Setenv("SOMNARI_TEST_INT", "42")
	if got := GetEnvAsInt("SOMNARI_TEST_INT", 7, nil); got != 42 {
		t.Errorf("GetEnvAsInt = %d, want 42", got)
	}
	t.Setenv("SOMNARI_TEST_INT", "not a number")
	if got := GetEnvAsInt("SOMNARI_TEST_INT", 7, nil); got != 7 {
		t.Errorf("GetEnvAsInt = %d, want fallback 7", got)
	}
	if got := GetEnvAsInt("SOMNARI_TEST_INT_MISSING", 7, nil); got != 7 {
		t.Errorf("GetEnvAsInt = %d, want default 7", got)
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	t.Setenv("SOMNARI_TEST_MS", "250")
	if got := GetEnvAsDuration("SOMNARI_TEST_MS", time.Second, nil); got != 250*time.Millisecond {
		t.Errorf("GetEnvAsDuration = %v, want 250ms", got)
	}
	t.Setenv("SOMNARI_TEST_MS", "-5")
	if got := GetEnvAsDuration("SOMNARI_TEST_MS", time.Second, nil); got != time.Second {
		t.Errorf("GetEnvAsDuration = %v, want default on negative", got)
	}
	if got := GetEnvAsDuration("SOMNARI_TEST_MS_MISSING", 2*time.Second, nil); got != 2*time.Second {
		t.Errorf("GetEnvAsDuration = %v, want default", got)
	}
}
