package config

import (
	"testing"
	"time"
)

func TestIntAndDuration(t *testing.T) {
	t.Setenv("TEST_MAX_RETRIES", "5")
	t.Setenv("TEST_TTL", "250ms")
	t.Setenv("TEST_BAD", "ten")

	n, err := Int("TEST_MAX_RETRIES", 3)
	if err != nil || n != 5 {
		t.Fatalf("Int = %d, %v", n, err)
	}
	n, err = Int("TEST_UNSET_INT", 3)
	if err != nil || n != 3 {
		t.Fatalf("Int fallback = %d, %v", n, err)
	}
	if _, err := Int("TEST_BAD", 3); err == nil {
		t.Fatal("expected error for non-integer value")
	}

	d, err := Duration("TEST_TTL", time.Second)
	if err != nil || d != 250*time.Millisecond {
		t.Fatalf("Duration = %v, %v", d, err)
	}
	if _, err := Duration("TEST_BAD", time.Second); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestPort(t *testing.T) {
	t.Setenv("TEST_PORT", "70000")
	if _, err := Port("TEST_PORT", "8080"); err == nil {
		t.Fatal("expected error for out of range port")
	}
	p, err := Port("TEST_PORT_UNSET", "8080")
	if err != nil || p != "8080" {
		t.Fatalf("Port fallback = %q, %v", p, err)
	}
}

func TestBool(t *testing.T) {
	t.Setenv("TEST_FLAG", "on")
	if !Bool("TEST_FLAG", false) {
		t.Fatal("expected true")
	}
	t.Setenv("TEST_FLAG", "0")
	if Bool("TEST_FLAG", true) {
		t.Fatal("expected false")
	}
	if !Bool("TEST_FLAG_UNSET", true) {
		t.Fatal("expected fallback")
	}
}
