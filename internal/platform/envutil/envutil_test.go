package envutil

import (
	"testing"
	"time"
)

func TestInt(t *testing.T) {
	t.Setenv("FORGE_TEST_INT", " 7 ")
	if got := Int("FORGE_TEST_INT", 1); got != 7 {
		t.Fatalf("Int: want=7 got=%d", got)
	}
	t.Setenv("FORGE_TEST_INT", "seven")
	if got := Int("FORGE_TEST_INT", 1); got != 1 {
		t.Fatalf("Int fallback: want=1 got=%d", got)
	}
}

func TestDuration(t *testing.T) {
	t.Setenv("FORGE_TEST_DUR", "90s")
	if got := Duration("FORGE_TEST_DUR", time.Second); got != 90*time.Second {
		t.Fatalf("Duration: want=90s got=%s", got)
	}
	t.Setenv("FORGE_TEST_DUR", "15")
	if got := Duration("FORGE_TEST_DUR", time.Second); got != 15*time.Second {
		t.Fatalf("Duration seconds: want=15s got=%s", got)
	}
	t.Setenv("FORGE_TEST_DUR", "")
	if got := Duration("FORGE_TEST_DUR", time.Minute); got != time.Minute {
		t.Fatalf("Duration default: want=1m got=%s", got)
	}
}

func TestBool(t *testing.T) {
	t.Setenv("FORGE_TEST_BOOL", "off")
	if Bool("FORGE_TEST_BOOL", true) {
		t.Fatalf("Bool: want=false got=true")
	}
	t.Setenv("FORGE_TEST_BOOL", "maybe")
	if !Bool("FORGE_TEST_BOOL", true) {
		t.Fatalf("Bool default: want=true got=false")
	}
}
