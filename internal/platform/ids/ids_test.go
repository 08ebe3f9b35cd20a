package ids

import (
	"strings"
	"testing"
)

func TestNewIsTimeOrdered(t *testing.T) {
	prev := New()
	for i := 0; i < 500; i++ {
		next := New()
		if strings.Compare(prev.String(), next.String()) >= 0 {
			t.Fatalf("ids out of order: %s then %s", prev, next)
		}
		prev = next
	}
}

func TestPlain(t *testing.T) {
	got := Plain(12)
	if len(got) != 12 {
		t.Fatalf("len: want=12 got=%d", len(got))
	}
	for _, r := range got {
		if !strings.ContainsRune(alphabet, r) {
			t.Fatalf("unexpected rune %q in %q", r, got)
		}
	}
}
