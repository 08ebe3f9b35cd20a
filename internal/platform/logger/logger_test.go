package logger

import "testing"

func TestSanitizeValueRedactsSensitiveKeys(t *testing.T) {
	for _, key := range []string{"env", "encrypted_env", "continuation_token", "master_key"} {
		if got := sanitizeValue(key, "value"); got != "[REDACTED]" {
			t.Fatalf("%s: want=[REDACTED] got=%v", key, got)
		}
	}
}

func TestSanitizeValueStripsPresignedQuery(t *testing.T) {
	got := sanitizeValue("upload_url", "https://storage.example.com/bucket/run/abc?X-Goog-Signature=deadbeef")
	want := "https://storage.example.com/bucket/run/abc?[REDACTED]"
	if got != want {
		t.Fatalf("upload_url: want=%q got=%q", want, got)
	}
}

func TestSanitizeValueHashesTenant(t *testing.T) {
	got, ok := sanitizeValue("tenant_id", "tenant-1").(string)
	if !ok || len(got) != len("hash:")+12 {
		t.Fatalf("tenant_id: want hashed value got=%v", got)
	}
}

func TestSanitizeValuePassesPlainKeys(t *testing.T) {
	if got := sanitizeValue("run_id", "abc"); got != "abc" {
		t.Fatalf("run_id: want=%q got=%v", "abc", got)
	}
}
