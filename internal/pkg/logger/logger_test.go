package logger

import "testing"

func TestSanitizeKVs_RedactsCredentials(t *testing.T) {
	out := sanitizeKVs([]interface{}{
		"redis_password", "hunter2",
		"postgres_dsn", "postgres://u:p@h/db",
		"group_id", "g-1",
		"dangling",
	})
	if len(out) != 7 {
		t.Fatalf("expected 7 entries, got %d", len(out))
	}
	if out[1] != "[REDACTED]" {
		t.Fatalf("password not redacted: %v", out[1])
	}
	if out[3] != "[REDACTED]" {
		t.Fatalf("dsn not redacted: %v", out[3])
	}
	if out[5] != "g-1" {
		t.Fatalf("group_id should pass through, got %v", out[5])
	}
	if out[6] != "dangling" {
		t.Fatalf("trailing key lost: %v", out[6])
	}
}

func TestNew_Modes(t *testing.T) {
	for _, mode := range []string{"production", "development", "test"} {
		l, err := New(mode)
		if err != nil {
			t.Fatalf("New(%q): %v", mode, err)
		}
		l.With("component", "test").Debug("hello", "k", "v")
	}
}
