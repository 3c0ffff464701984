package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotatingWriterShiftsBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	w, err := newRotatingWriter(path, 1, 2)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	w.maxSize = 16
	defer w.Close()

	for _, line := range []string{"first-record\n", "second-record\n", "third-record\n"} {
		if _, err := w.Write([]byte(line)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	current, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read current: %v", err)
	}
	if strings.TrimSpace(string(current)) != "third-record" {
		t.Fatalf("unexpected current content %q", current)
	}
	oldest, err := os.ReadFile(path + ".2")
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if strings.TrimSpace(string(oldest)) != "first-record" {
		t.Fatalf("unexpected backup content %q", oldest)
	}
}

func TestInitWithAuditFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "settlement.log")
	if err := Init(Config{Level: "debug", Format: "text", Audit: AuditConfig{Enabled: true, Path: path}}); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = Sync() })

	Audit().Info("payout", "job_id", 7)
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit: %v", err)
	}
	if !strings.Contains(string(content), `"job_id":7`) {
		t.Fatalf("audit record missing: %s", content)
	}
}
