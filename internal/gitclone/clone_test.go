package gitclone

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStructureSummary(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "main.py"), "print('hi')\n")
	mustWrite(t, filepath.Join(root, "pkg", "util.py"), "x = 1\n")
	mustWrite(t, filepath.Join(root, ".git", "HEAD"), "ref: refs/heads/main\n")
	mustWrite(t, filepath.Join(root, ".hidden", "secret"), "no\n")

	got, err := StructureSummary(root, 200)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if !strings.Contains(got, "main.py") || !strings.Contains(got, filepath.Join("pkg", "util.py")) {
		t.Fatalf("missing expected entries:\n%s", got)
	}
	if strings.Contains(got, ".git") || strings.Contains(got, ".hidden") {
		t.Fatalf("hidden dirs must be skipped:\n%s", got)
	}
}

func TestStructureSummaryCapped(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 10; i++ {
		mustWrite(t, filepath.Join(root, "f"+string(rune('a'+i))+".txt"), "x")
	}
	got, err := StructureSummary(root, 3)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	lines := strings.Split(got, "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 3 entries plus truncation marker, got %d lines:\n%s", len(lines), got)
	}
	if !strings.Contains(lines[3], "more entries") {
		t.Fatalf("expected truncation marker, got %q", lines[3])
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
