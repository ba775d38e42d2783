package fsutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	agerrors "github.com/agentmux/agentmux/internal/common/errors"
)

func TestWriteFileAtomicRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "file.txt")

	if err := WriteFileAtomic(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("got %q, want %q", data, "hello")
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "file.txt" {
			t.Fatalf("leftover temp file: %s", e.Name())
		}
	}
}

func TestAcquireLockExclusive(t *testing.T) {
	dir := t.TempDir()
	resource := filepath.Join(dir, "dashboard.md")

	lock, err := AcquireLock(resource, time.Second)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	defer lock.Release()

	if _, err := AcquireLock(resource, 100*time.Millisecond); err == nil {
		t.Fatalf("expected second lock to time out")
	} else if !agerrors.Is(err, agerrors.ErrCodeConcurrencyTimeout) {
		t.Fatalf("expected ConcurrencyTimeout, got %v", err)
	}

	lock.Release()

	lock2, err := AcquireLock(resource, time.Second)
	if err != nil {
		t.Fatalf("AcquireLock after release: %v", err)
	}
	lock2.Release()
}

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"worker-1":        "worker-1",
		"../../etc/passwd": "etc_passwd",
		"":                "_",
		"a/b\\c":          "a_b_c",
	}
	for in, want := range cases {
		if got := SanitizeName(in); got != want {
			t.Errorf("SanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}
