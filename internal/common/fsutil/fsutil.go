// Package fsutil provides the small set of filesystem primitives every
// file-backed store in agentmux depends on: atomic writes, advisory
// timeout-bounded exclusive locks, and path-safe name sanitization.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	agerrors "github.com/agentmux/agentmux/internal/common/errors"
)

// WriteFileAtomic writes data to path by writing to a sibling temp file and
// renaming over the destination, so readers never observe a partial write.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// Lock is an advisory, cross-process exclusive lock implemented as a
// lockfile created with O_EXCL. It is released by removing the lockfile.
type Lock struct {
	path string
}

// AcquireLock creates resource+".lock" exclusively, retrying with a short
// backoff until timeout elapses. Returns errors.ConcurrencyTimeout (wrapping
// the resource's base name) if the deadline passes without acquiring it.
func AcquireLock(resource string, timeout time.Duration) (*Lock, error) {
	lockPath := resource + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir for lock: %w", err)
	}

	deadline := time.Now().Add(timeout)
	backoff := 10 * time.Millisecond
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return &Lock{path: lockPath}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lockfile %s: %w", lockPath, err)
		}
		if time.Now().After(deadline) {
			return nil, agerrors.ConcurrencyTimeout(filepath.Base(resource))
		}
		time.Sleep(backoff)
		if backoff < 100*time.Millisecond {
			backoff *= 2
		}
	}
}

// Release removes the lockfile. Safe to call once; calling it twice is a
// caller bug but harmless (os.Remove on a missing file is ignored).
func (l *Lock) Release() {
	if l == nil {
		return
	}
	_ = os.Remove(l.path)
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SanitizeName collapses any character outside [a-zA-Z0-9._-] to an
// underscore and strips leading dots/slashes, so a caller-supplied id can
// never be used to escape a directory via "../" or an absolute path.
func SanitizeName(name string) string {
	name = strings.TrimLeft(name, "./")
	name = unsafeNameChars.ReplaceAllString(name, "_")
	if name == "" {
		name = "_"
	}
	return name
}

// EnsureDir creates dir (and parents) if missing.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// Exists reports whether path exists (file or directory).
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
