// Package scope owns the per-attempt working directories.
//
// Every download attempt gets its own directory under the scratch base. The
// directory is removed when the attempt's function returns, fails or panics,
// so no partial artifact outlives its attempt. Artifacts are read into memory
// inside the scope; the returned bytes stay valid after the directory is gone.
package scope

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const dirPattern = "attempt-*"

// DefaultMaxArtifactBytes caps how much audio is buffered per request.
const DefaultMaxArtifactBytes int64 = 512 << 20

// ErrArtifactTooLarge is returned when an artifact exceeds the size cap.
var ErrArtifactTooLarge = errors.New("scope: artifact exceeds size limit")

// Lifecycle creates and destroys attempt scopes under one base directory.
type Lifecycle struct {
	base     string
	maxBytes int64
}

// New creates the base directory if needed.
func New(base string, maxBytes int64) (*Lifecycle, error) {
	if base == "" {
		base = filepath.Join(os.TempDir(), "soundgrab")
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxArtifactBytes
	}
	if err := os.MkdirAll(base, 0o700); err != nil {
		return nil, fmt.Errorf("scope: create base %s: %w", base, err)
	}
	return &Lifecycle{base: base, maxBytes: maxBytes}, nil
}

// Base returns the scratch directory scopes are created in.
func (l *Lifecycle) Base() string { return l.base }

// With runs fn inside a fresh, exclusively owned directory and removes the
// directory afterwards on every exit path.
func With[T any](l *Lifecycle, fn func(dir string) (T, error)) (result T, err error) {
	dir, err := os.MkdirTemp(l.base, dirPattern)
	if err != nil {
		return result, fmt.Errorf("scope: create: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			slog.Error("scope: cleanup failed", "dir", dir, "error", rmErr)
		}
	}()
	return fn(dir)
}

// ReadArtifact reads path fully into memory. path must live inside dir.
func (l *Lifecycle) ReadArtifact(dir, path string) ([]byte, error) {
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return nil, fmt.Errorf("scope: artifact %s is outside %s", path, dir)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("scope: open artifact: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, l.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("scope: read artifact: %w", err)
	}
	if int64(len(data)) > l.maxBytes {
		return nil, ErrArtifactTooLarge
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("scope: artifact %s is empty", filepath.Base(path))
	}
	return data, nil
}

// Sweep removes scopes and credential copies older than maxAge left behind
// by a crashed process. maxAge <= 0 removes every such entry; the process
// that owns the base directory calls it that way at startup and shutdown.
// It returns how many entries were removed.
func (l *Lifecycle) Sweep(maxAge time.Duration) int {
	entries, err := os.ReadDir(l.base)
	if err != nil {
		slog.Warn("scope: sweep failed", "dir", l.base, "error", err)
		return 0
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "attempt-") && !strings.HasPrefix(name, "cookies-") {
			continue
		}
		if maxAge > 0 {
			info, err := e.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
		}
		if err := os.RemoveAll(filepath.Join(l.base, name)); err != nil {
			slog.Warn("scope: sweep could not remove entry", "name", name, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("scope: swept stale entries", "count", removed)
	}
	return removed
}
