// Package credentials manages the durable session-cookie file and hands out
// one disposable, writable copy of it per extraction attempt.
package credentials

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Store owns the durable cookie artifact. The source file is only ever read;
// yt-dlp writes back into the cookie jar it is given, so every attempt gets
// its own copy.
type Store struct {
	source  string
	scratch string
}

// WorkingCopy is an ephemeral cookie file bound to a single attempt.
type WorkingCopy struct {
	Path string
}

// NewStore creates a Store. An empty source means no credentials are
// configured and Acquire always reports absent.
func NewStore(source, scratchDir string) *Store {
	return &Store{source: source, scratch: scratchDir}
}

// Configured reports whether a durable credential artifact was provided.
func (s *Store) Configured() bool {
	return s != nil && s.source != ""
}

// Acquire copies the durable artifact to a path unique to attemptID.
// It returns false when no artifact is configured or the copy fails; a failed
// copy is logged and never surfaces as a request error.
func (s *Store) Acquire(attemptID string) (*WorkingCopy, bool) {
	if !s.Configured() {
		return nil, false
	}
	if attemptID == "" {
		attemptID = uuid.NewString()
	}

	dst := filepath.Join(s.scratch, "cookies-"+attemptID+".txt")
	if err := copyFile(s.source, dst); err != nil {
		slog.Warn("credential copy failed, continuing without credentials",
			"attempt", attemptID,
			"error", err,
		)
		_ = os.Remove(dst)
		return nil, false
	}
	return &WorkingCopy{Path: dst}, true
}

// Release deletes the working copy. Safe to call on a nil copy.
func (w *WorkingCopy) Release() {
	if w == nil || w.Path == "" {
		return
	}
	if err := os.Remove(w.Path); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove credential working copy", "path", w.Path, "error", err)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create working copy: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy: %w", err)
	}
	return out.Close()
}
