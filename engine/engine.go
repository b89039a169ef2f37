package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/use-agent/soundgrab/models"
	"github.com/use-agent/soundgrab/strategy"
)

// Engine is the interface that all extraction engines must implement.
// Engines are opaque: they either produce a result or a *Failure carrying
// whatever diagnostic the upstream surfaced. Interpreting that diagnostic is
// the extractor's job, not the engine's.
type Engine interface {
	// Name returns the engine identifier (e.g. "ytdlp", "http", "browser").
	Name() string

	// Run performs one extraction attempt.
	Run(ctx context.Context, req *Request) (*Result, error)
}

// Request contains everything an engine needs for one attempt.
type Request struct {
	URL      string
	Mode     models.Mode
	Strategy strategy.Strategy

	// CookieFile is a per-attempt Netscape cookie jar; empty when running
	// unauthenticated.
	CookieFile string

	// OutputDir is the attempt's working scope. Download mode only.
	OutputDir string

	// Codec and Bitrate describe the transcoding target. Download mode only.
	Codec   string
	Bitrate string
}

// Result is the output of a successful engine run.
type Result struct {
	Title        string
	ThumbnailURL string

	// ExpectedFile is where the engine says it wrote the audio. It is a hint
	// only; the extractor verifies it.
	ExpectedFile string
}

// ErrEmptyResult is returned when the upstream answered but had no media.
var ErrEmptyResult = errors.New("engine: empty result")

// ErrUnsupportedMode is returned by engines that cannot serve a mode.
var ErrUnsupportedMode = errors.New("engine: mode not supported")

// Failure is an engine error with the raw upstream diagnostic attached.
type Failure struct {
	Engine     string
	StatusCode int    // upstream HTTP status when known, else 0
	Diagnostic string // stderr, page text or similar; internal only
	Err        error
}

func (f *Failure) Error() string {
	msg := f.Engine + ": "
	if f.StatusCode != 0 {
		msg += fmt.Sprintf("status %d: ", f.StatusCode)
	}
	if f.Diagnostic != "" {
		msg += f.Diagnostic
	} else if f.Err != nil {
		msg += f.Err.Error()
	} else {
		msg += "failed"
	}
	return msg
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// tail keeps the last n bytes of a diagnostic.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "…" + s[len(s)-n:]
}

// diagnostic reduces yt-dlp stderr to its WARNING and ERROR lines, all of
// them: an expired-cookie warning can come long before the final error.
// Output with no such lines falls back to its last n bytes.
func diagnostic(stderr string, n int) string {
	var kept []string
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "WARNING:") || strings.HasPrefix(line, "ERROR:") {
			kept = append(kept, line)
		}
	}
	if len(kept) == 0 {
		return tail(strings.TrimSpace(stderr), n)
	}
	return strings.Join(kept, "\n")
}
