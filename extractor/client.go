// Package extractor wraps the opaque extraction engines behind one uniform
// call and turns whatever they report into a models.Kind.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/use-agent/soundgrab/engine"
	"github.com/use-agent/soundgrab/models"
	"github.com/use-agent/soundgrab/strategy"
)

// Attempt is one call of one strategy against one URL.
type Attempt struct {
	ID       string
	URL      string
	Mode     models.Mode
	Strategy strategy.Strategy

	// CookieFile is the attempt's private credential copy, or empty.
	CookieFile string

	// ScopeDir is the attempt's working directory. Download mode only.
	ScopeDir string
}

// Outcome is the result of exactly one attempt. Kind is KindSuccess or one
// of the failure kinds; success fields are only set on success and Detail is
// only set on failure.
type Outcome struct {
	Kind models.Kind

	Title        string
	ThumbnailURL string
	MimeType     string

	// ArtifactPath is the located audio file inside the scope (download mode).
	ArtifactPath string

	// Detail is the raw diagnostic. It is logged, never shown to callers.
	Detail string
}

// OK reports whether the attempt succeeded.
func (o Outcome) OK() bool { return o.Kind == models.KindSuccess }

// ErrAmbiguousOutput is reported when a download leaves zero or several
// candidate files in the scope.
var ErrAmbiguousOutput = errors.New("no unambiguous output")

// Client dispatches attempts to the engine named by each strategy.
type Client struct {
	engines map[string]engine.Engine
	codec   Codec
	bitrate string
}

// NewClient creates a client over engines, keyed by their Name().
func NewClient(engines []engine.Engine, codec Codec, bitrate string) *Client {
	m := make(map[string]engine.Engine, len(engines))
	for _, e := range engines {
		m[e.Name()] = e
	}
	return &Client{engines: m, codec: codec, bitrate: bitrate}
}

// Codec returns the transcoding target.
func (c *Client) Codec() Codec { return c.codec }

// Supports reports whether an engine is registered for s.
func (c *Client) Supports(s strategy.Strategy) bool {
	_, ok := c.engines[s.Engine]
	return ok
}

// Run performs one attempt. It never returns both success data and a
// failure; every error is classified here.
func (c *Client) Run(ctx context.Context, a Attempt) Outcome {
	eng, ok := c.engines[a.Strategy.Engine]
	if !ok {
		return failure(models.KindFatal, fmt.Sprintf("no engine %q registered for strategy %q", a.Strategy.Engine, a.Strategy.Name))
	}
	if a.Mode == models.ModeDownload && a.ScopeDir == "" {
		return failure(models.KindFatal, "download attempt without a working scope")
	}

	res, err := eng.Run(ctx, &engine.Request{
		URL:        a.URL,
		Mode:       a.Mode,
		Strategy:   a.Strategy,
		CookieFile: a.CookieFile,
		OutputDir:  a.ScopeDir,
		Codec:      c.codec.Name,
		Bitrate:    c.bitrate,
	})
	if err != nil {
		return failure(Classify(err), err.Error())
	}

	if a.Mode == models.ModeMetadata {
		if res.Title == "" && res.ThumbnailURL == "" {
			return failure(models.KindNotFound, engine.ErrEmptyResult.Error())
		}
		return Outcome{Kind: models.KindSuccess, Title: res.Title, ThumbnailURL: res.ThumbnailURL}
	}

	path, err := locateOutput(a.ScopeDir, res.ExpectedFile, c.codec.Ext)
	if err != nil {
		return failure(models.KindFatal, err.Error())
	}
	title := res.Title
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return Outcome{
		Kind:         models.KindSuccess,
		Title:        title,
		ThumbnailURL: res.ThumbnailURL,
		MimeType:     c.codec.MimeType,
		ArtifactPath: path,
	}
}

func failure(kind models.Kind, detail string) Outcome {
	return Outcome{Kind: kind, Detail: detail}
}

// locateOutput finds the produced audio file. The engine's reported name is
// trusted only if it exists inside dir with the right extension; otherwise
// the single file in dir carrying ext is used.
func locateOutput(dir, expected, ext string) (string, error) {
	suffix := "." + strings.ToLower(ext)

	if expected != "" {
		if !filepath.IsAbs(expected) {
			expected = filepath.Join(dir, expected)
		}
		expected = filepath.Clean(expected)
		if rel, err := filepath.Rel(dir, expected); err == nil && !strings.HasPrefix(rel, "..") &&
			strings.HasSuffix(strings.ToLower(expected), suffix) {
			if fi, err := os.Stat(expected); err == nil && fi.Mode().IsRegular() {
				return expected, nil
			}
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("%w: read scope: %v", ErrAmbiguousOutput, err)
	}
	var matches []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(e.Name()), suffix) {
			matches = append(matches, filepath.Join(dir, e.Name()))
		}
	}
	if len(matches) != 1 {
		return "", fmt.Errorf("%w: %d %s files in scope", ErrAmbiguousOutput, len(matches), suffix)
	}
	return matches[0], nil
}
