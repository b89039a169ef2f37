// Package orchestrator drives the retry and fallback loop across the
// strategy catalog.
//
// Each request walks the strategies for its mode from the top. Every attempt
// gets its own credential copy and, for downloads, its own working scope.
// A success ends the loop, NOT_FOUND and FATAL_FAILURE end it immediately,
// and the retryable kinds move on to the next strategy. No strategy is tried
// twice within a request.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/use-agent/soundgrab/credentials"
	"github.com/use-agent/soundgrab/extractor"
	"github.com/use-agent/soundgrab/models"
	"github.com/use-agent/soundgrab/scope"
	"github.com/use-agent/soundgrab/strategy"
)

// Extractor runs a single attempt and classifies its result.
type Extractor interface {
	Run(ctx context.Context, a extractor.Attempt) extractor.Outcome
}

// Credentials hands out per-attempt cookie copies.
type Credentials interface {
	Configured() bool
	Acquire(attemptID string) (*credentials.WorkingCopy, bool)
}

// Observer receives request and attempt events, e.g. for metrics.
type Observer interface {
	RequestStarted(mode models.Mode)
	AttemptFinished(mode models.Mode, strategy string, kind models.Kind, d time.Duration)
	RequestFinished(mode models.Mode, kind models.Kind, attempts int, d time.Duration)
}

// Notifier is told when upstream rejected the service credentials.
type Notifier interface {
	AuthExpired(requestID, mediaURL string, strategies []string)
}

// Options tunes the orchestrator.
type Options struct {
	// MaxConcurrent bounds in-flight requests. Zero means 4.
	MaxConcurrent int

	// AttemptTimeout bounds one download attempt; MetadataTimeout one
	// metadata attempt.
	AttemptTimeout  time.Duration
	MetadataTimeout time.Duration

	Observer Observer
	Notifier Notifier
}

// Audio is a successfully downloaded track, fully buffered in memory.
type Audio struct {
	Title        string
	ThumbnailURL string
	MimeType     string
	Body         []byte
	Strategy     string
	Attempts     AttemptRecord
}

// Metadata is the result of a metadata lookup.
type Metadata struct {
	Title        string
	ThumbnailURL string
	Strategy     string
	Attempts     AttemptRecord
}

// Orchestrator is safe for concurrent use. Its catalog and credential source
// are read-only after construction.
type Orchestrator struct {
	catalog   *strategy.Catalog
	client    Extractor
	creds     Credentials
	lifecycle *scope.Lifecycle
	opts      Options

	sem      chan struct{}
	inFlight atomic.Int32
}

// New creates an Orchestrator.
func New(catalog *strategy.Catalog, client Extractor, creds Credentials, lifecycle *scope.Lifecycle, opts Options) *Orchestrator {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 90 * time.Second
	}
	if opts.MetadataTimeout <= 0 {
		opts.MetadataTimeout = 20 * time.Second
	}
	return &Orchestrator{
		catalog:   catalog,
		client:    client,
		creds:     creds,
		lifecycle: lifecycle,
		opts:      opts,
		sem:       make(chan struct{}, opts.MaxConcurrent),
	}
}

// Stats reports current concurrency usage.
func (o *Orchestrator) Stats() models.ConcurrencyStats {
	return models.ConcurrencyStats{
		MaxInFlight: cap(o.sem),
		InFlight:    int(o.inFlight.Load()),
	}
}

// Strategies lists the catalog in fallback order.
func (o *Orchestrator) Strategies() []string { return o.catalog.Names() }

// HasCredentials reports whether a durable cookie file is configured.
func (o *Orchestrator) HasCredentials() bool {
	return o.creds != nil && o.creds.Configured()
}

// ValidateURL accepts absolute http(s) URLs with a host.
func ValidateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("malformed url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("only http(s) urls are allowed, got %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("url has no host")
	}
	return u.String(), nil
}

// FetchAudio downloads and transcodes the audio behind rawURL.
func (o *Orchestrator) FetchAudio(ctx context.Context, rawURL string) (*Audio, error) {
	res, record, err := o.run(ctx, rawURL, models.ModeDownload)
	if err != nil {
		return nil, err
	}
	return &Audio{
		Title:        res.outcome.Title,
		ThumbnailURL: res.outcome.ThumbnailURL,
		MimeType:     res.outcome.MimeType,
		Body:         res.body,
		Strategy:     res.strategy,
		Attempts:     record,
	}, nil
}

// FetchMetadata looks up title and artwork without downloading.
func (o *Orchestrator) FetchMetadata(ctx context.Context, rawURL string) (*Metadata, error) {
	res, record, err := o.run(ctx, rawURL, models.ModeMetadata)
	if err != nil {
		return nil, err
	}
	return &Metadata{
		Title:        res.outcome.Title,
		ThumbnailURL: res.outcome.ThumbnailURL,
		Strategy:     res.strategy,
		Attempts:     record,
	}, nil
}

type attemptResult struct {
	outcome  extractor.Outcome
	body     []byte
	strategy string
	skipped  bool
}

func (o *Orchestrator) run(ctx context.Context, rawURL string, mode models.Mode) (*attemptResult, AttemptRecord, error) {
	mediaURL, err := ValidateURL(rawURL)
	if err != nil {
		return nil, nil, &FetchError{Kind: models.KindInvalidInput, Err: err}
	}

	select {
	case o.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, &FetchError{Kind: models.KindTransient, Err: ctx.Err()}
	}
	defer func() { <-o.sem }()

	o.inFlight.Add(1)
	defer o.inFlight.Add(-1)

	requestID := uuid.NewString()
	start := time.Now()
	if o.opts.Observer != nil {
		o.opts.Observer.RequestStarted(mode)
	}
	log := slog.With("request_id", requestID, "mode", string(mode), "url", mediaURL)

	var record AttemptRecord
	finish := func(kind models.Kind) {
		if o.opts.Observer != nil {
			o.opts.Observer.RequestFinished(mode, kind, len(record), time.Since(start))
		}
	}

	for _, s := range o.catalog.For(mode, o.HasCredentials()) {
		if ctx.Err() != nil {
			log.Info("request abandoned by caller", "attempts", len(record))
			break
		}

		attemptID := uuid.NewString()
		attemptStart := time.Now()
		res := o.attempt(ctx, attemptID, mediaURL, mode, s)
		if res.skipped {
			log.Warn("strategy skipped, no credential copy available", "strategy", s.Name)
			continue
		}
		elapsed := time.Since(attemptStart)

		out := res.outcome
		record = append(record, Attempt{Strategy: s.Name, Kind: out.Kind, Detail: out.Detail, Duration: elapsed})
		if o.opts.Observer != nil {
			o.opts.Observer.AttemptFinished(mode, s.Name, out.Kind, elapsed)
		}
		logAttempt(log, attemptID, s.Name, out, elapsed)

		if out.OK() {
			finish(models.KindSuccess)
			return res, record, nil
		}
		if !out.Kind.Retryable() {
			break
		}
	}

	kind := record.Final()
	if record.Saw(models.KindAuthExpired) && o.opts.Notifier != nil {
		o.opts.Notifier.AuthExpired(requestID, mediaURL, record.Strategies())
	}

	var cause error
	if len(record) == 0 {
		cause = errors.New("no strategy could be attempted")
		if ctx.Err() != nil {
			kind, cause = models.KindTransient, ctx.Err()
		}
	}
	log.Warn("request exhausted", "kind", string(kind), "attempts", record.String())
	finish(kind)
	return nil, record, &FetchError{Kind: kind, Attempts: record, Err: cause}
}

// attempt runs strategy s once. The credential copy and working scope are
// both released before it returns, whatever the outcome.
func (o *Orchestrator) attempt(ctx context.Context, attemptID, mediaURL string, mode models.Mode, s strategy.Strategy) *attemptResult {
	var cookieFile string
	if o.HasCredentials() {
		wc, ok := o.creds.Acquire(attemptID)
		if ok {
			defer wc.Release()
			cookieFile = wc.Path
		} else if s.RequiresCredentials {
			return &attemptResult{skipped: true}
		}
	}

	timeout := o.opts.MetadataTimeout
	if mode == models.ModeDownload {
		timeout = o.opts.AttemptTimeout
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	a := extractor.Attempt{
		ID:         attemptID,
		URL:        mediaURL,
		Mode:       mode,
		Strategy:   s,
		CookieFile: cookieFile,
	}

	if mode == models.ModeMetadata {
		return &attemptResult{outcome: o.client.Run(actx, a), strategy: s.Name}
	}

	res, err := scope.With(o.lifecycle, func(dir string) (*attemptResult, error) {
		a.ScopeDir = dir
		out := o.client.Run(actx, a)
		if !out.OK() {
			return &attemptResult{outcome: out, strategy: s.Name}, nil
		}
		body, err := o.lifecycle.ReadArtifact(dir, out.ArtifactPath)
		if err != nil {
			return &attemptResult{
				outcome:  extractor.Outcome{Kind: models.KindFatal, Detail: err.Error()},
				strategy: s.Name,
			}, nil
		}
		// The path dies with the scope.
		out.ArtifactPath = ""
		return &attemptResult{outcome: out, body: body, strategy: s.Name}, nil
	})
	if err != nil {
		return &attemptResult{
			outcome:  extractor.Outcome{Kind: models.KindFatal, Detail: err.Error()},
			strategy: s.Name,
		}
	}
	return res
}

func logAttempt(log *slog.Logger, attemptID, strategyName string, out extractor.Outcome, d time.Duration) {
	attrs := []any{
		"attempt_id", attemptID,
		"strategy", strategyName,
		"kind", string(out.Kind),
		"duration_ms", d.Milliseconds(),
	}
	switch {
	case out.OK():
		log.Info("attempt succeeded", attrs...)
	case out.Kind == models.KindFatal:
		log.Error("attempt failed", append(attrs, "detail", out.Detail)...)
	default:
		log.Warn("attempt failed", append(attrs, "detail", out.Detail)...)
	}
}
