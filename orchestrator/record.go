package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/use-agent/soundgrab/models"
)

// Attempt is one entry of an AttemptRecord.
type Attempt struct {
	Strategy string
	Kind     models.Kind
	Detail   string // raw diagnostic, logged only
	Duration time.Duration
}

// AttemptRecord is the ordered log of strategy outcomes for one request.
// It lives only as long as the request.
type AttemptRecord []Attempt

// Saw reports whether any attempt ended in kind.
func (r AttemptRecord) Saw(kind models.Kind) bool {
	for _, a := range r {
		if a.Kind == kind {
			return true
		}
	}
	return false
}

// Strategies lists the strategy names in attempt order.
func (r AttemptRecord) Strategies() []string {
	out := make([]string, len(r))
	for i, a := range r {
		out[i] = a.Strategy
	}
	return out
}

// Final reduces the record to the single kind reported to the caller.
//
// A success or a terminal NOT_FOUND / FATAL_FAILURE on the last attempt is
// reported as is. When the catalog ran out on retryable failures, the most
// actionable kind wins: AUTH_EXPIRED, then RATE_LIMITED, then
// TRANSIENT_FAILURE. An empty record means nothing could be tried.
func (r AttemptRecord) Final() models.Kind {
	if len(r) == 0 {
		return models.KindFatal
	}
	last := r[len(r)-1].Kind
	if !last.Retryable() {
		return last
	}
	switch {
	case r.Saw(models.KindAuthExpired):
		return models.KindAuthExpired
	case r.Saw(models.KindRateLimited):
		return models.KindRateLimited
	default:
		return models.KindTransient
	}
}

// String renders the record as "ios=RATE_LIMITED,android=SUCCESS".
func (r AttemptRecord) String() string {
	parts := make([]string, len(r))
	for i, a := range r {
		parts[i] = fmt.Sprintf("%s=%s", a.Strategy, a.Kind)
	}
	return strings.Join(parts, ",")
}

// FetchError is returned when a request does not produce a result.
type FetchError struct {
	Kind     models.Kind
	Attempts AttemptRecord
	Err      error // cause for INVALID_INPUT and pre-attempt failures
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch failed: %s", e.Kind)
	if len(e.Attempts) > 0 {
		msg += " after [" + e.Attempts.String() + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// ExtractError converts e into the API-facing error.
func (e *FetchError) ExtractError() *models.ExtractError {
	return models.NewExtractError(e.Kind, e)
}
