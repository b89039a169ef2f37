package extractor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/use-agent/soundgrab/engine"
	"github.com/use-agent/soundgrab/models"
)

// Diagnostic markers, matched case-insensitively against the engine's error
// text. Checked in this order; the first group with a hit wins.
var (
	rateLimitMarkers = []string{
		"error 429",
		"status 429",
		"too many requests",
		"rate limit",
		"rate-limit",
		"ratelimit",
		"try again later",
	}
	authMarkers = []string{
		"sign in to confirm",
		"confirm you're not a bot",
		"confirm you’re not a bot",
		"login required",
		"log in to",
		"requires authentication",
		"use --cookies",
		"cookies are no longer valid",
		"confirm your age",
		"age-restricted",
		"inappropriate for some users",
		"members-only",
		"join this channel",
		"status 401",
		"error 401",
	}
	notFoundMarkers = []string{
		"video unavailable",
		"this video is unavailable",
		"private video",
		"has been removed",
		"does not exist",
		"unsupported url",
		"no video formats found",
		"no media found",
		"is not a valid url",
		"error 404",
		"status 404",
		"error 410",
		"status 410",
	}
	transientMarkers = []string{
		"timed out",
		"timeout",
		"connection reset",
		"connection refused",
		"connection aborted",
		"network is unreachable",
		"no route to host",
		"temporary failure in name resolution",
		"name resolution",
		"name or service not known",
		"tls handshake",
		"unexpected eof",
		"incomplete read",
		"unable to download webpage",
		"unable to download video data",
		"http error 5",
		"http error 403",
		"requested format is not available",
	}
)

// Classify reduces an engine error to the closed failure taxonomy. It is the
// only place in the codebase that interprets raw engine diagnostics.
// A nil error classifies as success.
func Classify(err error) models.Kind {
	if err == nil {
		return models.KindSuccess
	}

	switch {
	case errors.Is(err, engine.ErrEmptyResult):
		return models.KindNotFound
	case errors.Is(err, engine.ErrUnsupportedMode):
		return models.KindFatal
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return models.KindTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.KindTransient
	}

	var f *engine.Failure
	if errors.As(err, &f) {
		switch {
		case f.StatusCode == http.StatusTooManyRequests:
			return models.KindRateLimited
		case f.StatusCode == http.StatusUnauthorized:
			return models.KindAuthExpired
		case f.StatusCode == http.StatusNotFound, f.StatusCode == http.StatusGone:
			return models.KindNotFound
		case f.StatusCode >= 500:
			return models.KindTransient
		}
	}

	text := strings.ToLower(err.Error())
	switch {
	case containsAny(text, rateLimitMarkers):
		return models.KindRateLimited
	case containsAny(text, authMarkers):
		return models.KindAuthExpired
	case containsAny(text, notFoundMarkers):
		return models.KindNotFound
	case containsAny(text, transientMarkers):
		return models.KindTransient
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return models.KindTransient
	}
	return models.KindFatal
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
