package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/soundgrab/assembler"
	"github.com/use-agent/soundgrab/cache"
	"github.com/use-agent/soundgrab/models"
	"github.com/use-agent/soundgrab/orchestrator"
)

// retryAfterSeconds is suggested to clients on RATE_LIMITED.
const retryAfterSeconds = 60

// Fetcher is the orchestrator as seen by the HTTP layer.
type Fetcher interface {
	FetchAudio(ctx context.Context, url string) (*orchestrator.Audio, error)
	FetchMetadata(ctx context.Context, url string) (*orchestrator.Metadata, error)
}

// Audio returns a handler for POST /api/v1/audio.
//
// The body is buffered in full before the first byte is written, so a
// failure always produces a JSON error rather than a truncated file.
func Audio(f Fetcher, asm *assembler.Assembler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.FetchRequest
		if err := c.ShouldBind(&req); err != nil {
			respondError(c, &orchestrator.FetchError{Kind: models.KindInvalidInput, Err: err})
			return
		}

		audio, err := f.FetchAudio(c.Request.Context(), req.Link())
		if err != nil {
			respondError(c, err)
			return
		}

		payload := asm.Assemble(audio.Title, audio.Body, audio.MimeType)
		for k, v := range payload.Headers() {
			c.Header(k, v)
		}
		c.Header("X-Strategy", audio.Strategy)
		c.Header("X-Attempts", strconv.Itoa(len(audio.Attempts)))
		c.Data(http.StatusOK, payload.ContentType, payload.Body)
	}
}

// Metadata returns a handler for POST /api/v1/metadata.
func Metadata(f Fetcher, cc *cache.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.FetchRequest
		if err := c.ShouldBind(&req); err != nil {
			respondError(c, &orchestrator.FetchError{Kind: models.KindInvalidInput, Err: err})
			return
		}

		cacheKey := cache.Key(req.Link())
		if cached, hit := cc.Get(cacheKey); hit {
			cached.CacheStatus = "hit"
			c.JSON(http.StatusOK, cached)
			return
		}

		md, err := f.FetchMetadata(c.Request.Context(), req.Link())
		if err != nil {
			respondError(c, err)
			return
		}

		resp := &models.MetadataResponse{
			Success:      true,
			Title:        md.Title,
			ThumbnailURL: md.ThumbnailURL,
			Strategy:     md.Strategy,
			Attempts:     len(md.Attempts),
		}
		if cc != nil {
			cc.Set(cacheKey, resp)
			resp.CacheStatus = "miss"
		}
		c.JSON(http.StatusOK, resp)
	}
}

// respondError maps an error to the correct HTTP status code and writes a
// structured JSON error response. Raw diagnostics never reach the client.
func respondError(c *gin.Context, err error) {
	var extractErr *models.ExtractError
	var fetchErr *orchestrator.FetchError
	switch {
	case errors.As(err, &fetchErr):
		extractErr = fetchErr.ExtractError()
	case errors.As(err, &extractErr):
	default:
		extractErr = models.NewExtractError(models.KindFatal, err)
	}

	if extractErr.Kind == models.KindFatal {
		slog.Error("request failed", "path", c.FullPath(), "error", err)
	}
	if extractErr.Kind == models.KindRateLimited {
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	c.Header("Cache-Control", assembler.CacheControl)
	c.JSON(mapKindToStatus(extractErr.Kind), models.ErrorResponse{
		Success: false,
		Error:   extractErr.ToDetail(),
	})
}

// mapKindToStatus translates failure kinds to HTTP status codes.
func mapKindToStatus(k models.Kind) int {
	switch k {
	case models.KindInvalidInput:
		return http.StatusBadRequest // 400
	case models.KindUnauthorized:
		return http.StatusUnauthorized // 401
	case models.KindNotFound:
		return http.StatusNotFound // 404
	case models.KindRateLimited:
		return http.StatusTooManyRequests // 429
	case models.KindTransient:
		return http.StatusBadGateway // 502
	case models.KindAuthExpired:
		return http.StatusServiceUnavailable // 503
	default:
		return http.StatusInternalServerError // 500
	}
}
