package models

// MetadataResponse is the response for POST /api/v1/metadata.
type MetadataResponse struct {
	// Success indicates whether the lookup completed without errors.
	Success bool `json:"success"`

	Title        string `json:"title,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`

	// Strategy names the extraction profile that produced the result.
	Strategy string `json:"strategy,omitempty"`

	// CacheStatus is "hit" or "miss" when the metadata cache is enabled.
	CacheStatus string `json:"cache_status,omitempty"`

	// Attempts is the number of strategies tried for this request.
	Attempts int `json:"attempts,omitempty"`

	// Error is populated only when Success is false.
	Error *ErrorDetail `json:"error,omitempty"`
}

// ErrorResponse is the JSON body for every failed request, including
// failed audio downloads.
type ErrorResponse struct {
	Success bool         `json:"success"`
	Error   *ErrorDetail `json:"error"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status      string           `json:"status"` // "healthy" or "degraded"
	Uptime      string           `json:"uptime"`
	Concurrency ConcurrencyStats `json:"concurrency"`
	Strategies  []string         `json:"strategies"`
	Credentials bool             `json:"credentials"`
	Version     string           `json:"version"`
}

// ConcurrencyStats reports how many extraction requests are in flight.
type ConcurrencyStats struct {
	MaxInFlight int `json:"max_in_flight"`
	InFlight    int `json:"in_flight"`
}
