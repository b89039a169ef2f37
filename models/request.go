package models

// FetchRequest is the payload for POST /api/v1/audio and POST /api/v1/metadata.
// Both JSON and form encodings are accepted.
type FetchRequest struct {
	// URL is the media page to extract from. Validation happens in the
	// orchestrator so that every entry point reports INVALID_INPUT the same way.
	URL string `json:"url" form:"url"`
	// YouTubeURL is the older field name, used when URL is empty.
	YouTubeURL string `json:"youtube_url" form:"youtube_url"`
}

// Link returns the requested media URL.
func (r FetchRequest) Link() string {
	if r.URL != "" {
		return r.URL
	}
	return r.YouTubeURL
}

// Mode selects between a lightweight lookup and a full audio transfer.
type Mode string

const (
	ModeMetadata Mode = "metadata"
	ModeDownload Mode = "download"
)
