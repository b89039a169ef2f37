package strategy

import "github.com/use-agent/soundgrab/models"

const (
	safariUA  = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15"
	chromeUA  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	iosUA     = "com.google.ios.youtube/19.45.4 (iPhone16,2; U; CPU iOS 18_1_0 like Mac OS X;)"
	androidUA = "com.google.android.youtube/19.44.38 (Linux; U; Android 14) gzip"
)

// Default returns the built-in catalog, ranked by how reliably each identity
// has been getting through. Authenticated web first, then the mobile clients
// that tend to survive without cookies, then the embedded TV client, and
// finally metadata-only page scrapes.
func Default() *Catalog {
	c, err := NewCatalog([]Strategy{
		{
			Name:                "web-cookies",
			Engine:              EngineYtDlp,
			ClientIdentity:      "web",
			UserAgent:           chromeUA,
			Headers:             map[string]string{"Accept-Language": "en-US,en;q=0.9"},
			Rank:                10,
			RequiresCredentials: true,
		},
		{
			Name:              "ios",
			Engine:            EngineYtDlp,
			ClientIdentity:    "ios",
			UserAgent:         iosUA,
			AllowedContainers: []string{"m4a", "mp4"},
			Rank:              20,
		},
		{
			Name:           "android",
			Engine:         EngineYtDlp,
			ClientIdentity: "android",
			UserAgent:      androidUA,
			Rank:           30,
		},
		{
			Name:           "tv-embedded",
			Engine:         EngineYtDlp,
			ClientIdentity: "tv_embedded",
			UserAgent:      safariUA,
			Rank:           40,
		},
		{
			Name:         "generic",
			Engine:       EngineYtDlp,
			ForceGeneric: true,
			Rank:         50,
			Modes:        []models.Mode{models.ModeMetadata},
		},
		{
			Name:      "page-og",
			Engine:    EngineHTTP,
			UserAgent: chromeUA,
			Headers:   map[string]string{"Accept-Language": "en-US,en;q=0.9"},
			Rank:      60,
			Modes:     []models.Mode{models.ModeMetadata},
		},
		{
			Name:      "browser-stealth",
			Engine:    EngineBrowser,
			UserAgent: chromeUA,
			Rank:      70,
			Modes:     []models.Mode{models.ModeMetadata},
		},
	})
	if err != nil {
		panic("strategy: built-in catalog is invalid: " + err.Error())
	}
	return c
}
