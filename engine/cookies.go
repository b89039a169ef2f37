package engine

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/ssgelm/cookiejarparser"
)

// cookiesFor loads a Netscape cookies.txt and returns the cookies the jar
// would send to target, honouring domain, path, secure and expiry rules.
// Malformed lines are skipped.
func cookiesFor(path string, target *url.URL) ([]*http.Cookie, error) {
	jar, err := cookiejarparser.LoadCookieJarFile(path,
		cookiejarparser.WithLenient(),
		cookiejarparser.WithMalformedLineHandler(func(line int, err error) {
			slog.Debug("cookies: skipped malformed line", "line", line, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("cookies: load %s: %w", path, err)
	}
	return jar.Cookies(target), nil
}
