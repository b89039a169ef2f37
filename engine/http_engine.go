package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	tls "github.com/refraction-networking/utls"
	"golang.org/x/net/html"

	"github.com/use-agent/soundgrab/models"
)

// HTTPEngine reads title and artwork straight from a page's Open Graph and
// Twitter card tags. It cannot download audio; it exists so metadata
// requests still answer when every yt-dlp identity is blocked.
type HTTPEngine struct {
	client *http.Client
}

// chromeH1Spec is a Chrome-like TLS ClientHello with ALPN forced to http/1.1
// only. Computed once at init time and reused for every connection.
var chromeH1Spec tls.ClientHelloSpec

func init() {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return
	}
	// Go's http.Transport cannot speak h2 over a utls conn.
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	chromeH1Spec = spec
}

// NewHTTPEngine creates an HTTPEngine with a Chrome-like TLS fingerprint.
func NewHTTPEngine() *HTTPEngine {
	transport := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: 10 * time.Second}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			host, _, _ := net.SplitHostPort(addr)
			tlsConn := tls.UClient(conn, &tls.Config{ServerName: host}, tls.HelloCustom)
			if err := tlsConn.ApplyPreset(&chromeH1Spec); err != nil {
				conn.Close()
				return nil, fmt.Errorf("http_engine: apply tls spec: %w", err)
			}
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				conn.Close()
				return nil, err
			}
			return tlsConn, nil
		},
		ForceAttemptHTTP2:     false,
		ResponseHeaderTimeout: 15 * time.Second,
		IdleConnTimeout:       90 * time.Second,
	}
	return &HTTPEngine{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
	}
}

func (e *HTTPEngine) Name() string { return "http" }

func (e *HTTPEngine) Run(ctx context.Context, req *Request) (*Result, error) {
	if req.Mode == models.ModeDownload {
		return nil, &Failure{Engine: e.Name(), Diagnostic: "http engine cannot download audio", Err: ErrUnsupportedMode}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, &Failure{Engine: e.Name(), Err: fmt.Errorf("build request: %w", err)}
	}

	httpReq.Header.Set("User-Agent", req.Strategy.UserAgent)
	if req.Strategy.UserAgent == "" {
		httpReq.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
	}
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Encoding", "identity")
	for k, v := range req.Strategy.Headers {
		httpReq.Header.Set(k, v)
	}

	if req.CookieFile != "" {
		cookies, err := cookiesFor(req.CookieFile, httpReq.URL)
		if err != nil {
			slog.Warn("http_engine: cookie jar unreadable, continuing without", "error", err)
		}
		for _, c := range cookies {
			httpReq.AddCookie(c)
		}
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, &Failure{Engine: e.Name(), Err: err}
	}
	defer resp.Body.Close()

	// Metadata lives in <head>; 4 MB is plenty.
	const maxBody = 4 << 20
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &Failure{Engine: e.Name(), StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode >= 400 {
		return nil, &Failure{
			Engine:     e.Name(),
			StatusCode: resp.StatusCode,
			Diagnostic: fmt.Sprintf("HTTP Error %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		}
	}
	if ct := resp.Header.Get("Content-Type"); !isHTMLContentType(ct) {
		return nil, &Failure{Engine: e.Name(), StatusCode: resp.StatusCode, Diagnostic: "unsupported content-type " + ct}
	}

	title, thumb, err := parsePageMeta(string(body))
	if err != nil {
		return nil, &Failure{Engine: e.Name(), Err: err}
	}
	if title == "" && thumb == "" {
		return nil, &Failure{Engine: e.Name(), StatusCode: resp.StatusCode, Err: ErrEmptyResult}
	}
	return &Result{Title: title, ThumbnailURL: absURL(resp.Request.URL.String(), thumb)}, nil
}

// isHTMLContentType returns true if the content-type header looks like HTML.
func isHTMLContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}

// parsePageMeta pulls the media title and artwork from social card tags,
// falling back to <title>.
func parsePageMeta(page string) (title, thumbnail string, err error) {
	root, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)

	title = firstMeta(doc, `meta[property="og:title"]`, `meta[name="twitter:title"]`)
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	thumbnail = firstMeta(doc,
		`meta[property="og:image:secure_url"]`,
		`meta[property="og:image"]`,
		`meta[name="twitter:image"]`,
		`link[rel="image_src"]`,
	)
	return title, thumbnail, nil
}

func firstMeta(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		v, ok := node.Attr("content")
		if !ok {
			v, _ = node.Attr("href")
		}
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// absURL resolves a possibly relative artwork URL against the page URL.
func absURL(base, ref string) string {
	if ref == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	u, err := b.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}
