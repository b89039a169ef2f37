package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/use-agent/soundgrab/models"
)

// BrowserOptions configures the headless browser.
type BrowserOptions struct {
	Bin       string
	NoSandbox bool
}

// BrowserEngine renders the page in headless Chromium with stealth patches
// and reads the same social card tags as HTTPEngine. It is the last resort
// for metadata when the page only exposes them after JavaScript runs.
//
// The browser is launched on first use and shared by all attempts; each
// attempt gets its own incognito context and tab.
type BrowserEngine struct {
	opts BrowserOptions

	once    sync.Once
	browser *rod.Browser
	err     error
}

// NewBrowserEngine creates a lazily launched browser engine.
func NewBrowserEngine(opts BrowserOptions) *BrowserEngine {
	return &BrowserEngine{opts: opts}
}

func (e *BrowserEngine) Name() string { return "browser" }

func (e *BrowserEngine) launch() (*rod.Browser, error) {
	e.once.Do(func() {
		l := launcher.New().
			Headless(true).
			NoSandbox(e.opts.NoSandbox)
		if e.opts.Bin != "" {
			l = l.Bin(e.opts.Bin)
		}
		l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
		l.Delete(flags.Flag("enable-automation"))
		l.Set(flags.Flag("mute-audio"))
		l.Set(flags.Flag("autoplay-policy"), "user-gesture-required")
		l.Set(flags.Flag("disable-dev-shm-usage"))
		l.Set(flags.Flag("disable-extensions"))
		l.Set(flags.Flag("no-first-run"))

		controlURL, err := l.Launch()
		if err != nil {
			e.err = fmt.Errorf("launch browser: %w", err)
			return
		}
		slog.Info("browser launched", "controlURL", controlURL)

		b := rod.New().ControlURL(controlURL)
		if err := b.Connect(); err != nil {
			e.err = fmt.Errorf("connect browser: %w", err)
			return
		}
		e.browser = b
	})
	return e.browser, e.err
}

func (e *BrowserEngine) Run(ctx context.Context, req *Request) (*Result, error) {
	if req.Mode == models.ModeDownload {
		return nil, &Failure{Engine: e.Name(), Diagnostic: "browser engine cannot download audio", Err: ErrUnsupportedMode}
	}

	browser, err := e.launch()
	if err != nil {
		return nil, &Failure{Engine: e.Name(), Err: err}
	}

	// Injected cookies must stay out of the shared browser profile.
	incognito, err := browser.Incognito()
	if err != nil {
		return nil, &Failure{Engine: e.Name(), Err: fmt.Errorf("open incognito context: %w", err)}
	}
	defer func() {
		if closeErr := incognito.Close(); closeErr != nil {
			slog.Warn("browser: failed to dispose incognito context", "error", closeErr)
		}
	}()

	page, err := stealth.Page(incognito)
	if err != nil {
		return nil, &Failure{Engine: e.Name(), Err: fmt.Errorf("open tab: %w", err)}
	}
	defer func() {
		if closeErr := page.Close(); closeErr != nil {
			slog.Warn("browser: failed to close tab", "error", closeErr)
		}
	}()

	if req.Strategy.UserAgent != "" {
		_ = proto.NetworkSetUserAgentOverride{UserAgent: req.Strategy.UserAgent}.Call(page)
	}
	if len(req.Strategy.Headers) > 0 {
		_ = proto.NetworkSetExtraHTTPHeaders{Headers: toHeadersMap(req.Strategy.Headers)}.Call(page)
	}
	if req.CookieFile != "" {
		e.setCookies(page, req)
	}

	router := blockHeavyResources(page)
	defer func() { _ = router.Stop() }()

	p := page.Context(ctx)
	if err := p.Navigate(req.URL); err != nil {
		return nil, &Failure{Engine: e.Name(), Err: navigationError(ctx, err)}
	}
	if err := p.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
		slog.Debug("browser: DOM did not settle, reading current state", "error", err)
	}

	status := 0
	if res, err := p.Eval(`() => {
		try {
			const entries = performance.getEntriesByType("navigation");
			if (entries.length > 0) return entries[0].responseStatus || 0;
		} catch(e) {}
		return 0;
	}`); err == nil {
		status = res.Value.Int()
	}
	if status >= 400 {
		return nil, &Failure{
			Engine:     e.Name(),
			StatusCode: status,
			Diagnostic: fmt.Sprintf("HTTP Error %d", status),
		}
	}

	rendered, err := p.HTML()
	if err != nil {
		return nil, &Failure{Engine: e.Name(), Err: navigationError(ctx, err)}
	}
	title, thumb, err := parsePageMeta(rendered)
	if err != nil {
		return nil, &Failure{Engine: e.Name(), Err: err}
	}
	if title == "" && thumb == "" {
		return nil, &Failure{Engine: e.Name(), StatusCode: status, Err: ErrEmptyResult}
	}

	finalURL := req.URL
	if res, err := p.Eval(`() => window.location.href`); err == nil && res.Value.Str() != "" {
		finalURL = res.Value.Str()
	}
	return &Result{Title: title, ThumbnailURL: absURL(finalURL, thumb)}, nil
}

func (e *BrowserEngine) setCookies(page *rod.Page, req *Request) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return
	}
	cookies, err := cookiesFor(req.CookieFile, u)
	if err != nil {
		slog.Warn("browser: cookie jar unreadable, continuing without", "error", err)
		return
	}
	if params := cookieParams(cookies, req.URL); len(params) > 0 {
		if err := (proto.NetworkSetCookies{Cookies: params}).Call(page); err != nil {
			slog.Warn("browser: failed to set cookies", "error", err)
		}
	}
}

// cookieParams scopes jar cookies to target; the jar has already applied
// domain, path, secure and expiry rules.
func cookieParams(cookies []*http.Cookie, target string) []*proto.NetworkCookieParam {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:  c.Name,
			Value: c.Value,
			URL:   target,
		})
	}
	return params
}

// Close kills the browser process if it was launched.
func (e *BrowserEngine) Close() {
	if e.browser == nil {
		return
	}
	if err := e.browser.Close(); err != nil {
		slog.Warn("browser: close failed", "error", err)
	}
}

// blockHeavyResources drops media, images and fonts; only the DOM matters.
func blockHeavyResources(page *rod.Page) *rod.HijackRouter {
	router := page.HijackRequests()
	_ = router.Add("*", "", func(ctx *rod.Hijack) {
		switch ctx.Request.Type() {
		case proto.NetworkResourceTypeImage,
			proto.NetworkResourceTypeMedia,
			proto.NetworkResourceTypeFont,
			proto.NetworkResourceTypeStylesheet:
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}

// navigationError keeps deadline errors recognisable to the classifier.
func navigationError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	if strings.Contains(err.Error(), "net::ERR_NAME_NOT_RESOLVED") {
		return fmt.Errorf("name resolution failed: %w", err)
	}
	return err
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}
