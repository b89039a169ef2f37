package engine

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/soundgrab/models"
)

func TestCookieParams_ScopedToTarget(t *testing.T) {
	jar := filepath.Join(t.TempDir(), "cookies.txt")
	doc := ".youtube.com\tTRUE\t/\tTRUE\t4102444800\tSAPISID\tkey\n" +
		".youtube.com\tTRUE\t/\tFALSE\t1\tstale\tx\n" +
		".other.com\tTRUE\t/\tFALSE\t0\tforeign\ty\n"
	require.NoError(t, os.WriteFile(jar, []byte(doc), 0o600))

	target := "https://www.youtube.com/watch?v=abc"
	u, err := url.Parse(target)
	require.NoError(t, err)
	cookies, err := cookiesFor(jar, u)
	require.NoError(t, err)

	params := cookieParams(cookies, target)
	require.Len(t, params, 1)
	assert.Equal(t, "SAPISID", params[0].Name)
	assert.Equal(t, "key", params[0].Value)
	assert.Equal(t, target, params[0].URL)
	assert.Empty(t, params[0].Domain)
}

func TestCookieParams_Empty(t *testing.T) {
	assert.Empty(t, cookieParams(nil, "https://example.com/"))
}

func TestBrowserEngine_RejectsDownloadWithoutLaunching(t *testing.T) {
	e := NewBrowserEngine(BrowserOptions{})
	_, err := e.Run(context.Background(), &Request{URL: "https://example.com/", Mode: models.ModeDownload})

	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.ErrorIs(t, err, ErrUnsupportedMode)
	assert.Nil(t, e.browser)
}
