package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/soundgrab/models"
	"github.com/use-agent/soundgrab/strategy"
)

type fakeRunner struct {
	stdout, stderr string
	err            error
	gotName        string
	gotArgs        []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.gotName = name
	f.gotArgs = args
	return []byte(f.stdout), []byte(f.stderr), f.err
}

func TestYtDlpArgs_Download(t *testing.T) {
	e := NewYtDlpEngine(WithSocketTimeout(10*time.Second), WithFFmpegLocation("/opt/ffmpeg"))
	args := e.Args(&Request{
		URL:  "https://example.com/watch?v=1",
		Mode: models.ModeDownload,
		Strategy: strategy.Strategy{
			Name:              "ios",
			ClientIdentity:    "ios",
			UserAgent:         "ua",
			Headers:           map[string]string{"B": "2", "A": "1"},
			AllowedContainers: []string{"m4a", "webm"},
		},
		CookieFile: "/tmp/c.txt",
		OutputDir:  "/tmp/attempt-1",
		Codec:      "mp3",
		Bitrate:    "320",
	})

	assert.Contains(t, args, "--no-simulate")
	assert.Contains(t, args, "-x")
	assert.NotContains(t, args, "--skip-download")
	assert.Equal(t, []string{"--", "https://example.com/watch?v=1"}, args[len(args)-2:])
	assertPair(t, args, "--socket-timeout", "10")
	assertPair(t, args, "--user-agent", "ua")
	assertPair(t, args, "--extractor-args", "youtube:player_client=ios")
	assertPair(t, args, "--cookies", "/tmp/c.txt")
	assertPair(t, args, "-f", "bestaudio[ext=m4a]/bestaudio[ext=webm]")
	assertPair(t, args, "--audio-format", "mp3")
	assertPair(t, args, "--audio-quality", "320K")
	assertPair(t, args, "-o", "/tmp/attempt-1/%(title)s.%(ext)s")
	assertPair(t, args, "--ffmpeg-location", "/opt/ffmpeg")

	// Headers are emitted in sorted order.
	var headers []string
	for i, a := range args {
		if a == "--add-header" {
			headers = append(headers, args[i+1])
		}
	}
	assert.Equal(t, []string{"A:1", "B:2"}, headers)
}

func TestYtDlpArgs_Metadata(t *testing.T) {
	e := NewYtDlpEngine()
	args := e.Args(&Request{
		URL:      "https://example.com/v",
		Mode:     models.ModeMetadata,
		Strategy: strategy.Strategy{Name: "generic", ForceGeneric: true},
	})

	assert.Contains(t, args, "--skip-download")
	assert.Contains(t, args, "--force-generic-extractor")
	assert.NotContains(t, args, "-x")
	assert.NotContains(t, args, "--cookies")
	assert.NotContains(t, args, "--extractor-args")
}

func TestYtDlpRun_ParsesInfo(t *testing.T) {
	runner := &fakeRunner{stdout: `[info] stray line
{"title":"Song","thumbnail":"https://i/small.jpg","thumbnails":[{"url":"https://i/a.jpg"},{"url":"https://i/max.jpg"}],"requested_downloads":[{"filepath":"/tmp/a/Song.mp3"}]}`}
	e := NewYtDlpEngine(WithCommandRunner(runner), WithYtDlpBinary("/usr/bin/yt-dlp"))

	res, err := e.Run(context.Background(), &Request{URL: "u", Mode: models.ModeDownload, OutputDir: "/tmp/a", Codec: "mp3"})
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/yt-dlp", runner.gotName)
	assert.Equal(t, "Song", res.Title)
	assert.Equal(t, "https://i/max.jpg", res.ThumbnailURL)
	assert.Equal(t, "/tmp/a/Song.mp3", res.ExpectedFile)
}

func TestYtDlpRun_MetadataHasNoExpectedFile(t *testing.T) {
	runner := &fakeRunner{stdout: `{"title":"Song","thumbnail":"https://i/t.jpg"}`}
	e := NewYtDlpEngine(WithCommandRunner(runner))

	res, err := e.Run(context.Background(), &Request{URL: "u", Mode: models.ModeMetadata})
	require.NoError(t, err)
	assert.Equal(t, "https://i/t.jpg", res.ThumbnailURL)
	assert.Empty(t, res.ExpectedFile)
}

func TestYtDlpRun_FailureCarriesStderr(t *testing.T) {
	runner := &fakeRunner{
		stderr: "ERROR: [youtube] abc: Sign in to confirm you're not a bot",
		err:    errors.New("exit status 1"),
	}
	e := NewYtDlpEngine(WithCommandRunner(runner))

	_, err := e.Run(context.Background(), &Request{URL: "u", Mode: models.ModeMetadata})
	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, "ytdlp", f.Engine)
	assert.Contains(t, f.Diagnostic, "not a bot")
}

func TestYtDlpRun_EmptyOutput(t *testing.T) {
	e := NewYtDlpEngine(WithCommandRunner(&fakeRunner{stdout: "  \n"}))
	_, err := e.Run(context.Background(), &Request{URL: "u", Mode: models.ModeMetadata})
	assert.ErrorIs(t, err, ErrEmptyResult)
}

func TestYtDlpRun_ContextDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	e := NewYtDlpEngine(WithCommandRunner(&fakeRunner{err: errors.New("signal: killed")}))
	_, err := e.Run(ctx, &Request{URL: "u", Mode: models.ModeMetadata})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAudioQuality(t *testing.T) {
	assert.Equal(t, "0", audioQuality(""))
	assert.Equal(t, "5", audioQuality("5"))
	assert.Equal(t, "192K", audioQuality("192"))
	assert.Equal(t, "128k", audioQuality("128k"))
}

func assertPair(t *testing.T, args []string, flag, value string) {
	t.Helper()
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			assert.Equal(t, value, args[i+1], flag)
			return
		}
	}
	t.Errorf("flag %s not found in %v", flag, args)
}

func TestYtDlpArgs_KeepsWarnings(t *testing.T) {
	args := NewYtDlpEngine().Args(&Request{URL: "u", Mode: models.ModeMetadata})
	assert.NotContains(t, args, "--no-warnings")
}

func TestYtDlpRun_DiagnosticKeepsEarlyWarning(t *testing.T) {
	noise := strings.Repeat("[youtube] abc: Downloading webpage\n", 200)
	runner := &fakeRunner{
		stderr: "WARNING: [youtube] The provided YouTube account cookies are no longer valid. They have likely been rotated in the browser as a security measure.\n" +
			noise +
			"ERROR: [youtube] abc: Requested format is not available\n",
		err: errors.New("exit status 1"),
	}
	e := NewYtDlpEngine(WithCommandRunner(runner))

	_, err := e.Run(context.Background(), &Request{URL: "u", Mode: models.ModeMetadata})
	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Contains(t, f.Diagnostic, "cookies are no longer valid")
	assert.Contains(t, f.Diagnostic, "Requested format is not available")
	assert.NotContains(t, f.Diagnostic, "Downloading webpage")
}

func TestDiagnostic_FallsBackToTail(t *testing.T) {
	assert.Equal(t, "boom", diagnostic("  boom \n", 2048))
	assert.Equal(t, "…xyz", diagnostic("abcxyz", 3))
}
