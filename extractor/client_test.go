package extractor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/soundgrab/engine"
	"github.com/use-agent/soundgrab/models"
	"github.com/use-agent/soundgrab/strategy"
)

// stubEngine writes files into the request's OutputDir and returns a fixed
// result or error.
type stubEngine struct {
	name   string
	files  []string
	result *engine.Result
	err    error
	got    *engine.Request
}

func (s *stubEngine) Name() string { return s.name }

func (s *stubEngine) Run(_ context.Context, req *engine.Request) (*engine.Result, error) {
	s.got = req
	for _, f := range s.files {
		if err := os.WriteFile(filepath.Join(req.OutputDir, f), []byte("audio"), 0o600); err != nil {
			return nil, err
		}
	}
	return s.result, s.err
}

var mp3 = Codec{Name: "mp3", Ext: "mp3", MimeType: "audio/mpeg"}

func download(dir string) Attempt {
	return Attempt{
		ID:       "a1",
		URL:      "https://example.com/v",
		Mode:     models.ModeDownload,
		Strategy: strategy.Strategy{Name: "ios", Engine: strategy.EngineYtDlp},
		ScopeDir: dir,
	}
}

func TestClient_DownloadUsesExpectedFile(t *testing.T) {
	dir := t.TempDir()
	eng := &stubEngine{
		name:   "ytdlp",
		files:  []string{"Song.mp3"},
		result: &engine.Result{Title: "Song", ExpectedFile: filepath.Join(dir, "Song.mp3")},
	}
	c := NewClient([]engine.Engine{eng}, mp3, "192")

	out := c.Run(context.Background(), download(dir))
	require.True(t, out.OK(), out.Detail)
	assert.Equal(t, filepath.Join(dir, "Song.mp3"), out.ArtifactPath)
	assert.Equal(t, "audio/mpeg", out.MimeType)
	assert.Equal(t, "Song", out.Title)
	assert.Empty(t, out.Detail)
	assert.Equal(t, "mp3", eng.got.Codec)
	assert.Equal(t, "192", eng.got.Bitrate)
}

func TestClient_DownloadFallsBackToSuffixMatch(t *testing.T) {
	dir := t.TempDir()
	eng := &stubEngine{
		name:   "ytdlp",
		files:  []string{"Song (Official).mp3", "Song.webp"},
		result: &engine.Result{ExpectedFile: filepath.Join(dir, "Song.mp3")},
	}
	c := NewClient([]engine.Engine{eng}, mp3, "320")

	out := c.Run(context.Background(), download(dir))
	require.True(t, out.OK(), out.Detail)
	assert.Equal(t, filepath.Join(dir, "Song (Official).mp3"), out.ArtifactPath)
	assert.Equal(t, "Song (Official)", out.Title, "title falls back to the file name")
}

func TestClient_DownloadAmbiguousOutput(t *testing.T) {
	tests := []struct {
		name  string
		files []string
	}{
		{"none", nil},
		{"several", []string{"a.mp3", "b.mp3"}},
		{"wrong codec", []string{"a.m4a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			eng := &stubEngine{name: "ytdlp", files: tt.files, result: &engine.Result{Title: "x"}}
			out := NewClient([]engine.Engine{eng}, mp3, "320").Run(context.Background(), download(dir))
			assert.Equal(t, models.KindFatal, out.Kind)
			assert.Contains(t, out.Detail, "no unambiguous output")
			assert.Empty(t, out.ArtifactPath)
		})
	}
}

func TestClient_IgnoresExpectedFileOutsideScope(t *testing.T) {
	dir := t.TempDir()
	outside := filepath.Join(t.TempDir(), "evil.mp3")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o600))

	eng := &stubEngine{name: "ytdlp", result: &engine.Result{ExpectedFile: outside}}
	out := NewClient([]engine.Engine{eng}, mp3, "320").Run(context.Background(), download(dir))
	assert.Equal(t, models.KindFatal, out.Kind)
}

func TestClient_Metadata(t *testing.T) {
	eng := &stubEngine{name: "http", result: &engine.Result{Title: "T", ThumbnailURL: "https://i/x.jpg"}}
	c := NewClient([]engine.Engine{eng}, mp3, "320")

	out := c.Run(context.Background(), Attempt{
		URL:      "https://example.com",
		Mode:     models.ModeMetadata,
		Strategy: strategy.Strategy{Name: "page-og", Engine: strategy.EngineHTTP},
	})
	require.True(t, out.OK())
	assert.Equal(t, "T", out.Title)
	assert.Equal(t, "https://i/x.jpg", out.ThumbnailURL)
	assert.Empty(t, out.ArtifactPath)
	assert.Empty(t, out.MimeType)
}

func TestClient_ClassifiesEngineErrors(t *testing.T) {
	eng := &stubEngine{name: "ytdlp", err: &engine.Failure{Engine: "ytdlp", Diagnostic: "ERROR: Private video", Err: errors.New("exit status 1")}}
	out := NewClient([]engine.Engine{eng}, mp3, "320").Run(context.Background(), Attempt{
		Mode:     models.ModeMetadata,
		Strategy: strategy.Strategy{Name: "ios", Engine: strategy.EngineYtDlp},
	})
	assert.Equal(t, models.KindNotFound, out.Kind)
	assert.Contains(t, out.Detail, "Private video")
	assert.Empty(t, out.Title)
}

func TestClient_UnknownEngine(t *testing.T) {
	out := NewClient(nil, mp3, "320").Run(context.Background(), Attempt{
		Mode:     models.ModeMetadata,
		Strategy: strategy.Strategy{Name: "b", Engine: strategy.EngineBrowser},
	})
	assert.Equal(t, models.KindFatal, out.Kind)
}
