package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/soundgrab/credentials"
	"github.com/use-agent/soundgrab/extractor"
	"github.com/use-agent/soundgrab/models"
	"github.com/use-agent/soundgrab/scope"
	"github.com/use-agent/soundgrab/strategy"
)

// scriptedExtractor returns a fixed kind per strategy name. Successful
// downloads write a file named after the URL into the scope.
type scriptedExtractor struct {
	mu     sync.Mutex
	kinds  map[string]models.Kind
	calls  []extractor.Attempt
	scopes []string
	peers  map[string][]string // scope dir -> entries seen at write time
	delay  time.Duration
	onRun  func(a extractor.Attempt)
}

func newScripted(kinds map[string]models.Kind) *scriptedExtractor {
	return &scriptedExtractor{kinds: kinds, peers: map[string][]string{}}
}

func (s *scriptedExtractor) Run(ctx context.Context, a extractor.Attempt) extractor.Outcome {
	s.mu.Lock()
	s.calls = append(s.calls, a)
	if a.ScopeDir != "" {
		s.scopes = append(s.scopes, a.ScopeDir)
	}
	kind, ok := s.kinds[a.Strategy.Name]
	s.mu.Unlock()

	if s.onRun != nil {
		s.onRun(a)
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return extractor.Outcome{Kind: models.KindTransient, Detail: ctx.Err().Error()}
		}
	}
	if !ok {
		kind = models.KindSuccess
	}
	if kind != models.KindSuccess {
		return extractor.Outcome{Kind: kind, Detail: "scripted " + string(kind)}
	}
	if a.Mode == models.ModeMetadata {
		return extractor.Outcome{Kind: models.KindSuccess, Title: "Title " + a.Strategy.Name, ThumbnailURL: "https://i/" + a.Strategy.Name}
	}

	path := filepath.Join(a.ScopeDir, "track.mp3")
	if err := os.WriteFile(path, []byte(a.URL), 0o600); err != nil {
		return extractor.Outcome{Kind: models.KindFatal, Detail: err.Error()}
	}
	entries, _ := os.ReadDir(a.ScopeDir)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	s.mu.Lock()
	s.peers[a.ScopeDir] = names
	s.mu.Unlock()

	return extractor.Outcome{
		Kind:         models.KindSuccess,
		Title:        "Song",
		MimeType:     "audio/mpeg",
		ArtifactPath: path,
	}
}

func (s *scriptedExtractor) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls int
}

func (n *recordingNotifier) AuthExpired(string, string, []string) {
	n.mu.Lock()
	n.calls++
	n.mu.Unlock()
}

func catalogOf(t *testing.T, names ...string) *strategy.Catalog {
	t.Helper()
	ss := make([]strategy.Strategy, len(names))
	for i, n := range names {
		ss[i] = strategy.Strategy{Name: n, Engine: strategy.EngineYtDlp, Rank: i}
	}
	c, err := strategy.NewCatalog(ss)
	require.NoError(t, err)
	return c
}

func newTestOrchestrator(t *testing.T, cat *strategy.Catalog, ex Extractor, opts Options) (*Orchestrator, string) {
	t.Helper()
	base := filepath.Join(t.TempDir(), "scratch")
	lc, err := scope.New(base, 0)
	require.NoError(t, err)
	return New(cat, ex, credentials.NewStore("", base), lc, opts), base
}

func assertScratchEmpty(t *testing.T, base string) {
	t.Helper()
	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch dir must hold no leftover scopes or cookie copies")
}

func TestFetch_InvalidInputTouchesNothing(t *testing.T) {
	for _, raw := range []string{"", "   ", "not a url", "ftp://host/x", "https://"} {
		t.Run(raw, func(t *testing.T) {
			ex := newScripted(nil)
			base := filepath.Join(t.TempDir(), "never-created")
			o := New(catalogOf(t, "a"), ex, nil, &scope.Lifecycle{}, Options{})

			_, err := o.FetchAudio(context.Background(), raw)
			var fe *FetchError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, models.KindInvalidInput, fe.Kind)
			assert.Empty(t, fe.Attempts)
			assert.Zero(t, ex.callCount())
			assert.NoDirExists(t, base)

			_, err = o.FetchMetadata(context.Background(), raw)
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, models.KindInvalidInput, fe.Kind)
			assert.Zero(t, ex.callCount())
		})
	}
}

func TestFetchAudio_ScopeRemovedAfterSuccess(t *testing.T) {
	ex := newScripted(nil)
	o, base := newTestOrchestrator(t, catalogOf(t, "a", "b"), ex, Options{})

	audio, err := o.FetchAudio(context.Background(), "https://example.com/watch?v=1")
	require.NoError(t, err)
	assert.Equal(t, []byte("https://example.com/watch?v=1"), audio.Body)
	assert.Equal(t, "Song", audio.Title)
	assert.Equal(t, "audio/mpeg", audio.MimeType)
	assert.Equal(t, "a", audio.Strategy)

	require.Len(t, ex.scopes, 1)
	assert.NoDirExists(t, ex.scopes[0])
	assertScratchEmpty(t, base)
}

func TestFetchAudio_ScopeRemovedAfterFailure(t *testing.T) {
	ex := newScripted(map[string]models.Kind{"a": models.KindTransient, "b": models.KindFatal})
	o, base := newTestOrchestrator(t, catalogOf(t, "a", "b"), ex, Options{})

	_, err := o.FetchAudio(context.Background(), "https://example.com/x")
	require.Error(t, err)
	require.Len(t, ex.scopes, 2)
	assert.NotEqual(t, ex.scopes[0], ex.scopes[1], "each attempt gets its own scope")
	for _, dir := range ex.scopes {
		assert.NoDirExists(t, dir)
	}
	assertScratchEmpty(t, base)
}

func TestFetch_RateLimitedThenSuccess(t *testing.T) {
	ex := newScripted(map[string]models.Kind{"a": models.KindRateLimited})
	o, _ := newTestOrchestrator(t, catalogOf(t, "a", "b", "c"), ex, Options{})

	audio, err := o.FetchAudio(context.Background(), "https://example.com/x")
	require.NoError(t, err)
	assert.Equal(t, "b", audio.Strategy)
	require.Len(t, audio.Attempts, 2)
	assert.Equal(t, "a", audio.Attempts[0].Strategy)
	assert.Equal(t, models.KindRateLimited, audio.Attempts[0].Kind)
	assert.Equal(t, "b", audio.Attempts[1].Strategy)
	assert.Equal(t, models.KindSuccess, audio.Attempts[1].Kind)
	assert.Equal(t, 2, ex.callCount())
}

func TestFetch_AllTransientTriesEachStrategyOnce(t *testing.T) {
	ex := newScripted(map[string]models.Kind{
		"a": models.KindTransient, "b": models.KindTransient, "c": models.KindTransient,
	})
	cat := catalogOf(t, "a", "b", "c")
	o, _ := newTestOrchestrator(t, cat, ex, Options{})

	_, err := o.FetchAudio(context.Background(), "https://example.com/x")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, models.KindTransient, fe.Kind)
	assert.Equal(t, cat.Len(), ex.callCount())
	assert.Equal(t, []string{"a", "b", "c"}, fe.Attempts.Strategies())
}

func TestFetch_NotFoundFailsFast(t *testing.T) {
	ex := newScripted(map[string]models.Kind{"a": models.KindNotFound})
	o, _ := newTestOrchestrator(t, catalogOf(t, "a", "b", "c"), ex, Options{})

	_, err := o.FetchMetadata(context.Background(), "https://example.com/x")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, models.KindNotFound, fe.Kind)
	assert.Equal(t, 1, ex.callCount())
}

func TestFetch_FatalFailsFast(t *testing.T) {
	ex := newScripted(map[string]models.Kind{"a": models.KindRateLimited, "b": models.KindFatal})
	o, _ := newTestOrchestrator(t, catalogOf(t, "a", "b", "c"), ex, Options{})

	_, err := o.FetchAudio(context.Background(), "https://example.com/x")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, models.KindFatal, fe.Kind)
	assert.Equal(t, 2, ex.callCount())
}

func TestFetch_AuthExpiredIsPreferred(t *testing.T) {
	ex := newScripted(map[string]models.Kind{"a": models.KindAuthExpired, "b": models.KindTransient})
	notifier := &recordingNotifier{}
	o, _ := newTestOrchestrator(t, catalogOf(t, "a", "b"), ex, Options{Notifier: notifier})

	_, err := o.FetchAudio(context.Background(), "https://example.com/x")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, models.KindAuthExpired, fe.Kind)
	assert.Equal(t, 1, notifier.calls)
	assert.Equal(t, models.UserMessage(models.KindAuthExpired), fe.ExtractError().Message)
}

func TestFetchMetadata_NoScopeCreated(t *testing.T) {
	ex := newScripted(nil)
	o, base := newTestOrchestrator(t, catalogOf(t, "a"), ex, Options{})

	md, err := o.FetchMetadata(context.Background(), "https://example.com/x")
	require.NoError(t, err)
	assert.Equal(t, "Title a", md.Title)
	assert.Equal(t, "https://i/a", md.ThumbnailURL)
	assert.Empty(t, ex.calls[0].ScopeDir)
	assertScratchEmpty(t, base)
}

func TestFetch_CredentialCopiesArePerAttemptAndReleased(t *testing.T) {
	base := filepath.Join(t.TempDir(), "scratch")
	source := filepath.Join(t.TempDir(), "cookies.txt")
	require.NoError(t, os.WriteFile(source, []byte("# Netscape HTTP Cookie File\n"), 0o600))

	ex := newScripted(map[string]models.Kind{"a": models.KindAuthExpired, "b": models.KindRateLimited})
	var seenCookies []string
	ex.onRun = func(a extractor.Attempt) {
		assert.FileExists(t, a.CookieFile)
		seenCookies = append(seenCookies, a.CookieFile)
	}
	lc, err := scope.New(base, 0)
	require.NoError(t, err)
	o := New(catalogOf(t, "a", "b", "c"), ex, credentials.NewStore(source, base), lc, Options{})

	_, err = o.FetchAudio(context.Background(), "https://example.com/x")
	require.NoError(t, err)
	require.Len(t, seenCookies, 3)
	assert.NotEqual(t, seenCookies[0], seenCookies[1])
	for _, p := range seenCookies {
		assert.NoFileExists(t, p)
	}
	assertScratchEmpty(t, base)
	assert.FileExists(t, source)
}

func TestFetch_CredentialedStrategySkippedWithoutCookies(t *testing.T) {
	cat, err := strategy.NewCatalog([]strategy.Strategy{
		{Name: "web", RequiresCredentials: true, Rank: 1},
		{Name: "ios", Rank: 2},
	})
	require.NoError(t, err)
	ex := newScripted(nil)
	o, _ := newTestOrchestrator(t, cat, ex, Options{})

	md, err := o.FetchMetadata(context.Background(), "https://example.com/x")
	require.NoError(t, err)
	assert.Equal(t, "ios", md.Strategy)
	assert.Len(t, md.Attempts, 1)
}

func TestFetch_AttemptTimeoutIsTransient(t *testing.T) {
	ex := newScripted(nil)
	ex.delay = time.Second
	o, _ := newTestOrchestrator(t, catalogOf(t, "a", "b"), ex, Options{MetadataTimeout: 10 * time.Millisecond})

	_, err := o.FetchMetadata(context.Background(), "https://example.com/x")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, models.KindTransient, fe.Kind)
	assert.Equal(t, 2, ex.callCount())
}

func TestFetch_CallerCancellationStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ex := newScripted(map[string]models.Kind{"a": models.KindTransient, "b": models.KindTransient})
	ex.onRun = func(extractor.Attempt) { cancel() }
	o, base := newTestOrchestrator(t, catalogOf(t, "a", "b", "c"), ex, Options{})

	_, err := o.FetchAudio(ctx, "https://example.com/x")
	require.Error(t, err)
	assert.Equal(t, 1, ex.callCount())
	assertScratchEmpty(t, base)
}

func TestFetch_CancelledBeforeStartIsTransient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ex := newScripted(nil)
	o, _ := newTestOrchestrator(t, catalogOf(t, "a", "b"), ex, Options{})

	_, err := o.FetchMetadata(ctx, "https://example.com/x")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, models.KindTransient, fe.Kind)
	assert.Zero(t, ex.callCount())
}

func TestFetchAudio_ConcurrentRequestsAreIsolated(t *testing.T) {
	ex := newScripted(nil)
	ex.delay = 20 * time.Millisecond
	o, base := newTestOrchestrator(t, catalogOf(t, "a"), ex, Options{MaxConcurrent: 5})

	const n = 5
	var wg sync.WaitGroup
	bodies := make([][]byte, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			audio, err := o.FetchAudio(context.Background(), "https://example.com/watch?v="+string(rune('a'+i)))
			errs[i] = err
			if audio != nil {
				bodies[i] = audio.Body
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "https://example.com/watch?v="+string(rune('a'+i)), string(bodies[i]))
	}

	require.Len(t, ex.scopes, n)
	unique := map[string]bool{}
	for _, dir := range ex.scopes {
		unique[dir] = true
		assert.NoDirExists(t, dir)
		assert.Equal(t, []string{"track.mp3"}, ex.peers[dir], "scope saw another request's files")
	}
	assert.Len(t, unique, n)
	assertScratchEmpty(t, base)
	assert.Zero(t, o.Stats().InFlight)
}

func TestFetch_ConcurrencyIsBounded(t *testing.T) {
	ex := newScripted(nil)
	ex.delay = 30 * time.Millisecond
	o, _ := newTestOrchestrator(t, catalogOf(t, "a"), ex, Options{MaxConcurrent: 2})

	var mu sync.Mutex
	peak := 0
	ex.onRun = func(extractor.Attempt) {
		mu.Lock()
		if n := o.Stats().InFlight; n > peak {
			peak = n
		}
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = o.FetchMetadata(context.Background(), "https://example.com/x")
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak, 2)
	assert.Equal(t, 2, o.Stats().MaxInFlight)
}

func TestAttemptRecord_Final(t *testing.T) {
	tests := []struct {
		name  string
		kinds []models.Kind
		want  models.Kind
	}{
		{"empty", nil, models.KindFatal},
		{"success", []models.Kind{models.KindRateLimited, models.KindSuccess}, models.KindSuccess},
		{"auth beats later transient", []models.Kind{models.KindAuthExpired, models.KindTransient}, models.KindAuthExpired},
		{"auth beats rate", []models.Kind{models.KindRateLimited, models.KindAuthExpired, models.KindTransient}, models.KindAuthExpired},
		{"rate beats transient", []models.Kind{models.KindTransient, models.KindRateLimited}, models.KindRateLimited},
		{"terminal not found", []models.Kind{models.KindAuthExpired, models.KindNotFound}, models.KindNotFound},
		{"terminal fatal", []models.Kind{models.KindRateLimited, models.KindFatal}, models.KindFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r AttemptRecord
			for i, k := range tt.kinds {
				r = append(r, Attempt{Strategy: string(rune('a' + i)), Kind: k})
			}
			assert.Equal(t, tt.want, r.Final())
		})
	}
}

func TestFetchError_Wraps(t *testing.T) {
	cause := errors.New("url is required")
	err := &FetchError{Kind: models.KindInvalidInput, Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "INVALID_INPUT")
}

func TestValidateURL(t *testing.T) {
	got, err := ValidateURL("  https://www.youtube.com/watch?v=abc  ")
	require.NoError(t, err)
	assert.Equal(t, "https://www.youtube.com/watch?v=abc", got)
}
