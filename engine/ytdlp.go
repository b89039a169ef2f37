package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/use-agent/soundgrab/models"
)

// CommandRunner runs an external command and captures its output.
// It allows replacing exec.Command in tests.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecCommandRunner is the production implementation using os/exec.
type ExecCommandRunner struct{}

// Run executes the command; the process is killed when ctx is done.
func (ExecCommandRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// YtDlpEngine drives the yt-dlp binary. Metadata mode dumps the info JSON
// without downloading; download mode extracts audio into the request's
// OutputDir and dumps the info JSON once post-processing is done.
type YtDlpEngine struct {
	bin            string
	ffmpegLocation string
	socketTimeout  time.Duration
	runner         CommandRunner
}

// YtDlpOption is a functional option for configuring YtDlpEngine.
type YtDlpOption func(*YtDlpEngine)

// WithYtDlpBinary sets a custom yt-dlp executable path.
func WithYtDlpBinary(path string) YtDlpOption {
	return func(e *YtDlpEngine) {
		if path != "" {
			e.bin = path
		}
	}
}

// WithFFmpegLocation points yt-dlp at a specific ffmpeg binary or directory.
func WithFFmpegLocation(path string) YtDlpOption {
	return func(e *YtDlpEngine) {
		e.ffmpegLocation = path
	}
}

// WithSocketTimeout sets yt-dlp's --socket-timeout.
func WithSocketTimeout(d time.Duration) YtDlpOption {
	return func(e *YtDlpEngine) {
		e.socketTimeout = d
	}
}

// WithCommandRunner sets a custom command runner (for testing).
func WithCommandRunner(runner CommandRunner) YtDlpOption {
	return func(e *YtDlpEngine) {
		e.runner = runner
	}
}

// NewYtDlpEngine creates a yt-dlp backed engine.
func NewYtDlpEngine(opts ...YtDlpOption) *YtDlpEngine {
	e := &YtDlpEngine{
		bin:           "yt-dlp",
		socketTimeout: 15 * time.Second,
		runner:        ExecCommandRunner{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *YtDlpEngine) Name() string { return "ytdlp" }

// VerifyInstalled checks that yt-dlp can be executed.
func (e *YtDlpEngine) VerifyInstalled(ctx context.Context) (string, error) {
	out, _, err := e.runner.Run(ctx, e.bin, "--version")
	if err != nil {
		return "", fmt.Errorf("yt-dlp not found or not executable: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// ytInfo is the subset of yt-dlp's info JSON we read.
type ytInfo struct {
	Type       string `json:"_type"`
	Title      string `json:"title"`
	Thumbnail  string `json:"thumbnail"`
	Thumbnails []struct {
		URL string `json:"url"`
	} `json:"thumbnails"`
	RequestedDownloads []struct {
		Filepath string `json:"filepath"`
	} `json:"requested_downloads"`
	Entries []json.RawMessage `json:"entries"`
}

func (e *YtDlpEngine) Run(ctx context.Context, req *Request) (*Result, error) {
	args := e.Args(req)

	stdout, stderr, err := e.runner.Run(ctx, e.bin, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w (%v)", ctxErr, err)
		}
		return nil, &Failure{
			Engine:     e.Name(),
			Diagnostic: diagnostic(string(stderr), 2048),
			Err:        err,
		}
	}

	out := bytes.TrimSpace(stdout)
	if len(out) == 0 {
		return nil, &Failure{Engine: e.Name(), Err: ErrEmptyResult}
	}

	// With --dump-single-json the info document is the last line; anything
	// before it is stray output.
	if i := bytes.LastIndexByte(out, '\n'); i >= 0 {
		out = out[i+1:]
	}

	var info ytInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, &Failure{
			Engine:     e.Name(),
			Diagnostic: "unparseable info json",
			Err:        fmt.Errorf("ytdlp: decode info: %w", err),
		}
	}
	if info.Type == "playlist" && len(info.Entries) == 0 {
		return nil, &Failure{Engine: e.Name(), Err: ErrEmptyResult}
	}

	result := &Result{
		Title:        info.Title,
		ThumbnailURL: info.Thumbnail,
	}
	// The last thumbnail is the largest.
	if n := len(info.Thumbnails); n > 0 && info.Thumbnails[n-1].URL != "" {
		result.ThumbnailURL = info.Thumbnails[n-1].URL
	}
	if req.Mode == models.ModeDownload {
		for _, d := range info.RequestedDownloads {
			if d.Filepath != "" {
				result.ExpectedFile = d.Filepath
			}
		}
		if result.ExpectedFile == "" && info.Title != "" {
			result.ExpectedFile = filepath.Join(req.OutputDir, info.Title+"."+req.Codec)
		}
	}
	return result, nil
}

// Args builds the yt-dlp argument list for req. Header order is sorted so
// the command line is reproducible.
func (e *YtDlpEngine) Args(req *Request) []string {
	s := req.Strategy
	args := []string{
		"--ignore-config",
		"--no-playlist",
		"--no-progress",
		"--dump-single-json",
	}
	if e.socketTimeout > 0 {
		args = append(args, "--socket-timeout", strconv.Itoa(int(e.socketTimeout.Seconds())))
	}
	if s.UserAgent != "" {
		args = append(args, "--user-agent", s.UserAgent)
	}
	keys := make([]string, 0, len(s.Headers))
	for k := range s.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--add-header", k+":"+s.Headers[k])
	}
	if s.ClientIdentity != "" {
		args = append(args, "--extractor-args", "youtube:player_client="+s.ClientIdentity)
	}
	if s.ForceGeneric {
		args = append(args, "--force-generic-extractor")
	}
	if req.CookieFile != "" {
		args = append(args, "--cookies", req.CookieFile)
	}

	switch req.Mode {
	case models.ModeDownload:
		args = append(args,
			"--no-simulate",
			"-f", formatSelector(s.AllowedContainers),
			"-x",
			"--audio-format", req.Codec,
			"--audio-quality", audioQuality(req.Bitrate),
			"-o", filepath.Join(req.OutputDir, "%(title)s.%(ext)s"),
		)
		if e.ffmpegLocation != "" {
			args = append(args, "--ffmpeg-location", e.ffmpegLocation)
		}
	default:
		args = append(args, "--skip-download")
	}

	return append(args, "--", req.URL)
}

// formatSelector prefers the best audio-only stream, optionally restricted to
// the given containers.
func formatSelector(containers []string) string {
	if len(containers) == 0 {
		return "bestaudio/best"
	}
	parts := make([]string, 0, len(containers))
	for _, c := range containers {
		parts = append(parts, "bestaudio[ext="+c+"]")
	}
	return strings.Join(parts, "/")
}

// audioQuality turns "320" into "320K"; VBR levels 0-10 and explicit
// suffixes pass through.
func audioQuality(bitrate string) string {
	if bitrate == "" {
		return "0"
	}
	if n, err := strconv.Atoi(bitrate); err == nil && n > 10 {
		return bitrate + "K"
	}
	return bitrate
}

// IsExitError reports whether err came from the process exiting non-zero.
func IsExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}
