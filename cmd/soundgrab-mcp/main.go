package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// fetchRequest mirrors the Soundgrab API request model.
type fetchRequest struct {
	URL string `json:"url"`
}

// errorDetail mirrors the Soundgrab API error model.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// metadataResponse mirrors the Soundgrab metadata API response.
type metadataResponse struct {
	Success      bool         `json:"success"`
	Title        string       `json:"title"`
	ThumbnailURL string       `json:"thumbnail_url"`
	Strategy     string       `json:"strategy"`
	CacheStatus  string       `json:"cache_status"`
	Attempts     int          `json:"attempts"`
	Error        *errorDetail `json:"error"`
}

// errorResponse mirrors the body of every failed request.
type errorResponse struct {
	Success bool         `json:"success"`
	Error   *errorDetail `json:"error"`
}

func main() {
	apiURL := os.Getenv("SOUNDGRAB_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("SOUNDGRAB_API_KEY")

	s := server.NewMCPServer(
		"soundgrab",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	fetchMetadataTool := mcp.NewTool("fetch_metadata",
		mcp.WithDescription("Look up the title and thumbnail of a media page without downloading it."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The http(s) URL of the media page"),
		),
	)
	s.AddTool(fetchMetadataTool, handleFetchMetadata(apiURL, apiKey))

	fetchAudioTool := mcp.NewTool("fetch_audio",
		mcp.WithDescription("Download the audio track of a media page and save it to a local directory. Returns the saved file path."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The http(s) URL of the media page"),
		),
		mcp.WithString("output_dir",
			mcp.Description("Directory to write the audio file into (default: current directory)"),
		),
	)
	s.AddTool(fetchAudioTool, handleFetchAudio(apiURL, apiKey))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// apiPost sends a POST request to the Soundgrab API. The caller closes the
// response body.
func apiPost(ctx context.Context, client *http.Client, apiURL, apiKey, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	return resp, nil
}

// describeError renders an API error body as "CODE: message".
func describeError(status int, body []byte) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err != nil || er.Error == nil {
		return fmt.Sprintf("request failed with HTTP %d", status)
	}
	return fmt.Sprintf("%s: %s", er.Error.Code, er.Error.Message)
}

func handleFetchMetadata(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 2 * time.Minute}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		resp, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/metadata", fetchRequest{URL: url})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to read response: %v", err)), nil
		}
		if resp.StatusCode != http.StatusOK {
			return mcp.NewToolResultError(describeError(resp.StatusCode, respBody)), nil
		}

		var md metadataResponse
		if err := json.Unmarshal(respBody, &md); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "Title: %s\n", md.Title)
		if md.ThumbnailURL != "" {
			fmt.Fprintf(&sb, "Thumbnail: %s\n", md.ThumbnailURL)
		}
		fmt.Fprintf(&sb, "Strategy: %s (%d attempts)\n", md.Strategy, md.Attempts)
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func handleFetchAudio(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 10 * time.Minute}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}
		outputDir := request.GetString("output_dir", ".")

		resp, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/audio", fetchRequest{URL: url})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
			return mcp.NewToolResultError(describeError(resp.StatusCode, respBody)), nil
		}

		name := attachmentName(resp.Header.Get("Content-Disposition"))
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to create output directory: %v", err)), nil
		}
		path := filepath.Join(outputDir, name)

		f, err := os.Create(path)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to create file: %v", err)), nil
		}
		n, err := io.Copy(f, resp.Body)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(path)
			return mcp.NewToolResultError(fmt.Sprintf("failed to save audio: %v", err)), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Saved %s (%d bytes, %s, strategy %s)",
			path, n, resp.Header.Get("Content-Type"), resp.Header.Get("X-Strategy"))), nil
	}
}

// attachmentName extracts a safe base filename from a Content-Disposition
// header. The RFC 5987 filename* form wins when present.
func attachmentName(header string) string {
	const fallback = "audio"
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return fallback
	}
	name := filepath.Base(params["filename"])
	if name == "." || name == string(filepath.Separator) || name == "" {
		return fallback
	}
	return name
}
