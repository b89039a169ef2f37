package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"
)

// CLI flags
var (
	apiURL      = flag.String("api-url", "http://localhost:8080", "Soundgrab API base URL")
	apiKey      = flag.String("api-key", "", "API key for authenticated requests")
	runs        = flag.Int("runs", 3, "Number of runs per URL")
	concurrency = flag.Int("concurrency", 2, "Concurrent requests per URL")
	endpoint    = flag.String("endpoint", "metadata", "API endpoint to hit: metadata or audio")
	output      = flag.String("output", "benchmark-results.json", "JSON output file path")
)

// Test URLs covering the common extraction paths.
var testURLs = []struct {
	Label string
	URL   string
}{
	{"Video", "https://www.youtube.com/watch?v=jNQXAC9IVRw"},
	{"Short", "https://youtu.be/dQw4w9WgXcQ"},
	{"Podcast", "https://soundcloud.com/forss/flickermood"},
	{"Generic", "https://example.com"},
}

// --- Request / Response types (mirrors models package) ---

type fetchRequest struct {
	URL string `json:"url"`
}

type metadataResponse struct {
	Success     bool         `json:"success"`
	Title       string       `json:"title"`
	Strategy    string       `json:"strategy"`
	CacheStatus string       `json:"cache_status"`
	Attempts    int          `json:"attempts"`
	Error       *errorDetail `json:"error,omitempty"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// --- Benchmark result types ---

type runResult struct {
	Run        int    `json:"run"`
	TotalMs    int64  `json:"total_ms"`
	StatusCode int    `json:"status_code"`
	Strategy   string `json:"strategy,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
	Bytes      int64  `json:"bytes,omitempty"`
	Success    bool   `json:"success"`
	Code       string `json:"code,omitempty"`
	Error      string `json:"error,omitempty"`
}

type urlSummary struct {
	P50Ms       int64          `json:"p50_ms"`
	MaxMs       int64          `json:"max_ms"`
	SuccessRate float64        `json:"success_rate"`
	Codes       map[string]int `json:"codes"`
}

type urlResult struct {
	URL     string      `json:"url"`
	Label   string      `json:"label"`
	Runs    []runResult `json:"runs"`
	Summary urlSummary  `json:"summary"`
}

type benchmarkReport struct {
	Timestamp   string      `json:"timestamp"`
	APIURL      string      `json:"api_url"`
	Endpoint    string      `json:"endpoint"`
	RunsPerURL  int         `json:"runs_per_url"`
	Concurrency int         `json:"concurrency"`
	Results     []urlResult `json:"results"`
}

func main() {
	flag.Parse()

	if *endpoint != "metadata" && *endpoint != "audio" {
		fmt.Fprintf(os.Stderr, "Error: -endpoint must be metadata or audio\n")
		os.Exit(2)
	}

	fmt.Println("=== Soundgrab Benchmark Suite ===")
	fmt.Printf("API URL:     %s\n", *apiURL)
	fmt.Printf("Endpoint:    %s\n", *endpoint)
	fmt.Printf("Runs/URL:    %d (concurrency %d)\n", *runs, *concurrency)
	fmt.Printf("Output:      %s\n", *output)
	fmt.Println()

	if err := checkAPI(*apiURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach API at %s: %v\n", *apiURL, err)
		fmt.Fprintf(os.Stderr, "Make sure Soundgrab is running (e.g. make run)\n")
		os.Exit(1)
	}

	report := benchmarkReport{
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		APIURL:      *apiURL,
		Endpoint:    *endpoint,
		RunsPerURL:  *runs,
		Concurrency: *concurrency,
	}

	client := &http.Client{Timeout: 5 * time.Minute}
	for _, t := range testURLs {
		fmt.Printf("Benchmarking [%s] %s ...\n", t.Label, t.URL)
		ur := urlResult{URL: t.URL, Label: t.Label, Runs: runConcurrent(client, t.URL)}
		for _, rr := range ur.Runs {
			if rr.Success {
				fmt.Printf("  Run %d  OK  %dms  strategy=%s attempts=%d\n", rr.Run, rr.TotalMs, rr.Strategy, rr.Attempts)
			} else {
				fmt.Printf("  Run %d  FAILED  %s %s\n", rr.Run, rr.Code, rr.Error)
			}
		}
		ur.Summary = summarize(ur.Runs)
		report.Results = append(report.Results, ur)
		fmt.Println()
	}

	printTable(report.Results)

	if err := writeJSON(*output, report); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing JSON output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nDetailed results written to %s\n", *output)
}

func checkAPI(baseURL string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(baseURL + "/api/v1/health")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// runConcurrent fires *runs requests for url, at most *concurrency at a time.
func runConcurrent(client *http.Client, url string) []runResult {
	results := make([]runResult, *runs)
	sem := make(chan struct{}, max(*concurrency, 1))
	var wg sync.WaitGroup
	for i := range *runs {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = benchmarkURL(client, url, i+1)
		}()
	}
	wg.Wait()
	return results
}

func benchmarkURL(client *http.Client, url string, run int) runResult {
	rr := runResult{Run: run}

	bodyBytes, err := json.Marshal(fetchRequest{URL: url})
	if err != nil {
		rr.Error = fmt.Sprintf("marshal error: %v", err)
		return rr
	}

	req, err := http.NewRequest(http.MethodPost, *apiURL+"/api/v1/"+*endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		rr.Error = fmt.Sprintf("request error: %v", err)
		return rr
	}
	req.Header.Set("Content-Type", "application/json")
	if *apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+*apiKey)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		rr.Error = fmt.Sprintf("request failed: %v", err)
		rr.TotalMs = time.Since(start).Milliseconds()
		return rr
	}
	defer resp.Body.Close()
	rr.StatusCode = resp.StatusCode

	if *endpoint == "audio" && resp.StatusCode == http.StatusOK {
		var buf bytes.Buffer
		rr.Bytes, err = buf.ReadFrom(resp.Body)
		rr.TotalMs = time.Since(start).Milliseconds()
		if err != nil {
			rr.Error = fmt.Sprintf("read error: %v", err)
			return rr
		}
		rr.Success = true
		rr.Code = "SUCCESS"
		rr.Strategy = resp.Header.Get("X-Strategy")
		fmt.Sscanf(resp.Header.Get("X-Attempts"), "%d", &rr.Attempts)
		return rr
	}

	var mr metadataResponse
	err = json.NewDecoder(resp.Body).Decode(&mr)
	rr.TotalMs = time.Since(start).Milliseconds()
	if err != nil {
		rr.Error = fmt.Sprintf("decode error: %v", err)
		return rr
	}

	rr.Success = mr.Success
	rr.Strategy = mr.Strategy
	rr.Attempts = mr.Attempts
	rr.Code = "SUCCESS"
	if mr.Error != nil {
		rr.Code = mr.Error.Code
		rr.Error = mr.Error.Message
	}
	return rr
}

func summarize(runs []runResult) urlSummary {
	s := urlSummary{Codes: map[string]int{}}
	if len(runs) == 0 {
		return s
	}

	latencies := make([]int64, 0, len(runs))
	var ok int
	for _, r := range runs {
		latencies = append(latencies, r.TotalMs)
		if r.Success {
			ok++
		}
		code := r.Code
		if code == "" {
			code = "TRANSPORT"
		}
		s.Codes[code]++
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	s.P50Ms = latencies[len(latencies)/2]
	s.MaxMs = latencies[len(latencies)-1]
	s.SuccessRate = float64(ok) / float64(len(runs)) * 100
	return s
}

func printTable(results []urlResult) {
	fmt.Println(strings.Repeat("─", 85))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "URL\tp50\tmax\tSuccess\tOutcomes\n")
	fmt.Fprintf(w, "───\t───\t───\t───────\t────────\n")

	for _, r := range results {
		fmt.Fprintf(w, "%s\t%dms\t%dms\t%.0f%%\t%s\n",
			truncateURL(r.URL, 40),
			r.Summary.P50Ms,
			r.Summary.MaxMs,
			r.Summary.SuccessRate,
			formatCodes(r.Summary.Codes),
		)
	}

	w.Flush()
	fmt.Println(strings.Repeat("─", 85))
}

func formatCodes(codes map[string]int) string {
	keys := make([]string, 0, len(codes))
	for k := range codes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, codes[k])
	}
	return strings.Join(parts, " ")
}

func truncateURL(u string, max int) string {
	if len(u) <= max {
		return u
	}
	return u[:max-3] + "..."
}

func writeJSON(path string, report benchmarkReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
