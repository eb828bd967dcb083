// Package loadtest drives search traffic against a running server so the
// fan-out, rate limits and dashboards can be checked under load.
package loadtest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/Togather-Foundation/retriever/internal/testauth"
)

// LoadProfile names a predefined scenario.
type LoadProfile string

const (
	ProfileLight  LoadProfile = "light"  // 2 req/s, 1 minute
	ProfileMedium LoadProfile = "medium" // 10 req/s, 2 minutes
	ProfileHeavy  LoadProfile = "heavy"  // 25 req/s, 5 minutes
	ProfileStress LoadProfile = "stress" // 50 req/s, 10 minutes
)

// ProfileConfig defines the parameters for a load test.
type ProfileConfig struct {
	RequestsPerSecond int
	Duration          time.Duration
	RampUpTime        time.Duration
	RampDownTime      time.Duration
	// SearchRatio is the share of requests that run a search; the rest read
	// history, health and metrics.
	SearchRatio float64
	// ExportRatio is the share of searches sent to the export endpoint.
	ExportRatio float64
}

// LoadProfiles contains the predefined scenarios. Search rates stay well
// below the read endpoints because every search fans out to all sources.
var LoadProfiles = map[LoadProfile]ProfileConfig{
	ProfileLight: {
		RequestsPerSecond: 2,
		Duration:          1 * time.Minute,
		RampUpTime:        10 * time.Second,
		RampDownTime:      10 * time.Second,
		SearchRatio:       0.7,
		ExportRatio:       0.05,
	},
	ProfileMedium: {
		RequestsPerSecond: 10,
		Duration:          2 * time.Minute,
		RampUpTime:        20 * time.Second,
		RampDownTime:      20 * time.Second,
		SearchRatio:       0.6,
		ExportRatio:       0.05,
	},
	ProfileHeavy: {
		RequestsPerSecond: 25,
		Duration:          5 * time.Minute,
		RampUpTime:        30 * time.Second,
		RampDownTime:      30 * time.Second,
		SearchRatio:       0.5,
		ExportRatio:       0.1,
	},
	ProfileStress: {
		RequestsPerSecond: 50,
		Duration:          10 * time.Minute,
		RampUpTime:        1 * time.Minute,
		RampDownTime:      1 * time.Minute,
		SearchRatio:       0.5,
		ExportRatio:       0.1,
	},
}

// DefaultIdentifiers are used when no identifiers are configured.
var DefaultIdentifiers = []string{
	"Jane Doe",
	"john.smith@example.com",
	"Maria Garcia",
	"+1 555 0100",
	"Wei Zhang",
}

// LoadTester orchestrates load testing operations.
type LoadTester struct {
	baseURL       string
	httpClient    *http.Client
	authenticator *testauth.Authenticator
	identifiers   []string
	sources       []string
	stats         *Statistics
	out           io.Writer

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewLoadTester creates a load tester targeting baseURL. Requests carry an
// admin API token signed with JWT_SECRET (or the development secret) until
// WithAuth replaces it.
func NewLoadTester(baseURL string) *LoadTester {
	authenticator, err := testauth.New(testauth.Config{})
	if err != nil {
		authenticator = nil
	}
	return &LoadTester{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    &http.Client{Timeout: 60 * time.Second},
		authenticator: authenticator,
		identifiers:   DefaultIdentifiers,
		stats:         newStatistics(),
		out:           io.Discard,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithAuth sets the authenticator; nil sends unauthenticated requests.
func (lt *LoadTester) WithAuth(a *testauth.Authenticator) *LoadTester {
	lt.authenticator = a
	return lt
}

// WithIdentifiers sets the identifiers searched for, chosen at random.
func (lt *LoadTester) WithIdentifiers(ids []string) *LoadTester {
	if len(ids) > 0 {
		lt.identifiers = ids
	}
	return lt
}

// WithSources limits every search to the named sources.
func (lt *LoadTester) WithSources(names []string) *LoadTester {
	lt.sources = names
	return lt
}

// WithProgress writes the run banner to w.
func (lt *LoadTester) WithProgress(w io.Writer) *LoadTester {
	lt.out = w
	return lt
}

// WithSeed makes the request mix reproducible.
func (lt *LoadTester) WithSeed(seed int64) *LoadTester {
	lt.rng = rand.New(rand.NewSource(seed))
	return lt
}

// Run executes a load test with the specified profile.
func (lt *LoadTester) Run(ctx context.Context, profile LoadProfile) (*Statistics, error) {
	config, exists := LoadProfiles[profile]
	if !exists {
		return nil, fmt.Errorf("unknown profile: %s", profile)
	}
	return lt.RunCustom(ctx, config)
}

// RunCustom executes a load test with a custom configuration.
func (lt *LoadTester) RunCustom(ctx context.Context, config ProfileConfig) (*Statistics, error) {
	if config.RequestsPerSecond <= 0 {
		return nil, fmt.Errorf("requests per second must be positive")
	}
	if config.Duration <= 0 {
		return nil, fmt.Errorf("duration must be positive")
	}
	if config.SearchRatio < 0 || config.SearchRatio > 1 || config.ExportRatio < 0 || config.ExportRatio > 1 {
		return nil, fmt.Errorf("ratios must be between 0 and 1")
	}

	lt.stats = newStatistics()

	fmt.Fprintf(lt.out, "Starting load test...\n")
	fmt.Fprintf(lt.out, "  Target: %s\n", lt.baseURL)
	fmt.Fprintf(lt.out, "  RPS: %d\n", config.RequestsPerSecond)
	fmt.Fprintf(lt.out, "  Duration: %s\n", config.Duration)
	fmt.Fprintf(lt.out, "  Ramp-up: %s, Ramp-down: %s\n", config.RampUpTime, config.RampDownTime)
	fmt.Fprintf(lt.out, "  Search share: %.0f%% (exports %.0f%% of searches)\n\n", config.SearchRatio*100, config.ExportRatio*100)

	workers := config.RequestsPerSecond * 2
	if workers < 4 {
		workers = 4
	}

	workChan := make(chan workItem, workers*2)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lt.worker(ctx, workChan)
		}()
	}

	go func() {
		defer close(workChan)
		lt.generateWork(ctx, config, workChan)
	}()

	wg.Wait()
	lt.stats.endTime = time.Now()
	return lt.stats, nil
}

type workItem struct {
	method   string
	path     string
	body     any
	endpoint string
}

type searchBody struct {
	Identifier string   `json:"identifier"`
	Sources    []string `json:"sources,omitempty"`
	Format     string   `json:"format,omitempty"`
}

func (lt *LoadTester) generateWork(ctx context.Context, config ProfileConfig, workChan chan<- workItem) {
	startTime := time.Now()

	currentRPS := 1
	if config.RampUpTime == 0 {
		currentRPS = config.RequestsPerSecond
	}
	ticker := time.NewTicker(time.Second / time.Duration(currentRPS))
	defer ticker.Stop()
	lastRPS := currentRPS

	totalDuration := config.RampUpTime + config.Duration + config.RampDownTime
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			elapsed := time.Since(startTime)
			if elapsed > totalDuration {
				return
			}

			currentRPS = calculateCurrentRPS(elapsed, config)
			if currentRPS != lastRPS {
				ticker.Reset(time.Second / time.Duration(currentRPS))
				lastRPS = currentRPS
			}

			select {
			case workChan <- lt.nextItem(config):
			case <-ctx.Done():
				return
			}
		}
	}
}

func calculateCurrentRPS(elapsed time.Duration, config ProfileConfig) int {
	targetRPS := config.RequestsPerSecond

	if elapsed < config.RampUpTime {
		progress := float64(elapsed) / float64(config.RampUpTime)
		return max(int(float64(targetRPS)*progress), 1)
	}

	steadyEnd := config.RampUpTime + config.Duration
	if elapsed < steadyEnd {
		return targetRPS
	}

	rampDown := elapsed - steadyEnd
	if rampDown < config.RampDownTime {
		progress := float64(rampDown) / float64(config.RampDownTime)
		return max(int(float64(targetRPS)*(1.0-progress)), 1)
	}
	return 1
}

func (lt *LoadTester) nextItem(config ProfileConfig) workItem {
	lt.rngMu.Lock()
	defer lt.rngMu.Unlock()

	if lt.rng.Float64() >= config.SearchRatio {
		reads := []workItem{
			{method: http.MethodGet, path: "/api/v1/history/searches?limit=20", endpoint: "history"},
			{method: http.MethodGet, path: "/readyz", endpoint: "readyz"},
			{method: http.MethodGet, path: "/metrics", endpoint: "metrics"},
		}
		return reads[lt.rng.Intn(len(reads))]
	}

	body := searchBody{
		Identifier: lt.identifiers[lt.rng.Intn(len(lt.identifiers))],
		Sources:    lt.sources,
	}
	if lt.rng.Float64() < config.ExportRatio {
		body.Format = "csv"
		return workItem{method: http.MethodPost, path: "/api/v1/search/export", body: body, endpoint: "export"}
	}
	return workItem{method: http.MethodPost, path: "/api/v1/search", body: body, endpoint: "search"}
}

func (lt *LoadTester) worker(ctx context.Context, workChan <-chan workItem) {
	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-workChan:
			if !ok {
				return
			}
			lt.executeRequest(ctx, work)
		}
	}
}

func (lt *LoadTester) executeRequest(ctx context.Context, work workItem) {
	atomic.AddInt64(&lt.stats.totalRequests, 1)
	start := time.Now()

	var reqBody io.Reader
	if work.body != nil {
		data, err := json.Marshal(work.body)
		if err != nil {
			lt.stats.recordError(work.endpoint)
			return
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, work.method, lt.baseURL+work.path, reqBody)
	if err != nil {
		lt.stats.recordError(work.endpoint)
		return
	}
	if work.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	lt.authenticator.AddAuth(req)

	resp, err := lt.httpClient.Do(req)
	if err != nil {
		lt.stats.recordError(work.endpoint)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain so the timing covers the whole response.
	_, _ = io.Copy(io.Discard, resp.Body)
	lt.stats.recordResponse(resp.StatusCode, time.Since(start).Milliseconds(), work.endpoint)
}

// Statistics tracks load test results.
type Statistics struct {
	mu sync.Mutex

	totalRequests   int64
	successRequests int64
	failedRequests  int64

	responseTimes []int64
	// errors counts failures by status code; 0 means transport error.
	errors        map[int]int64
	endpointStats map[string]*EndpointStats

	startTime time.Time
	endTime   time.Time
}

// EndpointStats tracks statistics for one endpoint.
type EndpointStats struct {
	count   int64
	total   int64
	times   []int64
	errors  int64
	minTime int64
	maxTime int64
}

func newStatistics() *Statistics {
	return &Statistics{
		errors:        make(map[int]int64),
		endpointStats: make(map[string]*EndpointStats),
		startTime:     time.Now(),
	}
}

func (s *Statistics) recordResponse(statusCode int, durationMs int64, endpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.responseTimes = append(s.responseTimes, durationMs)
	ok := statusCode >= 200 && statusCode < 300
	if ok {
		s.successRequests++
	} else {
		s.failedRequests++
		s.errors[statusCode]++
	}

	ep := s.endpointStats[endpoint]
	if ep == nil {
		ep = &EndpointStats{minTime: durationMs, maxTime: durationMs}
		s.endpointStats[endpoint] = ep
	}
	ep.count++
	ep.total += durationMs
	ep.times = append(ep.times, durationMs)
	ep.minTime = min(ep.minTime, durationMs)
	ep.maxTime = max(ep.maxTime, durationMs)
	if !ok {
		ep.errors++
	}
}

func (s *Statistics) recordError(endpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failedRequests++
	s.errors[0]++
	if s.endpointStats[endpoint] == nil {
		s.endpointStats[endpoint] = &EndpointStats{}
	}
	s.endpointStats[endpoint].errors++
}

// Total returns the number of requests attempted.
func (s *Statistics) Total() int64 {
	return atomic.LoadInt64(&s.totalRequests)
}

// Failed returns the number of failed requests.
func (s *Statistics) Failed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failedRequests
}

// EndpointCount returns how many responses were recorded for endpoint.
func (s *Statistics) EndpointCount(endpoint string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ep := s.endpointStats[endpoint]; ep != nil {
		return ep.count
	}
	return 0
}

// Report renders a summary of the run.
func (s *Statistics) Report() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	duration := s.endTime.Sub(s.startTime)
	total := atomic.LoadInt64(&s.totalRequests)

	var report bytes.Buffer
	report.WriteString("\nLOAD TEST RESULTS\n\n")
	fmt.Fprintf(&report, "Duration:        %s\n", duration.Round(time.Second))
	fmt.Fprintf(&report, "Total Requests:  %d\n", total)
	if total > 0 {
		fmt.Fprintf(&report, "Successful:      %d (%.1f%%)\n", s.successRequests, percent(s.successRequests, total))
		fmt.Fprintf(&report, "Failed:          %d (%.1f%%)\n", s.failedRequests, percent(s.failedRequests, total))
	}
	if duration > 0 {
		fmt.Fprintf(&report, "Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}
	report.WriteString("\n")

	if len(s.responseTimes) > 0 {
		fmt.Fprintf(&report, "Response Times (ms):\n")
		fmt.Fprintf(&report, "  Average:  %d\n", average(s.responseTimes))
		fmt.Fprintf(&report, "  p50:      %d\n", calculatePercentile(s.responseTimes, 0.50))
		fmt.Fprintf(&report, "  p95:      %d\n", calculatePercentile(s.responseTimes, 0.95))
		fmt.Fprintf(&report, "  p99:      %d\n\n", calculatePercentile(s.responseTimes, 0.99))
	}

	if len(s.errors) > 0 {
		codes := make([]int, 0, len(s.errors))
		for code := range s.errors {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		report.WriteString("Errors by Status Code:\n")
		for _, code := range codes {
			label := fmt.Sprint(code)
			if code == 0 {
				label = "transport"
			}
			fmt.Fprintf(&report, "  %s: %d\n", label, s.errors[code])
		}
		report.WriteString("\n")
	}

	if len(s.endpointStats) > 0 {
		names := make([]string, 0, len(s.endpointStats))
		for name := range s.endpointStats {
			names = append(names, name)
		}
		sort.Strings(names)

		tw := tabwriter.NewWriter(&report, 0, 0, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(tw, "Endpoint\tCount\tErrors\tAvg(ms)\tp95(ms)\tMin\tMax\t")
		for _, name := range names {
			ep := s.endpointStats[name]
			var avg int64
			if ep.count > 0 {
				avg = ep.total / ep.count
			}
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t\n",
				name, ep.count, ep.errors, avg, calculatePercentile(ep.times, 0.95), ep.minTime, ep.maxTime)
		}
		_ = tw.Flush()
	}
	return report.String()
}

func percent(n, total int64) float64 {
	return float64(n) / float64(total) * 100
}

func average(times []int64) int64 {
	if len(times) == 0 {
		return 0
	}
	var sum int64
	for _, t := range times {
		sum += t
	}
	return sum / int64(len(times))
}

func calculatePercentile(times []int64, percentile float64) int64 {
	if len(times) == 0 {
		return 0
	}
	sorted := make([]int64, len(times))
	copy(sorted, times)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	index := int(float64(len(sorted)) * percentile)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
