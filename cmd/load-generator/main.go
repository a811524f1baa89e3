package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/nats-io/nuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/courtside-live/project/internal/app/gateway"
	"github.com/courtside-live/project/internal/app/viewer"
	"github.com/courtside-live/project/internal/contracts"
	"github.com/courtside-live/project/internal/platform/metrics"
)

type config struct {
	ScoreAPIBase    string
	StreamerBase    string
	Matches         int
	ViewersPerMatch int
	PointInterval   time.Duration
	DoubleFaultRate float64
	StartupWait     time.Duration
	RequestTimeout  time.Duration
	MetricsAddr     string
	JWTSecret       string
}

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courtside_loadgen_requests_total",
		Help: "Total HTTP requests sent by the load generator.",
	}, []string{"endpoint", "status", "outcome"})

	pointsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courtside_loadgen_points_total",
		Help: "Point submissions by outcome.",
	}, []string{"outcome"})

	viewerLagGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "courtside_loadgen_viewer_lag_events",
		Help: "Largest observed sequence gap between writer and viewers.",
	})
)

type runner struct {
	cfg       config
	token     string
	apiClient *http.Client

	requestsSuccess atomic.Int64
	requestsError   atomic.Int64
}

func main() {
	cfg := loadConfig()
	if cfg.Matches <= 0 {
		log.Fatal("LOADGEN_MATCHES must be > 0")
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runMetricsServer(cfg.MetricsAddr)

	token, err := gateway.OperatorToken(cfg.JWTSecret, "load-generator", 24*time.Hour)
	if err != nil {
		log.Fatalf("minting operator token: %v", err)
	}

	r := &runner{
		cfg:       cfg,
		token:     token,
		apiClient: &http.Client{Timeout: cfg.RequestTimeout},
	}

	if err := r.waitForDependencies(runCtx); err != nil {
		log.Fatalf("dependency readiness failed: %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan matchResult, cfg.Matches)
	for i := 0; i < cfg.Matches; i++ {
		idx := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- r.runMatch(runCtx, idx)
		}()
	}
	wg.Wait()
	close(results)

	converged, failed := 0, 0
	for result := range results {
		if result.err != nil {
			failed++
			log.Printf("match %s failed: %v", result.matchID, result.err)
			continue
		}
		converged++
		log.Printf("match %s complete: winner=%s writer_seq=%d viewers=%d max_lag=%d",
			result.matchID, result.winner, result.finalSequence, result.viewers, result.maxLag)
	}
	log.Printf("load run complete: converged=%d failed=%d success_requests=%d error_requests=%d",
		converged, failed, r.requestsSuccess.Load(), r.requestsError.Load())
	if failed > 0 {
		os.Exit(1)
	}
}

type matchResult struct {
	matchID       string
	winner        contracts.Side
	finalSequence uint64
	viewers       int
	maxLag        uint64
	err           error
}

// runMatch drives one full match: create it, start it, attach viewers, feed
// random points until completion, then check that every viewer converged on
// the writer's final snapshot.
func (r *runner) runMatch(ctx context.Context, idx int) matchResult {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(idx*31)))

	var created contracts.MatchDetail
	if _, err := r.requestJSON(ctx, "create_match", http.MethodPost, r.cfg.ScoreAPIBase+"/api/v1/matches", gateway.CreateMatchRequest{
		PlayerA:    fmt.Sprintf("Load Player A%d", idx),
		PlayerB:    fmt.Sprintf("Load Player B%d", idx),
		Tournament: "Load Open",
		Round:      "R1",
		BestOf:     3,
	}, &created, http.StatusCreated); err != nil {
		return matchResult{err: fmt.Errorf("create match: %w", err)}
	}
	result := matchResult{matchID: created.MatchID}

	if _, err := r.requestJSON(ctx, "start_match", http.MethodPost,
		r.cfg.ScoreAPIBase+"/api/v1/matches/"+created.MatchID+"/start",
		map[string]string{"server": "A"}, nil, http.StatusOK); err != nil {
		result.err = fmt.Errorf("start match: %w", err)
		return result
	}

	viewerCfg := viewer.Config{
		APIBase:    r.cfg.ScoreAPIBase,
		StreamBase: r.cfg.StreamerBase,
	}
	sessions := make([]*viewer.Session, 0, r.cfg.ViewersPerMatch)
	for v := 0; v < r.cfg.ViewersPerMatch; v++ {
		session, err := viewer.Watch(ctx, viewerCfg, created.MatchID)
		if err != nil {
			result.err = fmt.Errorf("attach viewer: %w", err)
			return result
		}
		defer session.Close()
		sessions = append(sessions, session)
	}
	result.viewers = len(sessions)

	final, err := r.playOut(ctx, created.MatchID, rng)
	if err != nil {
		result.err = err
		return result
	}
	result.winner = final.Winner
	result.finalSequence = final.Sequence

	result.maxLag, result.err = waitForConvergence(ctx, sessions, final.Sequence, 15*time.Second)
	return result
}

func (r *runner) playOut(ctx context.Context, matchID string, rng *rand.Rand) (contracts.ScoreSnapshot, error) {
	ticker := time.NewTicker(r.cfg.PointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return contracts.ScoreSnapshot{}, ctx.Err()
		case <-ticker.C:
		}

		eventType := contracts.EventTypePoint
		if rng.Float64() < r.cfg.DoubleFaultRate {
			eventType = contracts.EventTypeDoubleFault
		}
		side := contracts.SideA
		if rng.Float64() < 0.45 {
			side = contracts.SideB
		}

		var snap contracts.ScoreSnapshot
		status, err := r.requestJSON(ctx, "submit_point", http.MethodPost,
			r.cfg.ScoreAPIBase+"/api/v1/scores/"+matchID+"/point",
			map[string]string{
				"side":            string(side),
				"event_type":      eventType,
				"client_event_id": nuid.Next(),
			}, &snap, http.StatusOK)
		if err != nil {
			if status == http.StatusConflict {
				// Completed under us; fetch the final state.
				return r.fetchFinalSnapshot(ctx, matchID)
			}
			pointsSubmitted.WithLabelValues("error").Inc()
			continue
		}
		pointsSubmitted.WithLabelValues("success").Inc()

		if snap.Status == contracts.StatusCompleted {
			return snap, nil
		}
	}
}

func (r *runner) fetchFinalSnapshot(ctx context.Context, matchID string) (contracts.ScoreSnapshot, error) {
	var detail contracts.MatchDetail
	if _, err := r.requestJSON(ctx, "get_match", http.MethodGet,
		r.cfg.ScoreAPIBase+"/api/v1/matches/"+matchID, nil, &detail, http.StatusOK); err != nil {
		return contracts.ScoreSnapshot{}, err
	}
	if detail.Score == nil {
		return contracts.ScoreSnapshot{}, errors.New("completed match has no score")
	}
	return *detail.Score, nil
}

func waitForConvergence(ctx context.Context, sessions []*viewer.Session, target uint64, timeout time.Duration) (uint64, error) {
	deadline := time.Now().Add(timeout)
	var maxLag uint64
	for {
		maxLag = 0
		allCaughtUp := true
		for _, session := range sessions {
			snap, _ := session.Snapshot()
			if snap.Sequence < target {
				allCaughtUp = false
				if lag := target - snap.Sequence; lag > maxLag {
					maxLag = lag
				}
			}
		}
		viewerLagGauge.Set(float64(maxLag))
		if allCaughtUp {
			return 0, nil
		}
		if time.Now().After(deadline) {
			return maxLag, fmt.Errorf("viewers did not converge: max lag %d events", maxLag)
		}

		select {
		case <-ctx.Done():
			return maxLag, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (r *runner) waitForDependencies(ctx context.Context) error {
	wait := r.cfg.StartupWait
	if wait <= 0 {
		wait = 2 * time.Minute
	}

	if err := r.waitForHTTPStatus(ctx, r.cfg.ScoreAPIBase+"/readyz", http.StatusOK, wait); err != nil {
		return fmt.Errorf("score-api not ready: %w", err)
	}
	if err := r.waitForHTTPStatus(ctx, r.cfg.StreamerBase+"/readyz", http.StatusOK, wait); err != nil {
		return fmt.Errorf("score-streamer not ready: %w", err)
	}
	return nil
}

func (r *runner) waitForHTTPStatus(ctx context.Context, requestURL string, expectedStatus int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			lastErr = err
			time.Sleep(1200 * time.Millisecond)
			continue
		}
		resp, err := r.apiClient.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(1200 * time.Millisecond)
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode == expectedStatus {
			return nil
		}
		lastErr = fmt.Errorf("status=%d", resp.StatusCode)
		time.Sleep(1200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = errors.New("timeout")
	}
	return lastErr
}

func (r *runner) requestJSON(
	ctx context.Context,
	endpoint, method, requestURL string,
	payload any,
	out any,
	expectedStatuses ...int,
) (int, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.apiClient.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(endpoint, "0", "error").Inc()
		r.requestsError.Add(1)
		return 0, err
	}
	defer resp.Body.Close()

	responseBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode), "error").Inc()
		r.requestsError.Add(1)
		return resp.StatusCode, readErr
	}

	statusText := strconv.Itoa(resp.StatusCode)
	if isExpectedStatus(resp.StatusCode, expectedStatuses) {
		requestsTotal.WithLabelValues(endpoint, statusText, "success").Inc()
		r.requestsSuccess.Add(1)
		if out != nil && len(responseBody) > 0 {
			if err := json.Unmarshal(responseBody, out); err != nil {
				return resp.StatusCode, err
			}
		}
		return resp.StatusCode, nil
	}

	requestsTotal.WithLabelValues(endpoint, statusText, "error").Inc()
	r.requestsError.Add(1)
	return resp.StatusCode, fmt.Errorf("unexpected status=%d body=%s", resp.StatusCode, truncate(string(responseBody), 240))
}

func runMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Printf("load generator metrics endpoint listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("load generator metrics server failed: %v", err)
	}
}

func loadConfig() config {
	return config{
		ScoreAPIBase:    trimRightSlash(stringEnv("LOADGEN_SCORE_API_BASE", "http://score-api:8080")),
		StreamerBase:    trimRightSlash(stringEnv("LOADGEN_STREAMER_BASE", "http://score-streamer:8081")),
		Matches:         intEnv("LOADGEN_MATCHES", 10),
		ViewersPerMatch: intEnv("LOADGEN_VIEWERS_PER_MATCH", 5),
		PointInterval:   durationEnv("LOADGEN_POINT_INTERVAL", 50*time.Millisecond),
		DoubleFaultRate: floatEnv("LOADGEN_DOUBLE_FAULT_RATE", 0.05),
		StartupWait:     durationEnv("LOADGEN_STARTUP_WAIT", 2*time.Minute),
		RequestTimeout:  durationEnv("LOADGEN_REQUEST_TIMEOUT", 10*time.Second),
		MetricsAddr:     stringEnv("LOADGEN_METRICS_ADDR", ":9099"),
		JWTSecret:       stringEnv("JWT_SECRET", "dev-insecure-change-me"),
	}
}

func trimRightSlash(v string) string {
	return strings.TrimRight(strings.TrimSpace(v), "/")
}

func isExpectedStatus(status int, expected []int) bool {
	for _, candidate := range expected {
		if status == candidate {
			return true
		}
	}
	return false
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max] + "..."
}

func stringEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func intEnv(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func floatEnv(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
