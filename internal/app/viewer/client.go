// Package viewer is the consuming side of the score pipeline: it seeds from a
// REST snapshot, follows a match over SSE, and resynchronizes after
// disconnects. It is used by the load generator and by embedding clients.
package viewer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/courtside-live/project/internal/contracts"
)

// ScoreUpdatedEvent is the SSE event name carrying a full score snapshot.
const ScoreUpdatedEvent = "scoreUpdated"

const (
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 15 * time.Second
)

// Config points the viewer at the score services. StreamBase may equal
// APIBase when both are served by one process.
type Config struct {
	APIBase    string
	StreamBase string
	HTTPClient *http.Client

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// OnUpdate fires for every applied snapshot, including resync re-fetches.
	// OnStale fires when the stream drops and the local state may lag.
	OnUpdate func(contracts.ScoreSnapshot)
	OnStale  func()
}

func (c Config) withDefaults() Config {
	c.APIBase = strings.TrimRight(strings.TrimSpace(c.APIBase), "/")
	c.StreamBase = strings.TrimRight(strings.TrimSpace(c.StreamBase), "/")
	if c.StreamBase == "" {
		c.StreamBase = c.APIBase
	}
	if c.HTTPClient == nil {
		// No overall timeout: the same client carries long-lived SSE streams.
		c.HTTPClient = &http.Client{}
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaultInitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = defaultMaxBackoff
	}
	return c
}

// Session is one live view of a match. Snapshot never goes backwards: events
// older than the local sequence are dropped.
type Session struct {
	matchID string
	cfg     Config

	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	snapshot  contracts.ScoreSnapshot
	haveState bool
	stale     bool
}

// Watch seeds the session from the REST snapshot and starts following the
// match. It fails when the initial fetch fails; stream errors after that are
// handled by reconnecting internally.
func Watch(ctx context.Context, cfg Config, matchID string) (*Session, error) {
	cfg = cfg.withDefaults()
	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		return nil, fmt.Errorf("match id is required")
	}

	s := &Session{
		matchID: matchID,
		cfg:     cfg,
		done:    make(chan struct{}),
	}
	if err := s.refresh(ctx); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(runCtx)
	return s, nil
}

// Snapshot returns the latest known state and whether it may be stale.
func (s *Session) Snapshot() (contracts.ScoreSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot, s.stale
}

func (s *Session) Close() {
	s.cancel()
	<-s.done
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	backoff := s.cfg.InitialBackoff
	for {
		_ = s.consumeStream(ctx)
		if ctx.Err() != nil {
			return
		}
		s.markStale()

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.cfg.MaxBackoff {
			backoff = s.cfg.MaxBackoff
		}
		if s.refreshQuiet(ctx) {
			backoff = s.cfg.InitialBackoff
		}
	}
}

// consumeStream holds one SSE connection open. Right after connecting it
// re-fetches the full snapshot so nothing published during the gap is lost.
func (s *Session) consumeStream(ctx context.Context) error {
	streamURL := s.cfg.StreamBase + "/api/v1/streams/" + s.matchID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("unexpected stream status: %d", resp.StatusCode)
	}

	_ = s.refreshQuiet(ctx)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	eventName := ""
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if eventName == ScoreUpdatedEvent && data.Len() > 0 {
				var snap contracts.ScoreSnapshot
				if err := json.Unmarshal([]byte(data.String()), &snap); err == nil {
					s.apply(snap)
				}
			}
			eventName = ""
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case strings.HasPrefix(line, ":"):
			// heartbeat comment
		}
	}
	return scanner.Err()
}

// refresh replaces local state with the REST snapshot and clears staleness.
func (s *Session) refresh(ctx context.Context) error {
	detail, err := s.fetchDetail(ctx)
	if err != nil {
		return err
	}
	if detail.Score == nil {
		s.mu.Lock()
		s.stale = false
		s.mu.Unlock()
		return nil
	}
	s.apply(*detail.Score)
	s.mu.Lock()
	s.stale = false
	s.mu.Unlock()
	return nil
}

func (s *Session) refreshQuiet(ctx context.Context) bool {
	return s.refresh(ctx) == nil
}

func (s *Session) fetchDetail(ctx context.Context) (contracts.MatchDetail, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.APIBase+"/api/v1/matches/"+s.matchID, nil)
	if err != nil {
		return contracts.MatchDetail{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return contracts.MatchDetail{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return contracts.MatchDetail{}, fmt.Errorf("unexpected match status: %d", resp.StatusCode)
	}

	var detail contracts.MatchDetail
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		return contracts.MatchDetail{}, err
	}
	return detail, nil
}

func (s *Session) apply(snap contracts.ScoreSnapshot) {
	s.mu.Lock()
	if s.haveState && snap.Sequence <= s.snapshot.Sequence {
		s.mu.Unlock()
		return
	}
	s.snapshot = snap
	s.haveState = true
	s.stale = false
	onUpdate := s.cfg.OnUpdate
	s.mu.Unlock()

	if onUpdate != nil {
		onUpdate(snap)
	}
}

func (s *Session) markStale() {
	s.mu.Lock()
	wasStale := s.stale
	s.stale = true
	onStale := s.cfg.OnStale
	s.mu.Unlock()

	if !wasStale && onStale != nil {
		onStale()
	}
}
