package viewer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/courtside-live/project/internal/contracts"
)

// DefaultPollInterval is how often the live match list is refreshed.
const DefaultPollInterval = 10 * time.Second

// LiveMatchIndex keeps a polled copy of the currently live matches. It is the
// discovery mechanism: viewers learn here which matches exist, then open a
// Session per match they care about.
type LiveMatchIndex struct {
	cfg      Config
	interval time.Duration

	// OnChange fires when the set of live match IDs differs from the
	// previous poll.
	OnChange func([]contracts.MatchSummary)

	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	matches []contracts.MatchSummary
	lastIDs string
}

func NewLiveMatchIndex(cfg Config, interval time.Duration) *LiveMatchIndex {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &LiveMatchIndex{
		cfg:      cfg.withDefaults(),
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start polls once synchronously, then keeps refreshing in the background
// until the context ends or Close is called.
func (i *LiveMatchIndex) Start(ctx context.Context) error {
	if err := i.poll(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	i.cancel = cancel
	go func() {
		defer close(i.done)
		ticker := time.NewTicker(i.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				// Poll failures keep the previous list; the next tick retries.
				_ = i.poll(runCtx)
			}
		}
	}()
	return nil
}

func (i *LiveMatchIndex) Close() {
	if i.cancel == nil {
		return
	}
	i.cancel()
	<-i.done
}

// Matches returns the live list from the most recent successful poll.
func (i *LiveMatchIndex) Matches() []contracts.MatchSummary {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]contracts.MatchSummary(nil), i.matches...)
}

func (i *LiveMatchIndex) poll(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.cfg.APIBase+"/api/v1/matches/live", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := i.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("unexpected live list status: %d", resp.StatusCode)
	}

	var matches []contracts.MatchSummary
	if err := json.NewDecoder(resp.Body).Decode(&matches); err != nil {
		return err
	}

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.MatchID)
	}
	sort.Strings(ids)
	key := strings.Join(ids, ",")

	i.mu.Lock()
	i.matches = matches
	changed := key != i.lastIDs
	i.lastIDs = key
	onChange := i.OnChange
	i.mu.Unlock()

	if changed && onChange != nil {
		onChange(append([]contracts.MatchSummary(nil), matches...))
	}
	return nil
}
