package viewer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/courtside-live/project/internal/contracts"
)

type fakeScoreServer struct {
	matchID string

	sequence    atomic.Uint64
	streamOpens atomic.Int64

	// streamEvents receives snapshots to push on the currently open stream.
	streamEvents chan contracts.ScoreSnapshot
	// closeStream forces the open stream connection to end.
	closeStream chan struct{}
}

func newFakeScoreServer(matchID string, seed uint64) *fakeScoreServer {
	s := &fakeScoreServer{
		matchID:      matchID,
		streamEvents: make(chan contracts.ScoreSnapshot, 16),
		closeStream:  make(chan struct{}),
	}
	s.sequence.Store(seed)
	return s
}

func (s *fakeScoreServer) snapshot() contracts.ScoreSnapshot {
	return contracts.ScoreSnapshot{
		MatchID:  s.matchID,
		Sequence: s.sequence.Load(),
		Status:   contracts.StatusLive,
		BestOf:   3,
	}
}

func (s *fakeScoreServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/matches/"+s.matchID, func(w http.ResponseWriter, _ *http.Request) {
		snap := s.snapshot()
		detail := contracts.MatchDetail{
			MatchSummary: contracts.MatchSummary{MatchID: s.matchID, Status: contracts.StatusLive},
			BestOf:       3,
			Score:        &snap,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(detail)
	})
	mux.HandleFunc("/api/v1/streams/"+s.matchID, func(w http.ResponseWriter, r *http.Request) {
		s.streamOpens.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		flusher.Flush()
		for {
			select {
			case <-r.Context().Done():
				return
			case <-s.closeStream:
				return
			case snap := <-s.streamEvents:
				payload, _ := json.Marshal(snap)
				fmt.Fprintf(w, "event: %s\n", ScoreUpdatedEvent)
				fmt.Fprintf(w, "data: %s\n\n", payload)
				flusher.Flush()
			}
		}
	})
	return mux
}

func testConfig(base string) Config {
	return Config{
		APIBase:        base,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
	}
}

func waitForSequence(t *testing.T, session *Session, want uint64) contracts.ScoreSnapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		snap, _ := session.Snapshot()
		if snap.Sequence >= want {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	snap, stale := session.Snapshot()
	t.Fatalf("timed out waiting for sequence %d; have %d (stale=%v)", want, snap.Sequence, stale)
	return contracts.ScoreSnapshot{}
}

func TestWatch_SeedsFromRestSnapshot(t *testing.T) {
	fake := newFakeScoreServer("m1", 3)
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	session, err := Watch(context.Background(), testConfig(server.URL), "m1")
	if err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}
	defer session.Close()

	snap, stale := session.Snapshot()
	if snap.Sequence != 3 || stale {
		t.Fatalf("unexpected seed state: sequence=%d stale=%v", snap.Sequence, stale)
	}
}

func TestWatch_AppliesStreamedUpdatesInOrder(t *testing.T) {
	fake := newFakeScoreServer("m1", 3)
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	session, err := Watch(context.Background(), testConfig(server.URL), "m1")
	if err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}
	defer session.Close()

	next := fake.snapshot()
	next.Sequence = 4
	next.Points = contracts.Pair{A: 1}
	fake.streamEvents <- next

	snap := waitForSequence(t, session, 4)
	if snap.Points.A != 1 {
		t.Fatalf("streamed snapshot not applied: %+v", snap)
	}

	// An older snapshot must not roll the state back.
	old := fake.snapshot()
	old.Sequence = 2
	old.Points = contracts.Pair{B: 9}
	fake.streamEvents <- old

	later := fake.snapshot()
	later.Sequence = 5
	fake.streamEvents <- later

	snap = waitForSequence(t, session, 5)
	if snap.Points.B == 9 {
		t.Fatalf("stale snapshot was applied: %+v", snap)
	}
}

func TestWatch_ReconnectsAndResyncs(t *testing.T) {
	fake := newFakeScoreServer("m1", 3)
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	var wentStale atomic.Bool
	cfg := testConfig(server.URL)
	cfg.OnStale = func() { wentStale.Store(true) }

	session, err := Watch(context.Background(), cfg, "m1")
	if err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}
	defer session.Close()

	// Drop the stream, then advance the score while the viewer is
	// disconnected. The reconnect re-fetch must pick it up.
	fake.closeStream <- struct{}{}
	fake.sequence.Store(6)

	snap := waitForSequence(t, session, 6)
	if snap.Sequence < 6 {
		t.Fatalf("resync did not catch up: %+v", snap)
	}
	if !wentStale.Load() {
		t.Fatal("stale transition was not reported")
	}
	if fake.streamOpens.Load() < 2 {
		t.Fatalf("expected a reconnect, saw %d stream opens", fake.streamOpens.Load())
	}

	if _, stale := session.Snapshot(); stale {
		t.Fatal("state still marked stale after resync")
	}
}

func TestWatch_RequiresMatch(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	if _, err := Watch(context.Background(), testConfig(server.URL), "missing"); err == nil {
		t.Fatal("expected an error for an unknown match")
	}
	if _, err := Watch(context.Background(), testConfig(server.URL), "  "); err == nil {
		t.Fatal("expected an error for a blank match id")
	}
}

func TestLiveMatchIndex_PollsAndReportsChanges(t *testing.T) {
	var live atomic.Value
	live.Store([]contracts.MatchSummary{{MatchID: "m1", Status: contracts.StatusLive}})

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/matches/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(live.Load())
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	changes := make(chan []contracts.MatchSummary, 8)
	index := NewLiveMatchIndex(testConfig(server.URL), 10*time.Millisecond)
	index.OnChange = func(matches []contracts.MatchSummary) { changes <- matches }

	if err := index.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer index.Close()

	select {
	case matches := <-changes:
		if len(matches) != 1 || matches[0].MatchID != "m1" {
			t.Fatalf("unexpected initial list: %+v", matches)
		}
	case <-time.After(time.Second):
		t.Fatal("initial poll did not report the live list")
	}

	live.Store([]contracts.MatchSummary{
		{MatchID: "m1", Status: contracts.StatusLive},
		{MatchID: "m2", Status: contracts.StatusLive},
	})

	deadline := time.After(3 * time.Second)
	for {
		select {
		case matches := <-changes:
			if len(matches) == 2 {
				if got := index.Matches(); len(got) != 2 {
					t.Fatalf("Matches out of sync with change: %+v", got)
				}
				return
			}
		case <-deadline:
			t.Fatal("new live match never reported")
		}
	}
}
