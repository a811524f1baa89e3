package sink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/courtside-live/project/internal/contracts"
)

type fakeRepository struct {
	events     []contracts.ScoreEvent
	streamSeqs []uint64
	err        error
}

func (f *fakeRepository) InsertEvent(_ context.Context, event contracts.ScoreEvent, streamSeq uint64) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	f.streamSeqs = append(f.streamSeqs, streamSeq)
	return nil
}

func TestHandle_PersistsEvent(t *testing.T) {
	repo := &fakeRepository{}
	svc := NewService(repo)

	event := contracts.ScoreEvent{
		EventID:  "evt-1",
		MatchID:  "m1",
		Side:     contracts.SideA,
		Sequence: 7,
		Snapshot: contracts.ScoreSnapshot{
			MatchID:  "m1",
			Sequence: 7,
			Points:   contracts.Pair{A: 3},
			Status:   contracts.StatusLive,
		},
		OccurredAt: time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC),
	}
	payload, _ := json.Marshal(event)

	if err := svc.Handle(context.Background(), payload, 42); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if len(repo.events) != 1 || repo.events[0].EventID != "evt-1" || repo.streamSeqs[0] != 42 {
		t.Fatalf("unexpected repository state: %+v seqs=%v", repo.events, repo.streamSeqs)
	}
	if repo.events[0].Snapshot.Points.A != 3 {
		t.Fatalf("snapshot not carried through: %+v", repo.events[0].Snapshot)
	}
}

func TestHandle_InvalidPayload(t *testing.T) {
	svc := NewService(&fakeRepository{})
	if err := svc.Handle(context.Background(), []byte("{not json"), 1); !errors.Is(err, ErrInvalidEventPayload) {
		t.Fatalf("expected ErrInvalidEventPayload, got %v", err)
	}
}

func TestHandle_MissingIdentifiers(t *testing.T) {
	svc := NewService(&fakeRepository{})
	payload, _ := json.Marshal(contracts.ScoreEvent{Sequence: 1})
	if err := svc.Handle(context.Background(), payload, 1); !errors.Is(err, ErrInvalidEventPayload) {
		t.Fatalf("expected ErrInvalidEventPayload, got %v", err)
	}
}

func TestHandle_RepositoryErrorPropagates(t *testing.T) {
	wantErr := errors.New("insert failed")
	svc := NewService(&fakeRepository{err: wantErr})
	payload, _ := json.Marshal(contracts.ScoreEvent{EventID: "evt-1", MatchID: "m1"})
	if err := svc.Handle(context.Background(), payload, 1); !errors.Is(err, wantErr) {
		t.Fatalf("expected repository error, got %v", err)
	}
}
