// Package gateway is the single writer for match scores. Submissions for one
// match are strictly serialized, de-duplicated by client event ID, and either
// fully persisted and broadcast or fully rolled back.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nuid"

	"github.com/courtside-live/project/internal/app/engine"
	"github.com/courtside-live/project/internal/contracts"
	"github.com/courtside-live/project/internal/platform/metrics"
	"github.com/courtside-live/project/internal/sharding"
)

var ErrMatchIDRequired = errors.New("match_id is required")
var ErrPlayersRequired = errors.New("both player names are required")
var ErrMatchNotFound = errors.New("match not found")
var ErrMatchNotLive = errors.New("match is not live")
var ErrPersistence = errors.New("score persistence failed")

type PublishFunc func(subject string, payload []byte) error

// Store is the transactional persistence boundary of the writer. ApplyEvent
// runs the given publish callback inside the transaction: the event is
// committed only when both the writes and the publish succeed. It reports
// applied=false without error when the client event ID was already recorded.
type Store interface {
	GetMatch(ctx context.Context, matchID string) (contracts.MatchDetail, error)
	CreateMatch(ctx context.Context, detail contracts.MatchDetail) error
	StartMatch(ctx context.Context, matchID string, snapshot contracts.ScoreSnapshot) error
	ApplyEvent(ctx context.Context, event contracts.ScoreEvent, publish func() error) (bool, error)
	GetAppliedResult(ctx context.Context, matchID, clientEventID string) (contracts.ScoreSnapshot, bool, error)
}

type Service struct {
	Store   Store
	Publish PublishFunc
	Now     func() time.Time
	NewID   func() string

	locks matchLocks
	seen  *resultCache
}

func NewService(store Store, publish PublishFunc) *Service {
	return &Service{
		Store:   store,
		Publish: publish,
		Now:     func() time.Time { return time.Now().UTC() },
		NewID:   nuid.Next,
		seen:    newResultCache(4096),
	}
}

type CreateMatchRequest struct {
	PlayerA     string    `json:"player_a"`
	PlayerB     string    `json:"player_b"`
	Tournament  string    `json:"tournament"`
	Round       string    `json:"round"`
	BestOf      int       `json:"best_of"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// CreateMatch records a new upcoming match.
func (s *Service) CreateMatch(ctx context.Context, req CreateMatchRequest) (contracts.MatchDetail, error) {
	playerA := strings.TrimSpace(req.PlayerA)
	playerB := strings.TrimSpace(req.PlayerB)
	if playerA == "" || playerB == "" {
		return contracts.MatchDetail{}, ErrPlayersRequired
	}
	bestOf := req.BestOf
	if bestOf != 3 && bestOf != 5 {
		bestOf = engine.DefaultBestOf
	}
	scheduledAt := req.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = s.Now()
	}

	detail := contracts.MatchDetail{
		MatchSummary: contracts.MatchSummary{
			MatchID:    s.NewID(),
			PlayerA:    playerA,
			PlayerB:    playerB,
			Tournament: strings.TrimSpace(req.Tournament),
			Round:      strings.TrimSpace(req.Round),
			Status:     contracts.StatusUpcoming,
		},
		BestOf:      bestOf,
		ScheduledAt: scheduledAt,
	}
	if err := s.Store.CreateMatch(ctx, detail); err != nil {
		return contracts.MatchDetail{}, err
	}
	return detail, nil
}

// StartMatch transitions an upcoming match to live and seeds its zero score.
// Starting an already-live match returns the current snapshot unchanged.
func (s *Service) StartMatch(ctx context.Context, matchID string, server contracts.Side) (contracts.ScoreSnapshot, error) {
	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		return contracts.ScoreSnapshot{}, ErrMatchIDRequired
	}

	unlock := s.locks.lock(matchID)
	defer unlock()

	detail, err := s.Store.GetMatch(ctx, matchID)
	if err != nil {
		return contracts.ScoreSnapshot{}, err
	}
	switch detail.Status {
	case contracts.StatusCompleted:
		return contracts.ScoreSnapshot{}, engine.ErrMatchCompleted
	case contracts.StatusLive:
		if detail.Score != nil {
			return *detail.Score, nil
		}
	}

	snapshot := engine.NewSnapshot(matchID, detail.BestOf, server)
	snapshot.UpdatedAt = s.Now()
	if err := s.Store.StartMatch(ctx, matchID, snapshot); err != nil {
		return contracts.ScoreSnapshot{}, err
	}
	return snapshot, nil
}

// Submit applies one point event and returns the updated snapshot. Replays of
// a client event ID return the previously computed snapshot without
// reapplying.
func (s *Service) Submit(ctx context.Context, matchID string, req contracts.PointEvent) (contracts.ScoreSnapshot, error) {
	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		return contracts.ScoreSnapshot{}, ErrMatchIDRequired
	}
	clientEventID := strings.TrimSpace(req.ClientEventID)
	if clientEventID == "" {
		clientEventID = s.NewID()
	}

	started := s.Now()
	unlock := s.locks.lock(matchID)
	defer unlock()

	if prior, ok := s.seen.get(matchID, clientEventID); ok {
		metrics.DuplicateEvents.Inc()
		return prior, nil
	}

	detail, err := s.Store.GetMatch(ctx, matchID)
	if err != nil {
		return contracts.ScoreSnapshot{}, err
	}
	if detail.Status != contracts.StatusLive {
		metrics.RejectedTransitions.WithLabelValues("not_live").Inc()
		return contracts.ScoreSnapshot{}, ErrMatchNotLive
	}
	current := engine.NewSnapshot(matchID, detail.BestOf, "")
	if detail.Score != nil {
		current = *detail.Score
	}

	ev := req
	ev.MatchID = matchID
	ev.ClientEventID = clientEventID
	next, err := engine.Apply(current, ev)
	if err != nil {
		metrics.RejectedTransitions.WithLabelValues(rejectionReason(err)).Inc()
		return contracts.ScoreSnapshot{}, err
	}
	next.UpdatedAt = s.Now()

	event := contracts.ScoreEvent{
		EventID:       s.NewID(),
		MatchID:       matchID,
		ClientEventID: clientEventID,
		Side:          ev.Side,
		EventType:     ev.EventType,
		Sequence:      next.Sequence,
		Snapshot:      next,
		ShardID:       sharding.GetShardID(matchID),
		OccurredAt:    next.UpdatedAt,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return contracts.ScoreSnapshot{}, err
	}

	var publishErr error
	applied, err := s.Store.ApplyEvent(ctx, event, func() error {
		publishErr = s.Publish(sharding.ScoreSubject(matchID), payload)
		return publishErr
	})
	if err != nil {
		if publishErr != nil {
			metrics.PublishFailures.Inc()
		}
		return contracts.ScoreSnapshot{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !applied {
		// The client event ID was recorded by an earlier process lifetime.
		prior, ok, err := s.Store.GetAppliedResult(ctx, matchID, clientEventID)
		if err != nil {
			return contracts.ScoreSnapshot{}, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		if ok {
			s.seen.put(matchID, clientEventID, prior)
			metrics.DuplicateEvents.Inc()
			return prior, nil
		}
		return current, nil
	}

	s.seen.put(matchID, clientEventID, next)
	metrics.PointsApplied.Inc()
	metrics.SubmitDuration.Observe(s.Now().Sub(started).Seconds())
	return next, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, engine.ErrMatchCompleted):
		return "completed"
	case errors.Is(err, engine.ErrUnknownSide):
		return "unknown_side"
	case errors.Is(err, engine.ErrUnsupportedEventType):
		return "unsupported_event_type"
	default:
		return "other"
	}
}
