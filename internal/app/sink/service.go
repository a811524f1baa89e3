// Package sink archives every broadcast score event into the durable history
// table. Delivery is at-least-once; inserts are idempotent on event ID.
package sink

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/courtside-live/project/internal/contracts"
)

var ErrInvalidEventPayload = errors.New("invalid event payload")

type Repository interface {
	InsertEvent(ctx context.Context, event contracts.ScoreEvent, streamSeq uint64) error
}

type Service struct {
	Repository Repository
}

func NewService(repository Repository) *Service {
	return &Service{Repository: repository}
}

func (s *Service) Handle(ctx context.Context, payload []byte, streamSeq uint64) error {
	var event contracts.ScoreEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return ErrInvalidEventPayload
	}
	if event.EventID == "" || event.MatchID == "" {
		return ErrInvalidEventPayload
	}
	return s.Repository.InsertEvent(ctx, event, streamSeq)
}
