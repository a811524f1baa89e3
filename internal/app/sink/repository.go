package sink

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/courtside-live/project/internal/contracts"
)

const createScoreEventsTableSQL = `
CREATE TABLE IF NOT EXISTS score_events (
  event_id text PRIMARY KEY,
  match_id text NOT NULL,
  client_event_id text NOT NULL DEFAULT '',
  side text NOT NULL DEFAULT '',
  event_type text NOT NULL DEFAULT '',
  sequence bigint NOT NULL,
  snapshot jsonb NOT NULL,
  shard_id integer NOT NULL,
  stream_seq bigint NOT NULL DEFAULT 0,
  occurred_at timestamptz NOT NULL,
  inserted_at timestamptz NOT NULL DEFAULT now()
)`

const createScoreEventsMatchIndexSQL = `
CREATE INDEX IF NOT EXISTS score_events_match_seq
ON score_events (match_id, sequence)`

const insertScoreEventSQL = `
INSERT INTO score_events (
  event_id, match_id, client_event_id, side, event_type,
  sequence, snapshot, shard_id, stream_seq, occurred_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (event_id) DO NOTHING
`

type EventRepository struct {
	Pool *pgxpool.Pool
}

func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{Pool: pool}
}

func (r *EventRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, createScoreEventsTableSQL); err != nil {
		return err
	}
	if _, err := r.Pool.Exec(ctx, createScoreEventsMatchIndexSQL); err != nil {
		return err
	}
	return nil
}

func (r *EventRepository) InsertEvent(ctx context.Context, event contracts.ScoreEvent, streamSeq uint64) error {
	rawSnapshot, err := json.Marshal(event.Snapshot)
	if err != nil {
		return err
	}
	_, err = r.Pool.Exec(ctx, insertScoreEventSQL,
		event.EventID,
		event.MatchID,
		event.ClientEventID,
		string(event.Side),
		event.EventType,
		int64(event.Sequence),
		rawSnapshot,
		event.ShardID,
		int64(streamSeq),
		event.OccurredAt,
	)
	return err
}
