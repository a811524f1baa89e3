package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/courtside-live/project/internal/contracts"
)

const createMatchesTableSQL = `
CREATE TABLE IF NOT EXISTS matches (
  match_id text PRIMARY KEY,
  player_a text NOT NULL,
  player_b text NOT NULL,
  tournament text NOT NULL DEFAULT '',
  round text NOT NULL DEFAULT '',
  best_of integer NOT NULL DEFAULT 3,
  status text NOT NULL DEFAULT 'upcoming',
  winner text NOT NULL DEFAULT '',
  scheduled_at timestamptz NOT NULL,
  created_at timestamptz NOT NULL DEFAULT now(),
  updated_at timestamptz NOT NULL DEFAULT now()
)`

const createScoresTableSQL = `
CREATE TABLE IF NOT EXISTS scores (
  match_id text PRIMARY KEY,
  sequence bigint NOT NULL DEFAULT 0,
  snapshot jsonb NOT NULL,
  updated_at timestamptz NOT NULL DEFAULT now()
)`

const createAppliedEventsTableSQL = `
CREATE TABLE IF NOT EXISTS applied_events (
  match_id text NOT NULL,
  client_event_id text NOT NULL,
  event_id text NOT NULL,
  sequence bigint NOT NULL,
  snapshot jsonb NOT NULL,
  occurred_at timestamptz NOT NULL,
  PRIMARY KEY (match_id, client_event_id)
)`

const insertMatchSQL = `
INSERT INTO matches (match_id, player_a, player_b, tournament, round, best_of, status, winner, scheduled_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, '', $8)
`

const selectMatchSQL = `
SELECT m.match_id, m.player_a, m.player_b, m.tournament, m.round, m.best_of,
       m.status, m.winner, m.scheduled_at, s.snapshot
FROM matches m
LEFT JOIN scores s ON s.match_id = m.match_id
WHERE m.match_id = $1
`

const startMatchSQL = `
UPDATE matches
SET status = $2, updated_at = now()
WHERE match_id = $1 AND status = $3
`

const seedScoreSQL = `
INSERT INTO scores (match_id, sequence, snapshot, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (match_id) DO NOTHING
`

const insertAppliedEventSQL = `
INSERT INTO applied_events (match_id, client_event_id, event_id, sequence, snapshot, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (match_id, client_event_id) DO NOTHING
`

const updateScoreSQL = `
UPDATE scores
SET sequence = $2, snapshot = $3, updated_at = $4
WHERE match_id = $1
`

const completeMatchSQL = `
UPDATE matches
SET status = $2, winner = $3, updated_at = now()
WHERE match_id = $1
`

const selectAppliedResultSQL = `
SELECT snapshot
FROM applied_events
WHERE match_id = $1 AND client_event_id = $2
`

// PostgresStore is the pgx-backed Store implementation.
type PostgresStore struct {
	Pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{Pool: pool}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{createMatchesTableSQL, createScoresTableSQL, createAppliedEventsTableSQL} {
		if _, err := s.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) CreateMatch(ctx context.Context, detail contracts.MatchDetail) error {
	_, err := s.Pool.Exec(ctx, insertMatchSQL,
		detail.MatchID,
		detail.PlayerA,
		detail.PlayerB,
		detail.Tournament,
		detail.Round,
		detail.BestOf,
		detail.Status,
		detail.ScheduledAt,
	)
	return err
}

func (s *PostgresStore) GetMatch(ctx context.Context, matchID string) (contracts.MatchDetail, error) {
	var d contracts.MatchDetail
	var winner string
	var rawSnapshot []byte
	err := s.Pool.QueryRow(ctx, selectMatchSQL, matchID).Scan(
		&d.MatchID,
		&d.PlayerA,
		&d.PlayerB,
		&d.Tournament,
		&d.Round,
		&d.BestOf,
		&d.Status,
		&winner,
		&d.ScheduledAt,
		&rawSnapshot,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return contracts.MatchDetail{}, ErrMatchNotFound
		}
		return contracts.MatchDetail{}, err
	}
	d.Winner = contracts.Side(winner)
	if len(rawSnapshot) > 0 {
		var snap contracts.ScoreSnapshot
		if err := json.Unmarshal(rawSnapshot, &snap); err != nil {
			return contracts.MatchDetail{}, err
		}
		d.Score = &snap
	}
	return d, nil
}

func (s *PostgresStore) StartMatch(ctx context.Context, matchID string, snapshot contracts.ScoreSnapshot) error {
	rawSnapshot, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, startMatchSQL, matchID, contracts.StatusLive, contracts.StatusUpcoming)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMatchNotLive
	}
	if _, err := tx.Exec(ctx, seedScoreSQL, matchID, int64(snapshot.Sequence), rawSnapshot, snapshot.UpdatedAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ApplyEvent records one applied point event, updates the snapshot, and runs
// publish before committing so a failed broadcast rolls everything back.
func (s *PostgresStore) ApplyEvent(ctx context.Context, event contracts.ScoreEvent, publish func() error) (bool, error) {
	rawSnapshot, err := json.Marshal(event.Snapshot)
	if err != nil {
		return false, err
	}

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, insertAppliedEventSQL,
		event.MatchID,
		event.ClientEventID,
		event.EventID,
		int64(event.Sequence),
		rawSnapshot,
		event.OccurredAt,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx, updateScoreSQL, event.MatchID, int64(event.Sequence), rawSnapshot, event.OccurredAt); err != nil {
		return false, err
	}
	if event.Snapshot.Status == contracts.StatusCompleted {
		if _, err := tx.Exec(ctx, completeMatchSQL, event.MatchID, contracts.StatusCompleted, string(event.Snapshot.Winner)); err != nil {
			return false, err
		}
	}

	if err := publish(); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func (s *PostgresStore) GetAppliedResult(ctx context.Context, matchID, clientEventID string) (contracts.ScoreSnapshot, bool, error) {
	var rawSnapshot []byte
	err := s.Pool.QueryRow(ctx, selectAppliedResultSQL, matchID, clientEventID).Scan(&rawSnapshot)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return contracts.ScoreSnapshot{}, false, nil
		}
		return contracts.ScoreSnapshot{}, false, err
	}
	var snap contracts.ScoreSnapshot
	if err := json.Unmarshal(rawSnapshot, &snap); err != nil {
		return contracts.ScoreSnapshot{}, false, err
	}
	return snap, true, nil
}
