package query

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/courtside-live/project/internal/contracts"
)

var ErrMatchNotFound = errors.New("match not found")
var ErrScoreNotFound = errors.New("score not found")

// Repository serves the read side: match detail, the live list, and raw
// snapshots for streamer seeding.
type Repository struct {
	Pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{Pool: pool}
}

func (r *Repository) GetMatch(ctx context.Context, matchID string) (contracts.MatchDetail, error) {
	var d contracts.MatchDetail
	var winner string
	var rawSnapshot []byte
	err := r.Pool.QueryRow(ctx,
		`SELECT m.match_id, m.player_a, m.player_b, m.tournament, m.round, m.best_of,
		        m.status, m.winner, m.scheduled_at, s.snapshot
		 FROM matches m
		 LEFT JOIN scores s ON s.match_id = m.match_id
		 WHERE m.match_id = $1`,
		matchID,
	).Scan(
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

func (r *Repository) ListLiveMatches(ctx context.Context) ([]contracts.MatchSummary, error) {
	rows, err := r.Pool.Query(ctx,
		`SELECT match_id, player_a, player_b, tournament, round, status
		 FROM matches
		 WHERE status = $1
		 ORDER BY scheduled_at ASC`,
		contracts.StatusLive,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]contracts.MatchSummary, 0)
	for rows.Next() {
		var m contracts.MatchSummary
		if err := rows.Scan(
			&m.MatchID,
			&m.PlayerA,
			&m.PlayerB,
			&m.Tournament,
			&m.Round,
			&m.Status,
		); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *Repository) GetSnapshot(ctx context.Context, matchID string) (contracts.ScoreSnapshot, error) {
	var rawSnapshot []byte
	err := r.Pool.QueryRow(ctx,
		`SELECT snapshot FROM scores WHERE match_id = $1`,
		matchID,
	).Scan(&rawSnapshot)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return contracts.ScoreSnapshot{}, ErrScoreNotFound
		}
		return contracts.ScoreSnapshot{}, err
	}
	var snap contracts.ScoreSnapshot
	if err := json.Unmarshal(rawSnapshot, &snap); err != nil {
		return contracts.ScoreSnapshot{}, err
	}
	return snap, nil
}
