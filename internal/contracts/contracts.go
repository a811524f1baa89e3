package contracts

import "time"

// Side identifies one of the two players in a match. The empty value means
// "neither" and is used for advantage, server, and winner fields.
type Side string

const (
	SideA Side = "A"
	SideB Side = "B"
)

// Valid reports whether the side names an actual player.
func (s Side) Valid() bool {
	return s == SideA || s == SideB
}

// Other returns the opposing side.
func (s Side) Other() Side {
	if s == SideA {
		return SideB
	}
	return SideA
}

// Match lifecycle statuses.
const (
	StatusUpcoming  = "upcoming"
	StatusLive      = "live"
	StatusCompleted = "completed"
)

// Point event types accepted by the writer.
const (
	EventTypePoint       = "point"
	EventTypeDoubleFault = "double_fault"
)

// Pair holds a per-side counter (points, games, one set, tiebreak points).
type Pair struct {
	A int `json:"A"`
	B int `json:"B"`
}

// Get returns the counter for the given side.
func (p Pair) Get(s Side) int {
	if s == SideA {
		return p.A
	}
	return p.B
}

// With returns a copy with the given side's counter replaced.
func (p Pair) With(s Side, v int) Pair {
	if s == SideA {
		p.A = v
	} else {
		p.B = v
	}
	return p
}

// PointEvent is a single scoring action submitted by the authoritative side.
// ClientEventID makes retries idempotent. Server, when set, overrides the
// serving player (rotation is assigned externally, not computed here).
type PointEvent struct {
	MatchID       string `json:"match_id"`
	Side          Side   `json:"side"`
	EventType     string `json:"event_type"`
	ClientEventID string `json:"client_event_id"`
	Server        Side   `json:"server,omitempty"`
}

// ScoreSnapshot is the full score state of one match. Every broadcast carries
// a complete snapshot, never a diff, so any snapshot with a higher sequence
// fully replaces an older one.
type ScoreSnapshot struct {
	MatchID   string    `json:"match_id"`
	Sequence  uint64    `json:"sequence"`
	Points    Pair      `json:"points"`
	Advantage Side      `json:"advantage,omitempty"`
	Games     Pair      `json:"games"`
	Sets      []Pair    `json:"sets"`
	Tiebreak  *Pair     `json:"tiebreak,omitempty"`
	Server    Side      `json:"server,omitempty"`
	Status    string    `json:"status"`
	Winner    Side      `json:"winner,omitempty"`
	BestOf    int       `json:"best_of"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SetsWon counts finalized sets won by the given side.
func (s ScoreSnapshot) SetsWon(side Side) int {
	won := 0
	for _, set := range s.Sets {
		if set.Get(side) > set.Get(side.Other()) {
			won++
		}
	}
	return won
}

// ScoreEvent is the envelope published by the writer gateway and consumed by
// the streamer and the sink.
type ScoreEvent struct {
	EventID       string        `json:"event_id"`
	MatchID       string        `json:"match_id"`
	ClientEventID string        `json:"client_event_id"`
	Side          Side          `json:"side"`
	EventType     string        `json:"event_type"`
	Sequence      uint64        `json:"sequence"`
	Snapshot      ScoreSnapshot `json:"snapshot"`
	ShardID       int           `json:"shard_id"`
	OccurredAt    time.Time     `json:"occurred_at"`
}

// MatchSummary is the live-list view returned by GET /api/v1/matches/live.
type MatchSummary struct {
	MatchID    string `json:"match_id"`
	PlayerA    string `json:"player_a"`
	PlayerB    string `json:"player_b"`
	Tournament string `json:"tournament"`
	Round      string `json:"round"`
	Status     string `json:"status"`
}

// MatchDetail is the full match view returned by GET /api/v1/matches/{id}.
type MatchDetail struct {
	MatchSummary
	BestOf      int            `json:"best_of"`
	Winner      Side           `json:"winner,omitempty"`
	ScheduledAt time.Time      `json:"scheduled_at"`
	Score       *ScoreSnapshot `json:"score,omitempty"`
}
