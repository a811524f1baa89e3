// Package engine is the authoritative tennis scoring state machine. Apply is
// a pure transition: no I/O, no clock, and the input snapshot is never
// mutated.
package engine

import (
	"errors"

	"github.com/courtside-live/project/internal/contracts"
)

var ErrMatchCompleted = errors.New("match already completed")
var ErrUnknownSide = errors.New("unknown side")
var ErrUnsupportedEventType = errors.New("unsupported event type")

// deucePoints is the internal count for 40: from 3-3 onward a game is decided
// through the advantage field instead of a fourth point.
const deucePoints = 3

// setGames is the minimum number of games to take a set, with a two-game lead.
const setGames = 6

// tiebreakPoints is the minimum to take a tiebreak, with a two-point lead.
const tiebreakPoints = 7

// DefaultBestOf is the match format used when none is configured.
const DefaultBestOf = 3

// NewSnapshot returns the zero score of a freshly started match. A bestOf
// other than 3 or 5 falls back to the default format.
func NewSnapshot(matchID string, bestOf int, server contracts.Side) contracts.ScoreSnapshot {
	if bestOf != 3 && bestOf != 5 {
		bestOf = DefaultBestOf
	}
	return contracts.ScoreSnapshot{
		MatchID: matchID,
		Sets:    []contracts.Pair{},
		Server:  server,
		Status:  contracts.StatusLive,
		BestOf:  bestOf,
	}
}

// Apply advances the score by one point event and returns the new snapshot.
// Evaluation order: tiebreak, deuce/advantage, normal accrual; a won game
// cascades into set and match completion checks.
func Apply(s contracts.ScoreSnapshot, ev contracts.PointEvent) (contracts.ScoreSnapshot, error) {
	if s.Status == contracts.StatusCompleted {
		return s, ErrMatchCompleted
	}
	if !ev.Side.Valid() {
		return s, ErrUnknownSide
	}

	var scorer contracts.Side
	switch ev.EventType {
	case contracts.EventTypePoint, "":
		scorer = ev.Side
	case contracts.EventTypeDoubleFault:
		// A double fault by one side is a point for the other.
		scorer = ev.Side.Other()
	default:
		return s, ErrUnsupportedEventType
	}

	s.Sequence++

	switch {
	case s.Tiebreak != nil:
		s = applyTiebreakPoint(s, scorer)
	case s.Points.A == deucePoints && s.Points.B == deucePoints:
		s = applyDeucePoint(s, scorer)
	default:
		s = applyNormalPoint(s, scorer)
	}

	// Server rotation is assigned externally; an explicit assignment on the
	// event overrides the per-game flip.
	if ev.Server.Valid() {
		s.Server = ev.Server
	}
	return s, nil
}

func applyTiebreakPoint(s contracts.ScoreSnapshot, scorer contracts.Side) contracts.ScoreSnapshot {
	tb := *s.Tiebreak
	tb = tb.With(scorer, tb.Get(scorer)+1)
	s.Tiebreak = &tb

	if tb.Get(scorer) >= tiebreakPoints && tb.Get(scorer)-tb.Get(scorer.Other()) >= 2 {
		s.Games = s.Games.With(scorer, setGames+1)
		s.Tiebreak = nil
		s = closeSet(s, scorer)
	}
	return s
}

func applyDeucePoint(s contracts.ScoreSnapshot, scorer contracts.Side) contracts.ScoreSnapshot {
	switch s.Advantage {
	case scorer:
		return winGame(s, scorer)
	case "":
		s.Advantage = scorer
	default:
		// Opponent held advantage; back to deuce.
		s.Advantage = ""
	}
	return s
}

func applyNormalPoint(s contracts.ScoreSnapshot, scorer contracts.Side) contracts.ScoreSnapshot {
	if s.Points.Get(scorer) < deucePoints {
		s.Points = s.Points.With(scorer, s.Points.Get(scorer)+1)
		return s
	}
	// Scorer was at 40 with the opponent below 40: game won outright.
	return winGame(s, scorer)
}

func winGame(s contracts.ScoreSnapshot, winner contracts.Side) contracts.ScoreSnapshot {
	s.Games = s.Games.With(winner, s.Games.Get(winner)+1)
	s.Points = contracts.Pair{}
	s.Advantage = ""
	if s.Server.Valid() {
		s.Server = s.Server.Other()
	}

	games := s.Games.Get(winner)
	lead := games - s.Games.Get(winner.Other())
	switch {
	case games >= setGames && lead >= 2:
		s = closeSet(s, winner)
	case s.Games.A == setGames && s.Games.B == setGames:
		s.Tiebreak = &contracts.Pair{}
	}
	return s
}

func closeSet(s contracts.ScoreSnapshot, winner contracts.Side) contracts.ScoreSnapshot {
	sets := make([]contracts.Pair, len(s.Sets), len(s.Sets)+1)
	copy(sets, s.Sets)
	s.Sets = append(sets, s.Games)
	s.Games = contracts.Pair{}
	s.Points = contracts.Pair{}
	s.Advantage = ""
	s.Tiebreak = nil

	bestOf := s.BestOf
	if bestOf != 3 && bestOf != 5 {
		bestOf = DefaultBestOf
	}
	if s.SetsWon(winner) >= bestOf/2+1 {
		s.Status = contracts.StatusCompleted
		s.Winner = winner
	}
	return s
}
