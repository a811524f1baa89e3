// Package stream fans score events out to viewer sessions. One broker
// subscription is held per match with local subscribers attached to it; the
// last subscriber leaving tears the broker subscription down.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/courtside-live/project/internal/contracts"
	"github.com/courtside-live/project/internal/sharding"
)

// subscriberBuffer bounds each viewer channel. Sends never block: a slow
// subscriber misses intermediate snapshots and recovers through full-state
// resync.
const subscriberBuffer = 64

// connectFunc attaches to the broker for one match and feeds decoded events
// into deliver. Injected in tests.
type connectFunc func(matchID string, deliver func(contracts.ScoreEvent)) (io.Closer, error)

type Registry struct {
	mu      sync.Mutex
	connect connectFunc
	byMatch map[string]*matchStream
}

func NewRegistry(js nats.JetStreamContext) *Registry {
	return &Registry{
		connect: jetStreamConnect(js),
		byMatch: map[string]*matchStream{},
	}
}

func jetStreamConnect(js nats.JetStreamContext) connectFunc {
	return func(matchID string, deliver func(contracts.ScoreEvent)) (io.Closer, error) {
		if js == nil {
			return nil, fmt.Errorf("jetstream is not configured")
		}
		// DeliverNew: a fresh subscription starts empty and never replays
		// history; viewers seed from a REST snapshot instead.
		sub, err := js.Subscribe(sharding.MatchWildcard(matchID), func(msg *nats.Msg) {
			var event contracts.ScoreEvent
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				return
			}
			deliver(event)
		}, nats.DeliverNew())
		if err != nil {
			return nil, err
		}
		return closerFunc(func() error { return sub.Unsubscribe() }), nil
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Subscribe attaches a viewer to a match's event stream. The returned cancel
// func releases the channel; it is safe to call more than once.
func (r *Registry) Subscribe(matchID string) (<-chan contracts.ScoreEvent, func(), error) {
	r.mu.Lock()
	ms, ok := r.byMatch[matchID]
	if !ok {
		ms = &matchStream{
			matchID:     matchID,
			connect:     r.connect,
			subscribers: map[uint64]chan contracts.ScoreEvent{},
		}
		r.byMatch[matchID] = ms
	}
	r.mu.Unlock()

	subID, ch, err := ms.addSubscriber()
	if err != nil {
		return nil, nil, err
	}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			empty := ms.removeSubscriber(subID)
			if !empty {
				return
			}
			r.mu.Lock()
			if current, ok := r.byMatch[matchID]; ok && current == ms {
				delete(r.byMatch, matchID)
			}
			r.mu.Unlock()
		})
	}

	return ch, unsubscribe, nil
}

type matchStream struct {
	matchID string
	connect connectFunc

	mu          sync.Mutex
	closer      io.Closer
	subscribers map[uint64]chan contracts.ScoreEvent
	nextID      uint64
}

func (s *matchStream) addSubscriber() (uint64, chan contracts.ScoreEvent, error) {
	ch := make(chan contracts.ScoreEvent, subscriberBuffer)

	s.mu.Lock()
	s.nextID++
	subID := s.nextID
	s.subscribers[subID] = ch
	s.mu.Unlock()

	if err := s.ensureConnected(); err != nil {
		s.mu.Lock()
		delete(s.subscribers, subID)
		s.mu.Unlock()
		return 0, nil, err
	}

	return subID, ch, nil
}

func (s *matchStream) removeSubscriber(subID uint64) bool {
	var closer io.Closer
	var empty bool

	s.mu.Lock()
	delete(s.subscribers, subID)
	if len(s.subscribers) == 0 {
		empty = true
		closer = s.closer
		s.closer = nil
	}
	s.mu.Unlock()

	if closer != nil {
		_ = closer.Close()
	}
	return empty
}

func (s *matchStream) ensureConnected() error {
	s.mu.Lock()
	if s.closer != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	closer, err := s.connect(s.matchID, s.broadcast)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closer != nil {
		s.mu.Unlock()
		_ = closer.Close()
		return nil
	}
	s.closer = closer
	s.mu.Unlock()
	return nil
}

func (s *matchStream) broadcast(event contracts.ScoreEvent) {
	s.mu.Lock()
	subs := make([]chan contracts.ScoreEvent, 0, len(s.subscribers))
	for _, ch := range s.subscribers {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}
