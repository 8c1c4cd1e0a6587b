package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// hubReplaySize bounds how many recent events a Hub keeps for replay.
const hubReplaySize = 512

// Record is one event as delivered by a Hub.
type Record struct {
	ID    uint64
	Topic string
	Data  []byte
}

// Hub is an in-process Publisher that fans events out to local
// subscribers, such as HTTP event-stream clients. Slow subscribers miss
// events rather than blocking the publisher.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*HubSubscription]struct{}
	nextID uint64
	recent []Record // oldest first, at most hubReplaySize
}

// HubSubscription receives the events matching its patterns on C.
type HubSubscription struct {
	C        chan Record
	patterns []string
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*HubSubscription]struct{})}
}

// Publish encodes event as JSON and delivers it to every matching subscriber.
func (h *Hub) Publish(_ context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	rec := Record{ID: h.nextID, Topic: topic, Data: data}
	if len(h.recent) == hubReplaySize {
		h.recent = append(h.recent[:0], h.recent[1:]...)
	}
	h.recent = append(h.recent, rec)

	for sub := range h.subs {
		if !sub.Matches(topic) {
			continue
		}
		select {
		case sub.C <- rec:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscription for the given topic patterns; no
// patterns means every topic. Events after afterID that are still held
// are queued first.
func (h *Hub) Subscribe(patterns []string, afterID uint64) *HubSubscription {
	sub := &HubSubscription{C: make(chan Record, 64), patterns: patterns}

	h.mu.Lock()
	defer h.mu.Unlock()
	if afterID > 0 {
		for _, rec := range h.recent {
			if rec.ID > afterID && sub.Matches(rec.Topic) {
				select {
				case sub.C <- rec:
				default:
				}
			}
		}
	}
	h.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe removes sub. Its channel is not closed.
func (h *Hub) Unsubscribe(sub *HubSubscription) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

// Close drops every subscriber.
func (h *Hub) Close() error {
	h.mu.Lock()
	clear(h.subs)
	h.mu.Unlock()
	return nil
}

// Matches reports whether topic matches one of the subscription's patterns.
func (s *HubSubscription) Matches(topic string) bool {
	if len(s.patterns) == 0 {
		return true
	}
	for _, p := range s.patterns {
		if MatchTopic(p, topic) {
			return true
		}
	}
	return false
}

// MatchTopic matches a dot-separated topic against a NATS-style subject
// pattern: "*" matches one segment, a trailing ">" matches one or more.
func MatchTopic(pattern, topic string) bool {
	pp := strings.Split(pattern, ".")
	tp := strings.Split(topic, ".")
	for i, seg := range pp {
		if seg == ">" {
			return i < len(tp)
		}
		if i >= len(tp) || (seg != "*" && seg != tp[i]) {
			return false
		}
	}
	return len(pp) == len(tp)
}

// Multi publishes to every publisher in order.
type Multi []Publisher

// Publish sends event to all publishers and joins their errors.
func (m Multi) Publish(ctx context.Context, topic string, event any) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, topic, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all publishers.
func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
