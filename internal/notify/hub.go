// Package notify fans ranking and round events out to connected observers.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/holder-rounds/internal/logging"
	"github.com/holder-rounds/internal/metrics"
	"github.com/holder-rounds/internal/models"
	"github.com/holder-rounds/internal/types"
)

// DefaultBufferSize is the per-observer event buffer
const DefaultBufferSize = 16

// Event is the envelope written to observers
type Event struct {
	Type      types.EventType `json:"type"`
	Data      interface{}     `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// HoldersPayload is the data of a holders:updated event
type HoldersPayload struct {
	Holders   []models.HolderRecord `json:"holders"`
	Timestamp time.Time             `json:"timestamp"`
}

// RoundPayload is the data of round:* events
type RoundPayload struct {
	Round *models.Round `json:"round"`
}

// Subscription is one observer's view of the hub
type Subscription struct {
	id     uint64
	events chan []byte
}

// Events returns the encoded events for this observer. The channel is
// closed when the subscription ends.
func (s *Subscription) Events() <-chan []byte {
	return s.events
}

// Hub broadcasts events to subscribers without blocking the publisher.
// A subscriber whose buffer is full misses the event.
type Hub struct {
	mu         sync.RWMutex
	subs       map[uint64]*Subscription
	nextID     uint64
	bufferSize int
	now        func() time.Time
	logger     *logging.Logger
}

// NewHub creates a hub with the given per-observer buffer size
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		subs:       make(map[uint64]*Subscription),
		bufferSize: bufferSize,
		now:        time.Now,
		logger:     logging.Named("notify"),
	}
}

// Subscribe registers an observer until ctx is done
func (h *Hub) Subscribe(ctx context.Context) *Subscription {
	h.mu.Lock()
	h.nextID++
	sub := &Subscription{id: h.nextID, events: make(chan []byte, h.bufferSize)}
	h.subs[sub.id] = sub
	count := len(h.subs)
	h.mu.Unlock()

	metrics.ConnectedObservers.Set(float64(count))

	go func() {
		<-ctx.Done()
		h.unsubscribe(sub)
	}()
	return sub
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	if _, ok := h.subs[sub.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subs, sub.id)
	close(sub.events)
	count := len(h.subs)
	h.mu.Unlock()

	metrics.ConnectedObservers.Set(float64(count))
}

// Count returns the number of live subscribers
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// OnRankingUpdated broadcasts a holders:updated event
func (h *Hub) OnRankingUpdated(holders []models.HolderRecord, at time.Time) {
	if holders == nil {
		holders = []models.HolderRecord{}
	}
	h.Publish(types.EventHoldersUpdated, HoldersPayload{Holders: holders, Timestamp: at})
}

// OnRoundPhaseChanged broadcasts round:started or round:submission_window.
// Ended rounds are followed immediately by the next round:started, so they
// are not broadcast on their own.
func (h *Hub) OnRoundPhaseChanged(round *models.Round, phase types.Phase) {
	switch phase {
	case types.PhaseActive:
		h.Publish(types.EventRoundStarted, RoundPayload{Round: round})
	case types.PhaseSubmission:
		h.Publish(types.EventRoundSubmissionWindow, RoundPayload{Round: round})
	}
}

// Publish encodes the event once and offers it to every subscriber
func (h *Hub) Publish(eventType types.EventType, data interface{}) {
	payload, err := json.Marshal(Event{Type: eventType, Data: data, Timestamp: h.now().UTC()})
	if err != nil {
		h.logger.WithError(err).Errorf("failed to encode %s event", eventType)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		select {
		case sub.events <- payload:
		default:
			metrics.DroppedNotifications.WithLabelValues(string(eventType)).Inc()
			h.logger.Debugf("observer %d buffer full, dropped %s", sub.id, eventType)
		}
	}
}
