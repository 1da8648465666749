package survey

import (
	"encoding/json"
	"sort"
	"sync"
)

// EventKind names the event types produced by a tick.
type EventKind string

const (
	KindMatchChanged     EventKind = "matchChanged"
	KindCoveragePassed   EventKind = "coveragePassed"
	KindAttributeUpdated EventKind = "attributeUpdated"
)

// EventHeader carries the fields common to every event. ID is unique per
// event so subscribers can drop redeliveries.
type EventHeader struct {
	ID          string `json:"id"`
	TimestampMs int64  `json:"ts"`
}

// Event is one of MatchChanged, CoveragePassed or AttributeUpdated.
type Event interface {
	Kind() EventKind
	Header() EventHeader
}

// MatchChanged reports the feature matched by a position. Matched is false
// on the transition from a match to no match.
type MatchChanged struct {
	EventHeader
	FeatureID string  `json:"featureId,omitempty"`
	Matched   bool    `json:"matched"`
	DistanceM float64 `json:"distanceM,omitempty"`
}

func (MatchChanged) Kind() EventKind       { return KindMatchChanged }
func (e MatchChanged) Header() EventHeader { return e.EventHeader }

// CoveragePassed reports a confirmed pass.
type CoveragePassed struct {
	EventHeader
	FeatureID string   `json:"featureId"`
	NewValue  int      `json:"newValue"`
	Coverage  Coverage `json:"coverage"`
}

func (CoveragePassed) Kind() EventKind       { return KindCoveragePassed }
func (e CoveragePassed) Header() EventHeader { return e.EventHeader }

// AttributeUpdated reports the counter write that followed a pass.
type AttributeUpdated struct {
	EventHeader
	FeatureID string      `json:"featureId"`
	Field     string      `json:"field"`
	OldValue  interface{} `json:"oldValue"`
	NewValue  int         `json:"newValue"`
}

func (AttributeUpdated) Kind() EventKind       { return KindAttributeUpdated }
func (e AttributeUpdated) Header() EventHeader { return e.EventHeader }

// EncodeEvent marshals an event inside a {"type": ..., "event": ...} envelope.
func EncodeEvent(e Event) ([]byte, error) {
	return json.Marshal(struct {
		Type  EventKind `json:"type"`
		Event Event     `json:"event"`
	}{e.Kind(), e})
}

// Handler receives events synchronously on the tick goroutine.
type Handler func(Event)

// Bus fans events out to local subscribers.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
}

// NewBus creates a bus with no subscribers.
func NewBus() *Bus {
	return &Bus{handlers: make(map[int]Handler)}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Publish delivers e to every subscriber in subscription order. A
// panicking handler is logged and does not stop delivery to the others.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	ids := make([]int, 0, len(b.handlers))
	for id := range b.handlers {
		ids = append(ids, id)
	}
	hs := make([]Handler, 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		hs = append(hs, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, h := range hs {
		deliver(h, e)
	}
}

func deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			Logf("[EVENT] subscriber panic on %s %s: %v", e.Kind(), e.Header().ID, r)
		}
	}()
	h(e)
}
