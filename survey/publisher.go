package survey

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher sends status, field notes and engine events to MQTT under
// a common prefix.
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
}

// NewPublisher creates a publisher. If client is nil, publishing is
// disabled and every call returns an error.
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = "linkpass"
	}
	return &Publisher{client: client, publishPrefix: prefix, qos: 0}
}

// Topic returns the full topic for a suffix.
func (p *Publisher) Topic(suffix string) string {
	return fmt.Sprintf("%s/%s", p.publishPrefix, suffix)
}

// PublishStatus publishes the latest status, retained so late subscribers
// see it.
func (p *Publisher) PublishStatus(s StatusPayload) error {
	return p.publishJSON(p.Topic("status"), true, s)
}

// PublishNote publishes a field note.
func (p *Publisher) PublishNote(n NotePayload) error {
	if err := p.publishJSON(p.Topic("notes"), false, n); err != nil {
		return err
	}
	log.Printf("[MQTT] published %s note for link %v", n.EventType, derefID(n.LinkID))
	return nil
}

// PublishEvent publishes one engine event. Match events go to
// {prefix}/events/match, passes and attribute writes to {prefix}/events.
func (p *Publisher) PublishEvent(e Event) error {
	payload, err := EncodeEvent(e)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	topic := p.Topic("events")
	if e.Kind() == KindMatchChanged {
		topic = p.Topic("events/match")
	}
	return p.publish(topic, false, payload)
}

func (p *Publisher) publishJSON(topic string, retain bool, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling payload for %s: %w", topic, err)
	}
	return p.publish(topic, retain, payload)
}

func (p *Publisher) publish(topic string, retain bool, payload []byte) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	token := p.client.Publish(topic, p.qos, retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// EventQueue forwards events to a Publisher from its own goroutine, so a
// slow broker never holds up a tick. Events are dropped when the queue
// is full.
type EventQueue struct {
	publisher *Publisher
	events    chan Event
	dropped   atomic.Int64
}

// NewEventQueue creates a queue holding up to size events.
func NewEventQueue(p *Publisher, size int) *EventQueue {
	if size < 1 {
		size = 1
	}
	return &EventQueue{publisher: p, events: make(chan Event, size)}
}

// Handler returns a bus handler that enqueues without blocking.
func (q *EventQueue) Handler() Handler {
	return func(e Event) {
		select {
		case q.events <- e:
		default:
			if n := q.dropped.Add(1); n == 1 || n%100 == 0 {
				log.Printf("[MQTT] event queue full, %d event(s) dropped", n)
			}
		}
	}
}

// Dropped returns the number of events discarded on a full queue.
func (q *EventQueue) Dropped() int64 {
	return q.dropped.Load()
}

// Run publishes queued events in order until ctx is done.
func (q *EventQueue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-q.events:
			if err := q.publisher.PublishEvent(e); err != nil {
				log.Printf("[MQTT] publishing %s: %v", e.Kind(), err)
			}
		}
	}
}

func derefID(id *string) string {
	if id == nil {
		return "none"
	}
	return *id
}
