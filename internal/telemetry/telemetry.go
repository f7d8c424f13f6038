// Package telemetry publishes session events to an MQTT broker.
//
// Each event is a msgpack-encoded Record. Updates go to
// <prefix>/<session_id>/updates, session open/close to
// <prefix>/<session_id>/events.
package telemetry

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/pagestream/internal/updatebus"
)

// Publisher sends one payload to a topic.
type Publisher interface {
	Publish(topic string, qos byte, payload []byte) error
}

// Record is the wire form of an event.
type Record struct {
	SessionID string `msgpack:"session_id"`
	Kind      string `msgpack:"kind"`
	TimeMS    int64  `msgpack:"time_ms"`
	Seq       uint64 `msgpack:"seq,omitempty"`
	X         int    `msgpack:"x,omitempty"`
	Y         int    `msgpack:"y,omitempty"`
	Width     int    `msgpack:"width,omitempty"`
	Height    int    `msgpack:"height,omitempty"`
	Bytes     int    `msgpack:"bytes,omitempty"`
}

// NewRecord converts a bus event.
func NewRecord(ev *updatebus.Event) Record {
	r := Record{
		SessionID: ev.SessionID,
		Kind:      ev.Kind.String(),
		TimeMS:    ev.Time.UnixMilli(),
	}
	if ev.Kind == updatebus.KindUpdate {
		r.Seq = ev.Seq
		r.X, r.Y = ev.Rect.X, ev.Rect.Y
		r.Width, r.Height = ev.Rect.Width, ev.Rect.Height
		r.Bytes = ev.Bytes
	}
	return r
}

// Stats is a snapshot of emitter counters.
type Stats struct {
	Published map[string]uint64 `json:"published"` // count per kind
	Errors    uint64            `json:"errors"`
}

// Emitter encodes events and hands them to a Publisher.
type Emitter struct {
	pub    Publisher
	prefix string
	qos    byte
	log    *slog.Logger

	mu        sync.Mutex
	published map[string]uint64
	errors    uint64
}

// NewEmitter creates an Emitter publishing below prefix.
func NewEmitter(pub Publisher, prefix string, qos byte, log *slog.Logger) *Emitter {
	if log == nil {
		log = slog.Default()
	}
	return &Emitter{
		pub:       pub,
		prefix:    prefix,
		qos:       qos,
		log:       log,
		published: make(map[string]uint64),
	}
}

// Topic returns the topic for an event.
func (e *Emitter) Topic(ev *updatebus.Event) string {
	suffix := "events"
	if ev.Kind == updatebus.KindUpdate {
		suffix = "updates"
	}
	return fmt.Sprintf("%s/%s/%s", e.prefix, ev.SessionID, suffix)
}

// Emit publishes one event.
func (e *Emitter) Emit(ev *updatebus.Event) error {
	payload, err := msgpack.Marshal(NewRecord(ev))
	if err != nil {
		e.countError()
		return fmt.Errorf("telemetry: marshal: %w", err)
	}

	topic := e.Topic(ev)
	if err := e.pub.Publish(topic, e.qos, payload); err != nil {
		e.countError()
		return fmt.Errorf("telemetry: publish %s: %w", topic, err)
	}

	e.mu.Lock()
	e.published[ev.Kind.String()]++
	e.mu.Unlock()

	e.log.Debug("telemetry: published", "topic", topic, "size", len(payload))
	return nil
}

// Run consumes events until read returns nil.
func (e *Emitter) Run(read func() *updatebus.Event) {
	for ev := read(); ev != nil; ev = read() {
		if err := e.Emit(ev); err != nil {
			e.log.Warn("telemetry: emit failed", "session_id", ev.SessionID, "error", err)
		}
	}
}

// Stats returns current counters.
func (e *Emitter) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{Published: published, Errors: e.errors}
}

func (e *Emitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
