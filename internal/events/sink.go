// Package events records security-relevant occurrences (tunnel lifecycle
// transitions, denied connections, malformed rules) for audit.
package events

import (
	"context"
	"log"
	"time"

	"github.com/bcnelson/ztna-hub/internal/domain"
	"github.com/bcnelson/ztna-hub/internal/storage"
	"github.com/google/uuid"
)

// Sink receives events. Implementations must not block the caller on slow
// downstreams; emission is best-effort and never fails the operation that
// produced the event.
type Sink interface {
	Emit(ctx context.Context, event *domain.Event)
}

// stamp fills the fields every event carries.
func stamp(event *domain.Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
}

// LogSink writes events to the process log.
type LogSink struct{}

func NewLogSink() *LogSink {
	return &LogSink{}
}

func (s *LogSink) Emit(_ context.Context, event *domain.Event) {
	stamp(event)
	log.Printf("event %s tunnel=%s rule=%s node=%s details=%v",
		event.Type, event.TunnelID, event.RuleID, event.NodeID, event.Details)
}

// StoreSink persists events for later querying.
type StoreSink struct {
	storage storage.Storage
}

func NewStoreSink(st storage.Storage) *StoreSink {
	return &StoreSink{storage: st}
}

func (s *StoreSink) Emit(ctx context.Context, event *domain.Event) {
	stamp(event)
	if err := s.storage.CreateEvent(ctx, event); err != nil {
		log.Printf("Failed to persist event %s: %v", event.Type, err)
	}
}

// Multi fans an event out to several sinks.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, event *domain.Event) {
	stamp(event)
	for _, sink := range m {
		sink.Emit(ctx, event)
	}
}
