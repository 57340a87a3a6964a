package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/vitals_relay/internal/codec"
	"github.com/dgnsrekt/vitals_relay/internal/relay"
	"github.com/dgnsrekt/vitals_relay/internal/telemetry"
)

const defaultAlertTimeout = 10 * time.Second

// Journal records accepted snapshots. Write must not block.
type Journal interface {
	Write(record any) error
}

// Alerter is told when a reading raises the fall flag.
type Alerter interface {
	Alert(ctx context.Context, snap telemetry.Snapshot) error
}

// JournalRecord is one accepted ingestion as written to the journal.
type JournalRecord struct {
	ReceivedAt time.Time          `json:"received_at"`
	Source     string             `json:"source"`
	Snapshot   telemetry.Snapshot `json:"snapshot"`
}

// Status summarizes live state for the status endpoint.
type Status struct {
	Subscribers     int            `json:"subscribers"`
	HistoryCapacity int            `json:"history_capacity"`
	HistoryLengths  map[string]int `json:"history_lengths"`
	LastUpdate      int64          `json:"last_update" doc:"Timestamp of the live snapshot, unix milliseconds"`
}

// Service is the ingestion handler and the entry point for subscribers.
//
// mu orders store mutation plus publish against catch-up plus join, so a
// subscriber always sees its catch-up snapshot followed by exactly the
// updates applied after it. Nothing under mu blocks: the store lock is
// short and broker enqueues never wait.
type Service struct {
	store   *telemetry.Store
	broker  *relay.Broker
	journal Journal
	alerter Alerter
	now     func() time.Time

	mu     sync.Mutex
	fallen bool

	alerts sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithJournal records every accepted snapshot.
func WithJournal(j Journal) Option {
	return func(s *Service) { s.journal = j }
}

// WithAlerter enables fall notifications.
func WithAlerter(a Alerter) Option {
	return func(s *Service) { s.alerter = a }
}

// WithClock overrides the ingestion clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store *telemetry.Store, broker *relay.Broker, opts ...Option) *Service {
	s := &Service{store: store, broker: broker, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IngestPayload decodes a JSON or CBOR body and ingests it.
func (s *Service) IngestPayload(ctx context.Context, source, contentType string, payload []byte) (telemetry.Snapshot, error) {
	fields, err := codec.DecodeFields(contentType, payload)
	if err != nil {
		return telemetry.Snapshot{}, telemetry.Malformed("payload must be a JSON or CBOR object", err)
	}
	return s.Ingest(ctx, source, fields)
}

// Ingest validates fields and applies them. Malformed input leaves state
// untouched and is not broadcast.
func (s *Service) Ingest(ctx context.Context, source string, fields map[string]any) (telemetry.Snapshot, error) {
	reading, err := telemetry.ParseReading(fields)
	if err != nil {
		return telemetry.Snapshot{}, err
	}
	slog.Debug("reading received", "source", source, "fields", len(fields))
	return s.Apply(ctx, source, reading), nil
}

// Apply stores a validated reading, stamped with the server clock, and
// fans the new snapshot out to every subscriber.
func (s *Service) Apply(ctx context.Context, source string, r telemetry.Reading) telemetry.Snapshot {
	s.mu.Lock()
	// Stamped under the lock so history stays in timestamp order.
	at := s.now()
	snap := s.store.Apply(r, at)
	msg, err := relay.SnapshotMessage(snap)
	if err != nil {
		slog.Error("encode snapshot update", "error", err)
	} else {
		s.broker.Publish(msg)
	}
	raised := snap.FallDetected && !s.fallen
	s.fallen = snap.FallDetected
	s.mu.Unlock()

	if s.journal != nil {
		if err := s.journal.Write(JournalRecord{ReceivedAt: at.UTC(), Source: source, Snapshot: snap}); err != nil {
			slog.Warn("journal write failed", "error", err)
		}
	}
	if raised && s.alerter != nil {
		s.raiseAlert(ctx, snap)
	}
	return snap
}

func (s *Service) raiseAlert(ctx context.Context, snap telemetry.Snapshot) {
	s.alerts.Add(1)
	go func() {
		defer s.alerts.Done()
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultAlertTimeout)
		defer cancel()
		if err := s.alerter.Alert(actx, snap); err != nil {
			slog.Warn("fall alert failed", "error", err)
			return
		}
		slog.Info("fall alert sent", "timestamp", snap.Timestamp)
	}()
}

// Subscribe registers conn and queues its catch-up: the live snapshot and
// the full history, ahead of any later update.
func (s *Service) Subscribe(conn relay.Conn) *relay.Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	catchUp, err := relay.CatchUp(s.store.Latest(), s.store.History())
	if err != nil {
		slog.Error("encode catch-up", "error", err)
		catchUp = nil
	}
	return s.broker.Join(conn, catchUp...)
}

// Unsubscribe deregisters sub; calling it more than once is harmless.
func (s *Service) Unsubscribe(sub *relay.Subscriber) {
	s.broker.Leave(sub)
}

// Latest returns the live snapshot.
func (s *Service) Latest() telemetry.Snapshot {
	return s.store.Latest()
}

// History returns every metric's retained window.
func (s *Service) History() telemetry.History {
	return s.store.History()
}

// Status reports subscriber count and history fill levels.
func (s *Service) Status() Status {
	h := s.store.History()
	lengths := make(map[string]int, len(h))
	for name, points := range h {
		lengths[name] = len(points)
	}
	return Status{
		Subscribers:     s.broker.ClientCount(),
		HistoryCapacity: s.store.Capacity(),
		HistoryLengths:  lengths,
		LastUpdate:      s.store.Latest().Timestamp,
	}
}

// Wait blocks until in-flight fall alerts finish.
func (s *Service) Wait() {
	s.alerts.Wait()
}
