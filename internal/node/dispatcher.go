package node

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/afroash/temper-node/internal/metrics"
	"github.com/afroash/temper-node/internal/models"
	"github.com/afroash/temper-node/internal/notify"
	"github.com/afroash/temper-node/internal/storage"
)

// Deliverer fans a notification out to sinks.
type Deliverer interface {
	Deliver(ctx context.Context, n models.Notification) []notify.Result
}

// EventRecorder queues journal entries without blocking.
type EventRecorder interface {
	Record(event *storage.Event) bool
}

// Dispatcher makes one best-effort delivery attempt per notification and
// records the outcome. Failures are logged and counted, never returned.
// Every sink's journal entry for one notification shares a notification ID.
type Dispatcher struct {
	sinks   Deliverer
	journal EventRecorder
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// NewDispatcher accepts a nil journal and nil metrics.
func NewDispatcher(sinks Deliverer, journal EventRecorder, m *metrics.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		sinks:   sinks,
		journal: journal,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// JournalStats reports the journal writer's counters when it exposes them.
func (d *Dispatcher) JournalStats() (storage.JournalWriterStats, bool) {
	s, ok := d.journal.(interface {
		Stats() storage.JournalWriterStats
	})
	if !ok {
		return storage.JournalWriterStats{}, false
	}
	return s.Stats(), true
}

// Notify implements provisioning.Notifier.
func (d *Dispatcher) Notify(ctx context.Context, n models.Notification) {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		d.logger.Error().Err(err).Str("kind", string(n.Kind)).Msg("failed to encode notification")
		return
	}

	id := uuid.New().String()
	results := d.sinks.Deliver(ctx, n)
	if len(results) == 0 {
		d.logger.Debug().Str("kind", string(n.Kind)).Msg("No sinks enabled")
		return
	}

	for _, res := range results {
		event := &storage.Event{
			NotificationID: id,
			Kind:           n.Kind,
			Sink:           res.Sink,
			Delivered:      res.Err == nil,
			Payload:        string(payload),
			RecordedAt:     d.now(),
		}

		if res.Err != nil {
			event.Error = res.Err.Error()
			d.metrics.SinkFailure(res.Sink, string(n.Kind))
			d.logger.Warn().Err(res.Err).
				Str("sink", res.Sink).
				Str("kind", string(n.Kind)).
				Str("notification_id", id).
				Msg("Notification delivery failed")
		} else {
			d.logger.Info().
				Str("sink", res.Sink).
				Str("kind", string(n.Kind)).
				Str("notification_id", id).
				Msg("Notification delivered")
		}

		if d.journal != nil && !d.journal.Record(event) {
			d.logger.Warn().Str("sink", res.Sink).Msg("Journal full, event dropped")
		}
	}
}
