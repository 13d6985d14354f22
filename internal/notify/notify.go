// Package notify delivers identity and alert notifications to external receivers.
package notify

import (
	"context"
	"errors"

	"github.com/afroash/temper-node/internal/models"
)

var (
	ErrSinkDisabled  = errors.New("sink is disabled")
	ErrNoDestination = errors.New("no destination configured for notification kind")
)

// Sink is one outbound channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, n models.Notification) error
}

// Result is the outcome of one sink's delivery attempt.
type Result struct {
	Sink string
	Err  error
}

// Multi fans a notification out to every sink in order. A failing sink does
// not stop the others and nothing is retried.
type Multi struct {
	sinks []Sink
}

// NewMulti builds a fan-out over sinks.
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

// Add appends a sink.
func (m *Multi) Add(s Sink) {
	m.sinks = append(m.sinks, s)
}

// Deliver sends n to every sink and reports each outcome. Disabled sinks are
// skipped without a result.
func (m *Multi) Deliver(ctx context.Context, n models.Notification) []Result {
	results := make([]Result, 0, len(m.sinks))
	for _, s := range m.sinks {
		err := s.Send(ctx, n)
		if errors.Is(err, ErrSinkDisabled) || errors.Is(err, ErrNoDestination) {
			continue
		}
		results = append(results, Result{Sink: s.Name(), Err: err})
	}
	return results
}
