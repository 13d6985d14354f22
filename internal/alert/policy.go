// Package alert decides when a temperature sample warrants an outbound notification.
package alert

import "github.com/afroash/temper-node/internal/models"

// Reason explains why a decision fired.
type Reason string

const (
	ReasonNone     Reason = ""
	ReasonBelowMin Reason = "below_min"
	ReasonAboveMax Reason = "above_max"
	// ReasonReminder is a re-notification while the node is armed.
	ReasonReminder Reason = "reminder"
)

// Options tune the policy.
type Options struct {
	// RearmOnRecovery clears Armed when a valid in-bounds reading arrives.
	// The default keeps Armed set for the life of the process.
	RearmOnRecovery bool
}

// Decision is the result of one evaluation.
type Decision struct {
	Fire   bool
	Reason Reason
	State  models.NotificationState
}

// Evaluate is called once per sampling tick. It does no I/O and never
// mutates its inputs; the caller stores Decision.State.
//
// Readings whose Celsius value is unavailable never fire and leave the state
// untouched. An out-of-bounds reading fires immediately when not armed. Once
// armed, the node fires again whenever more than NotifyInterval has passed
// since the last firing, whether or not the temperature is still out of bounds.
func Evaluate(reading models.Reading, th models.Thresholds, state models.NotificationState, nowMs int64, opts Options) Decision {
	c, ok := reading.Celsius.Value()
	if !ok {
		return Decision{State: state}
	}

	out := th.OutOfBounds(c)

	if out && !state.Armed {
		return Decision{
			Fire:   true,
			Reason: boundReason(c, th),
			State:  models.NotificationState{Armed: true, LastFiredAtMs: nowMs},
		}
	}

	if !out && opts.RearmOnRecovery {
		state.Armed = false
		return Decision{State: state}
	}

	if state.Armed && nowMs-state.LastFiredAtMs > th.NotifyIntervalMs() {
		reason := ReasonReminder
		if out {
			reason = boundReason(c, th)
		}
		state.LastFiredAtMs = nowMs
		return Decision{Fire: true, Reason: reason, State: state}
	}

	return Decision{State: state}
}

func boundReason(c float64, th models.Thresholds) Reason {
	if c < th.MinC {
		return ReasonBelowMin
	}
	return ReasonAboveMax
}
