package models

import "time"

// Thresholds are the operator-configured alert bounds. Min may exceed Max;
// nothing here rejects that.
type Thresholds struct {
	MinC           float64       `json:"min_c"`
	MaxC           float64       `json:"max_c"`
	NotifyInterval time.Duration `json:"notify_interval"`
}

// NotifyIntervalMs returns the re-notification cadence in milliseconds.
func (t Thresholds) NotifyIntervalMs() int64 {
	return t.NotifyInterval.Milliseconds()
}

// NotifyIntervalMinutes returns the cadence in whole minutes, as the settings page shows it.
func (t Thresholds) NotifyIntervalMinutes() int64 {
	return int64(t.NotifyInterval / time.Minute)
}

// OutOfBounds reports whether c lies strictly outside [MinC, MaxC].
func (t Thresholds) OutOfBounds(c float64) bool {
	return c < t.MinC || c > t.MaxC
}

// NotificationState tracks the alert episode between ticks.
type NotificationState struct {
	Armed         bool  `json:"armed"`
	LastFiredAtMs int64 `json:"last_fired_at_ms"`
}
