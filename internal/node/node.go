// Package node runs the device lifecycle: provisioning, then periodic
// sampling, alert evaluation and history append.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/temper-node/internal/alert"
	"github.com/afroash/temper-node/internal/captive"
	"github.com/afroash/temper-node/internal/metrics"
	"github.com/afroash/temper-node/internal/models"
	"github.com/afroash/temper-node/internal/notify"
	"github.com/afroash/temper-node/internal/provisioning"
	"github.com/afroash/temper-node/internal/storage"
)

const (
	DefaultSamplingInterval = 5 * time.Minute
	DefaultTickInterval     = 200 * time.Millisecond
)

// Sampler produces one reading per call and never fails.
type Sampler interface {
	Sample() models.Reading
	Close() error
}

// SamplerOpener initialises the sensor once the node is online.
type SamplerOpener func() (Sampler, error)

// Clock drives the loop and stamps readings taken without a sampler.
type Clock interface {
	Now() time.Time
	Stamp() models.Stamp
}

// DNSResponder is serviced on every tick.
type DNSResponder interface {
	ServePending() int
}

// ReadingPublisher receives each appended reading (MQTT telemetry).
type ReadingPublisher interface {
	PublishReading(ctx context.Context, r models.Reading) error
}

// Broadcaster pushes each appended reading to live subscribers.
type Broadcaster interface {
	BroadcastReading(r models.Reading)
}

// Config holds the runtime settings.
type Config struct {
	NodeID           string
	Version          string
	SamplingInterval time.Duration
	TickInterval     time.Duration
	Thresholds       models.Thresholds
	Alert            alert.Options
}

// Deps are the collaborators. Only Machine, Ring, Clock and Dispatcher are required.
type Deps struct {
	Machine     *provisioning.Machine
	Ring        *storage.Ring
	Clock       Clock
	Dispatcher  *Dispatcher
	OpenSampler SamplerOpener
	DNS         DNSResponder
	Telemetry   ReadingPublisher
	Stream      Broadcaster
	Metrics     *metrics.Metrics
}

// Info is the status shown on the settings panel.
type Info struct {
	NodeID     string
	Version    string
	SSID       string
	IP         string
	Uptime     time.Duration
	State      provisioning.State
	Thresholds models.Thresholds
}

// ClockStatus is reported for clocks that synchronise.
type ClockStatus struct {
	Synced   bool       `json:"synced"`
	LastSync *time.Time `json:"last_sync,omitempty"`
}

// Status is the runtime snapshot served on /health.
type Status struct {
	Online          bool                        `json:"online"`
	Cursor          int                         `json:"cursor"`
	Ring            storage.RingStats           `json:"ring"`
	Notification    models.NotificationState    `json:"notification"`
	SamplerFailures int                         `json:"sampler_failures"`
	Clock           *ClockStatus                `json:"clock,omitempty"`
	DNS             *captive.Stats              `json:"dns,omitempty"`
	JournalWriter   *storage.JournalWriterStats `json:"journal_writer,omitempty"`
}

// SettingsUpdate carries the fields present in a settings request.
type SettingsUpdate struct {
	MinC           *float64
	MaxC           *float64
	NotifyInterval *time.Duration
}

// Node is the shared context for the runtime loop and the HTTP handlers.
// Every field below mutex is written only while holding it.
type Node struct {
	config Config
	deps   Deps
	info   *models.NodeInfo
	logger zerolog.Logger

	mutex        sync.RWMutex
	thresholds   models.Thresholds
	notification models.NotificationState
	sampler      Sampler
	lastSample   time.Time
	online       bool
}

func New(config Config, deps Deps, logger zerolog.Logger) (*Node, error) {
	if deps.Machine == nil || deps.Ring == nil || deps.Clock == nil || deps.Dispatcher == nil {
		return nil, errors.New("node requires machine, ring, clock and dispatcher")
	}
	if config.SamplingInterval <= 0 {
		config.SamplingInterval = DefaultSamplingInterval
	}
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultTickInterval
	}

	return &Node{
		config:     config,
		deps:       deps,
		info:       models.NewNodeInfo(config.NodeID, config.Version),
		logger:     logger,
		thresholds: config.Thresholds,
	}, nil
}

// Run opens the portal and ticks until ctx is done or provisioning fails fatally.
func (n *Node) Run(ctx context.Context) error {
	if err := n.deps.Machine.OpenPortal(); err != nil {
		return fmt.Errorf("failed to open provisioning portal: %w", err)
	}

	ticker := time.NewTicker(n.config.TickInterval)
	defer ticker.Stop()
	defer n.closeSampler()

	n.logger.Info().
		Dur("sampling_interval", n.config.SamplingInterval).
		Dur("tick", n.config.TickInterval).
		Msg("Runtime loop started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := n.Tick(ctx, n.deps.Clock.Now()); err != nil {
				if errors.Is(err, provisioning.ErrAssociationTimeout) {
					return err
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				n.logger.Error().Err(err).Msg("Tick failed")
			}
		}
	}
}

// Tick performs one pass of the loop.
func (n *Node) Tick(ctx context.Context, now time.Time) error {
	if n.deps.DNS != nil {
		n.deps.DNS.ServePending()
	}

	machine := n.deps.Machine
	state := machine.State()
	n.deps.Metrics.ProvisioningState(int(state))

	if state.Gathering() && machine.Ready() {
		_, err := machine.Connect(ctx)
		n.deps.Metrics.AssociationAttempts(machine.Attempts())
		n.deps.Metrics.ProvisioningState(int(machine.State()))
		if err != nil {
			return err
		}
		n.goOnline(ctx, now)
		return nil
	}

	if state != provisioning.StateConnected {
		return nil
	}

	n.mutex.RLock()
	online := n.online
	due := now.Sub(n.lastSample) >= n.config.SamplingInterval
	n.mutex.RUnlock()

	if !online {
		n.goOnline(ctx, now)
		return nil
	}
	if due {
		n.sampleAndEvaluate(ctx, now)
	}
	return nil
}

// goOnline initialises the sensor and appends one immediate sample.
func (n *Node) goOnline(ctx context.Context, now time.Time) {
	n.ensureSampler()

	n.mutex.Lock()
	n.online = true
	n.mutex.Unlock()

	n.logger.Info().Msg("Monitoring started")
	n.record(ctx, n.sample(), now)
}

func (n *Node) ensureSampler() Sampler {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	if n.sampler != nil || n.deps.OpenSampler == nil {
		return n.sampler
	}

	s, err := n.deps.OpenSampler()
	if err != nil {
		n.logger.Error().Err(err).Msg("Sensor init failed, readings will be unavailable")
		return nil
	}
	n.sampler = s
	return s
}

func (n *Node) sample() models.Reading {
	if s := n.ensureSampler(); s != nil {
		return s.Sample()
	}
	return models.NewReading(models.Unavailable(), n.deps.Clock.Stamp())
}

func (n *Node) sampleAndEvaluate(ctx context.Context, now time.Time) {
	reading := n.sample()

	n.mutex.Lock()
	th := n.thresholds
	decision := alert.Evaluate(reading, th, n.notification, now.UnixMilli(), n.config.Alert)
	n.notification = decision.State
	n.mutex.Unlock()

	if decision.Fire {
		n.deps.Metrics.AlertFired(string(decision.Reason))
		n.logger.Warn().
			Str("temperature_c", reading.Celsius.String()).
			Float64("min_c", th.MinC).
			Float64("max_c", th.MaxC).
			Str("reason", string(decision.Reason)).
			Msg("Temperature alert")

		n.deps.Dispatcher.Notify(ctx, models.Notification{
			Kind: models.KindAlert,
			Payload: models.AlertNotification{
				Event:        models.EventTemperature,
				NodeID:       n.config.NodeID,
				TemperatureC: reading.Celsius,
				TemperatureF: reading.Fahrenheit,
				CurrentTime:  reading.Time,
				MinTemp:      th.MinC,
				MaxTemp:      th.MaxC,
				Reason:       string(decision.Reason),
			},
		})
	}

	n.record(ctx, reading, now)
}

// record appends to history and fans the reading out to live consumers.
func (n *Node) record(ctx context.Context, reading models.Reading, now time.Time) {
	n.deps.Ring.Append(reading)

	n.mutex.Lock()
	n.lastSample = now
	n.mutex.Unlock()

	c, ok := reading.Celsius.Value()
	n.deps.Metrics.Sample(c, ok)

	if n.deps.Stream != nil {
		n.deps.Stream.BroadcastReading(reading)
	}
	if n.deps.Telemetry != nil {
		if err := n.deps.Telemetry.PublishReading(ctx, reading); err != nil && !errors.Is(err, notify.ErrSinkDisabled) {
			n.logger.Warn().Err(err).Msg("Telemetry publish failed")
		}
	}
}

func (n *Node) closeSampler() {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	if n.sampler == nil {
		return
	}
	if err := n.sampler.Close(); err != nil {
		n.logger.Warn().Err(err).Msg("Sensor close failed")
	}
	n.sampler = nil
}

// Submit forwards portal fields to the provisioning machine.
func (n *Node) Submit(s provisioning.Submission) bool {
	return n.deps.Machine.Submit(s)
}

// State returns the provisioning state.
func (n *Node) State() provisioning.State {
	return n.deps.Machine.State()
}

// Snapshot returns the history in slot order.
func (n *Node) Snapshot() []models.Reading {
	return n.deps.Ring.Snapshot()
}

// Latest returns the most recent appended reading.
func (n *Node) Latest() (models.Reading, bool) {
	return n.deps.Ring.Latest()
}

func (n *Node) Thresholds() models.Thresholds {
	n.mutex.RLock()
	defer n.mutex.RUnlock()
	return n.thresholds
}

// UpdateSettings overwrites the present fields. No range checks are applied.
func (n *Node) UpdateSettings(u SettingsUpdate) models.Thresholds {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	if u.MinC != nil {
		n.thresholds.MinC = *u.MinC
	}
	if u.MaxC != nil {
		n.thresholds.MaxC = *u.MaxC
	}
	if u.NotifyInterval != nil {
		n.thresholds.NotifyInterval = *u.NotifyInterval
	}

	n.logger.Info().
		Float64("min_c", n.thresholds.MinC).
		Float64("max_c", n.thresholds.MaxC).
		Dur("notify_interval", n.thresholds.NotifyInterval).
		Msg("Settings updated")

	return n.thresholds
}

// Status gathers counters from whichever collaborators expose them.
func (n *Node) Status() Status {
	n.mutex.RLock()
	status := Status{
		Online:       n.online,
		Notification: n.notification,
	}
	if f, ok := n.sampler.(interface{ Failures() int }); ok {
		status.SamplerFailures = f.Failures()
	}
	n.mutex.RUnlock()

	status.Cursor = n.deps.Ring.Cursor()
	status.Ring = n.deps.Ring.Stats()

	if c, ok := n.deps.Clock.(interface {
		Synced() bool
		LastSync() (time.Time, error)
	}); ok {
		status.Clock = &ClockStatus{Synced: c.Synced()}
		if at, err := c.LastSync(); err == nil {
			status.Clock.LastSync = &at
		}
	}
	if d, ok := n.deps.DNS.(interface{ Stats() captive.Stats }); ok {
		stats := d.Stats()
		status.DNS = &stats
	}
	if stats, ok := n.deps.Dispatcher.JournalStats(); ok {
		status.JournalWriter = &stats
	}
	return status
}

func (n *Node) Info() Info {
	session := n.deps.Machine.Session()
	return Info{
		NodeID:     n.info.ID,
		Version:    n.info.Version,
		SSID:       session.SSID,
		IP:         session.IP,
		Uptime:     n.info.Uptime(),
		State:      n.deps.Machine.State(),
		Thresholds: n.Thresholds(),
	}
}
