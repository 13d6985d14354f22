// Package provisioning gathers network credentials through the local portal
// and drives the one-way transition into normal operation.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/temper-node/internal/models"
	"github.com/afroash/temper-node/internal/wifi"
)

var (
	ErrNotReady           = errors.New("credentials incomplete")
	ErrAssociationTimeout = errors.New("association retry ceiling reached")
	ErrAlreadyConnected   = errors.New("already connected")
)

const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultMaxAttempts  = 60
)

// State of the provisioning flow.
type State int

const (
	StateUnprovisioned State = iota
	StateCredentialsGathering
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnprovisioned:
		return "unprovisioned"
	case StateCredentialsGathering:
		return "credentials_gathering"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Gathering reports whether the portal is still accepting credentials.
func (s State) Gathering() bool {
	return s == StateUnprovisioned || s == StateCredentialsGathering
}

// Submission is one portal request. Nil fields were absent from the request.
type Submission struct {
	Security *string
	SSID     *string
	Username *string
	Password *string
	Passcode *string
}

// SubmissionFromValues picks the portal fields out of a query string.
func SubmissionFromValues(v url.Values) Submission {
	field := func(name string) *string {
		if _, ok := v[name]; !ok {
			return nil
		}
		s := v.Get(name)
		return &s
	}

	return Submission{
		Security: field("Security"),
		SSID:     field("SSID"),
		Username: field("Username"),
		Password: field("Password"),
		Passcode: field("Passcode"),
	}
}

// Notifier receives the identity notification on first connect.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification)
}

// Session is what remains once credentials are wiped.
type Session struct {
	SSID     string
	MAC      string
	IP       string
	Identity string
}

// Config for the machine.
type Config struct {
	NodeID       string
	APSSID       string
	APIP         string
	Passcode     string
	PollInterval time.Duration
	MaxAttempts  int
}

type received struct {
	security bool
	ssid     bool
	username bool
	password bool
	passcode bool
}

// Machine accumulates credentials across requests and connects once they are complete.
type Machine struct {
	config    Config
	radio     wifi.Radio
	restarter wifi.Restarter
	notifier  Notifier
	logger    zerolog.Logger
	sleep     func(ctx context.Context, d time.Duration) error

	mutex    sync.RWMutex
	state    State
	creds    models.Credentials
	received received
	session  Session
	attempts int
}

// NewMachine creates a machine in the Unprovisioned state.
func NewMachine(config Config, radio wifi.Radio, restarter wifi.Restarter, notifier Notifier, logger zerolog.Logger) *Machine {
	if config.PollInterval < 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}

	return &Machine{
		config:    config,
		radio:     radio,
		restarter: restarter,
		notifier:  notifier,
		logger:    logger,
		sleep:     sleepContext,
		state:     StateUnprovisioned,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OpenPortal advertises the access point and starts gathering.
func (m *Machine) OpenPortal() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.state != StateUnprovisioned {
		return nil
	}

	if err := m.radio.StartAccessPoint(m.config.APSSID, parseIP(m.config.APIP)); err != nil {
		return fmt.Errorf("failed to start access point: %w", err)
	}
	m.state = StateCredentialsGathering
	m.logger.Info().Str("ap_ssid", m.config.APSSID).Msg("Provisioning portal open")
	return nil
}

// Submit merges the present fields into the gathered credentials. A wrong
// passcode is stored but does not count as received. Returns Ready().
func (m *Machine) Submit(s Submission) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.state.Gathering() {
		return false
	}
	m.state = StateCredentialsGathering

	if s.Security != nil {
		kind, ok := models.ParseSecurityKind(*s.Security)
		m.creds.Security = kind
		m.received.security = ok
	}
	if s.SSID != nil {
		m.creds.SSID = *s.SSID
		m.received.ssid = *s.SSID != ""
	}
	if s.Username != nil {
		m.creds.Username = *s.Username
		m.received.username = *s.Username != ""
	}
	if s.Password != nil {
		m.creds.Password = *s.Password
		m.received.password = *s.Password != ""
	}
	if s.Passcode != nil {
		m.creds.Passcode = *s.Passcode
		m.received.passcode = *s.Passcode == m.config.Passcode
		if !m.received.passcode {
			m.logger.Warn().Msg("Portal passcode mismatch")
		}
	}

	return m.readyLocked()
}

// Ready reports whether Connect may proceed.
func (m *Machine) Ready() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.readyLocked()
}

func (m *Machine) readyLocked() bool {
	if !m.state.Gathering() {
		return false
	}
	r := m.received
	if !r.security || !r.ssid || !r.passcode {
		return false
	}

	switch m.creds.Security {
	case models.SecurityNone:
		return true
	case models.SecurityPersonal:
		return r.password
	case models.SecurityEnterprise:
		return r.username && r.password
	default:
		return false
	}
}

// Connect associates with the gathered network, polling every PollInterval up
// to MaxAttempts times. Reaching the ceiling restarts the process through the
// Restarter and returns ErrAssociationTimeout.
func (m *Machine) Connect(ctx context.Context) (Session, error) {
	m.mutex.Lock()
	if m.state == StateConnected {
		m.mutex.Unlock()
		return Session{}, ErrAlreadyConnected
	}
	if !m.readyLocked() {
		m.mutex.Unlock()
		return Session{}, ErrNotReady
	}
	m.state = StateConnecting
	m.attempts = 0
	creds := m.creds
	m.mutex.Unlock()

	m.logger.Info().
		Str("ssid", creds.SSID).
		Str("security", creds.Security.String()).
		Int("max_attempts", m.config.MaxAttempts).
		Msg("Connecting")

	if err := m.radio.Begin(creds); err != nil {
		m.logger.Error().Err(err).Msg("Association request rejected")
	}

	for attempt := 1; attempt <= m.config.MaxAttempts; attempt++ {
		m.mutex.Lock()
		m.attempts = attempt
		m.mutex.Unlock()

		if m.radio.Status() == wifi.StatusConnected {
			return m.finish(ctx, creds), nil
		}

		if attempt == m.config.MaxAttempts {
			break
		}
		if err := m.sleep(ctx, m.config.PollInterval); err != nil {
			m.setState(StateCredentialsGathering)
			return Session{}, fmt.Errorf("connect cancelled after %d attempts: %w", attempt, err)
		}
	}

	return Session{}, m.fail()
}

func (m *Machine) fail() error {
	m.mutex.Lock()
	m.state = StateFailed
	m.creds.Wipe()
	m.received = received{}
	attempts := m.attempts
	m.mutex.Unlock()

	m.logger.Error().Int("attempts", attempts).Msg("Association failed, restarting")

	if err := m.restarter.Restart("association timeout"); err != nil {
		return fmt.Errorf("%w: restart failed: %w", ErrAssociationTimeout, err)
	}
	return ErrAssociationTimeout
}

func (m *Machine) finish(ctx context.Context, creds models.Credentials) Session {
	session := Session{
		SSID: m.radio.SSID(),
		MAC:  m.radio.MAC(),
		IP:   m.radio.IP(),
	}
	if creds.Security == models.SecurityEnterprise {
		session.Identity = creds.Username
	}

	m.mutex.Lock()
	m.state = StateConnected
	m.session = session
	m.creds.Wipe()
	m.received = received{}
	attempts := m.attempts
	m.mutex.Unlock()

	if err := m.radio.StopAccessPoint(); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to stop access point")
	}

	m.logger.Info().
		Str("ssid", session.SSID).
		Str("ip", session.IP).
		Str("mac", session.MAC).
		Int("attempts", attempts).
		Msg("Connected")

	if m.notifier != nil {
		m.notifier.Notify(ctx, models.Notification{
			Kind: models.KindIdentity,
			Payload: models.IdentityNotification{
				Event:    models.EventDeviceOnline,
				NodeID:   m.config.NodeID,
				MAC:      session.MAC,
				IP:       session.IP,
				SSID:     session.SSID,
				Identity: session.Identity,
			},
		})
	}

	return session
}

func (m *Machine) setState(s State) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.state = s
}

func (m *Machine) State() State {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.state
}

func (m *Machine) Session() Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.session
}

// Attempts returns the number of status polls made by the last Connect.
func (m *Machine) Attempts() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.attempts
}

// credentials returns a copy of what has been gathered so far.
func (m *Machine) credentials() models.Credentials {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.creds
}

func parseIP(s string) net.IP {
	if ip := net.ParseIP(s); ip != nil {
		return ip
	}
	return net.IPv4(192, 168, 4, 1)
}
