package provisioning

import (
	"context"
	"errors"
	"net"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/temper-node/internal/models"
	"github.com/afroash/temper-node/internal/wifi"
)

// MockRadio connects after connectAfter status polls (never when negative).
type MockRadio struct {
	mutex        sync.Mutex
	connectAfter int
	polls        int
	begun        []models.Credentials
	apStarted    bool
	apStopped    bool
}

func (r *MockRadio) StartAccessPoint(string, net.IP) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.apStarted = true
	return nil
}

func (r *MockRadio) StopAccessPoint() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.apStopped = true
	return nil
}

func (r *MockRadio) Begin(creds models.Credentials) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.begun = append(r.begun, creds)
	return nil
}

func (r *MockRadio) Status() wifi.Status {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.polls++
	if r.connectAfter >= 0 && r.polls > r.connectAfter {
		return wifi.StatusConnected
	}
	return wifi.StatusConnecting
}

func (r *MockRadio) MAC() string  { return "aa:bb:cc:dd:ee:ff" }
func (r *MockRadio) IP() string   { return "192.168.1.20" }
func (r *MockRadio) SSID() string { return "home" }

type MockRestarter struct {
	calls int
}

func (r *MockRestarter) Restart(string) error {
	r.calls++
	return nil
}

type MockNotifier struct {
	sent []models.Notification
}

func (n *MockNotifier) Notify(_ context.Context, note models.Notification) {
	n.sent = append(n.sent, note)
}

const testPasscode = "letmein"

func newTestMachine(radio *MockRadio) (*Machine, *MockRestarter, *MockNotifier) {
	restarter := &MockRestarter{}
	notifier := &MockNotifier{}
	m := NewMachine(Config{
		NodeID:       "node-1",
		APSSID:       "temper-setup",
		APIP:         "192.168.4.1",
		Passcode:     testPasscode,
		PollInterval: 0,
		MaxAttempts:  DefaultMaxAttempts,
	}, radio, restarter, notifier, zerolog.Nop())
	return m, restarter, notifier
}

func str(s string) *string { return &s }

func TestMachine_WrongPasscodeBlocksTransition(t *testing.T) {
	m, _, _ := newTestMachine(&MockRadio{})
	if err := m.OpenPortal(); err != nil {
		t.Fatalf("OpenPortal() error = %v", err)
	}

	ready := m.Submit(Submission{
		Security: str("WPA2-Personal"),
		SSID:     str("home"),
		Password: str("hunter22"),
		Passcode: str("wrong"),
	})
	if ready {
		t.Fatal("Submit() with wrong passcode reported ready")
	}
	if m.State() != StateCredentialsGathering {
		t.Errorf("State() = %v, want %v", m.State(), StateCredentialsGathering)
	}
	if m.credentials().Passcode != "wrong" {
		t.Errorf("mismatched passcode should still be stored, got %q", m.credentials().Passcode)
	}
	if _, err := m.Connect(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Errorf("Connect() error = %v, want %v", err, ErrNotReady)
	}

	if !m.Submit(Submission{Passcode: str(testPasscode)}) {
		t.Fatal("Submit() with correct passcode should report ready")
	}
}

func TestMachine_FieldsAccumulateInAnyOrder(t *testing.T) {
	m, _, _ := newTestMachine(&MockRadio{})

	steps := []Submission{
		{Passcode: str(testPasscode)},
		{Password: str("hunter22")},
		{Security: str("personal")},
	}
	for i, s := range steps {
		if m.Submit(s) {
			t.Fatalf("step %d: ready before SSID", i)
		}
	}
	if !m.Submit(Submission{SSID: str("home")}) {
		t.Fatal("Submit() should be ready after all fields")
	}
}

func TestMachine_ReadyRules(t *testing.T) {
	tests := []struct {
		name string
		sub  Submission
		want bool
	}{
		{
			name: "open network needs no password",
			sub:  Submission{Security: str("None"), SSID: str("cafe"), Passcode: str(testPasscode)},
			want: true,
		},
		{
			name: "personal without password",
			sub:  Submission{Security: str("WPA2-Personal"), SSID: str("home"), Passcode: str(testPasscode)},
			want: false,
		},
		{
			name: "enterprise without username",
			sub: Submission{
				Security: str("WPA2-Enterprise"), SSID: str("corp"),
				Password: str("pw"), Passcode: str(testPasscode),
			},
			want: false,
		},
		{
			name: "enterprise complete",
			sub: Submission{
				Security: str("WPA2-Enterprise"), SSID: str("corp"), Username: str("alice"),
				Password: str("pw"), Passcode: str(testPasscode),
			},
			want: true,
		},
		{
			name: "unknown security kind",
			sub: Submission{
				Security: str("WEP"), SSID: str("old"), Password: str("pw"), Passcode: str(testPasscode),
			},
			want: false,
		},
		{
			name: "empty SSID does not count",
			sub: Submission{
				Security: str("WPA2-Personal"), SSID: str(""), Password: str("pw"), Passcode: str(testPasscode),
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := newTestMachine(&MockRadio{})
			if got := m.Submit(tt.sub); got != tt.want {
				t.Errorf("Submit() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMachine_ConnectSuccess(t *testing.T) {
	radio := &MockRadio{connectAfter: 3}
	m, restarter, notifier := newTestMachine(radio)
	_ = m.OpenPortal()

	m.Submit(Submission{
		Security: str("WPA2-Enterprise"),
		SSID:     str("corp"),
		Username: str("alice"),
		Password: str("pw"),
		Passcode: str(testPasscode),
	})

	session, err := m.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if m.State() != StateConnected {
		t.Errorf("State() = %v, want %v", m.State(), StateConnected)
	}
	if m.Attempts() != 4 {
		t.Errorf("Attempts() = %d, want 4", m.Attempts())
	}
	if restarter.calls != 0 {
		t.Errorf("restart calls = %d, want 0", restarter.calls)
	}
	if session.Identity != "alice" {
		t.Errorf("session.Identity = %q, want alice", session.Identity)
	}
	if !radio.apStarted || !radio.apStopped {
		t.Error("access point should be started then stopped")
	}
	if len(radio.begun) != 1 || radio.begun[0].Username != "alice" {
		t.Errorf("radio.Begin calls = %+v", radio.begun)
	}

	if got := m.credentials(); got != (models.Credentials{}) {
		t.Errorf("credentials not wiped: %+v", got)
	}

	if len(notifier.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(notifier.sent))
	}
	identity, ok := notifier.sent[0].Payload.(models.IdentityNotification)
	if !ok {
		t.Fatalf("payload type = %T", notifier.sent[0].Payload)
	}
	if identity.MAC != "aa:bb:cc:dd:ee:ff" || identity.IP != "192.168.1.20" || identity.Identity != "alice" {
		t.Errorf("identity notification = %+v", identity)
	}

	if m.Submit(Submission{SSID: str("other")}) {
		t.Error("Submit() after connect should be ignored")
	}
	if _, err := m.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect() error = %v, want %v", err, ErrAlreadyConnected)
	}
}

func TestMachine_PersonalOmitsIdentity(t *testing.T) {
	m, _, notifier := newTestMachine(&MockRadio{connectAfter: 0})
	m.Submit(Submission{
		Security: str("WPA2-Personal"), SSID: str("home"), Username: str("ignored"),
		Password: str("pw"), Passcode: str(testPasscode),
	})

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	identity := notifier.sent[0].Payload.(models.IdentityNotification)
	if identity.Identity != "" {
		t.Errorf("Identity = %q, want empty for personal networks", identity.Identity)
	}
}

func TestMachine_TimeoutRestartsOnce(t *testing.T) {
	radio := &MockRadio{connectAfter: -1}
	m, restarter, notifier := newTestMachine(radio)

	sleeps := 0
	m.sleep = func(_ context.Context, d time.Duration) error {
		sleeps++
		return nil
	}

	m.Submit(Submission{
		Security: str("WPA2-Personal"), SSID: str("home"), Password: str("pw"), Passcode: str(testPasscode),
	})

	_, err := m.Connect(context.Background())
	if !errors.Is(err, ErrAssociationTimeout) {
		t.Fatalf("Connect() error = %v, want %v", err, ErrAssociationTimeout)
	}

	if restarter.calls != 1 {
		t.Errorf("restart calls = %d, want 1", restarter.calls)
	}
	if radio.polls != DefaultMaxAttempts {
		t.Errorf("status polls = %d, want %d", radio.polls, DefaultMaxAttempts)
	}
	if sleeps != DefaultMaxAttempts-1 {
		t.Errorf("sleeps = %d, want %d", sleeps, DefaultMaxAttempts-1)
	}
	if m.State() != StateFailed {
		t.Errorf("State() = %v, want %v", m.State(), StateFailed)
	}
	if len(notifier.sent) != 0 {
		t.Errorf("identity notification sent on failure")
	}
	if got := m.credentials(); got != (models.Credentials{}) {
		t.Errorf("credentials not wiped after failure: %+v", got)
	}
}

func TestMachine_ConnectCancelled(t *testing.T) {
	m, restarter, _ := newTestMachine(&MockRadio{connectAfter: -1})
	m.Submit(Submission{
		Security: str("None"), SSID: str("cafe"), Passcode: str(testPasscode),
	})

	ctx, cancel := context.WithCancel(context.Background())
	m.sleep = func(context.Context, time.Duration) error {
		cancel()
		return ctx.Err()
	}

	if _, err := m.Connect(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Connect() error = %v, want context.Canceled", err)
	}
	if restarter.calls != 0 {
		t.Errorf("restart calls = %d, want 0", restarter.calls)
	}
	if m.State() != StateCredentialsGathering {
		t.Errorf("State() = %v, want %v", m.State(), StateCredentialsGathering)
	}
}

func TestSubmissionFromValues(t *testing.T) {
	v, _ := url.ParseQuery("SSID=home&Password=&Passcode=abc")
	s := SubmissionFromValues(v)

	if s.SSID == nil || *s.SSID != "home" {
		t.Errorf("SSID = %v", s.SSID)
	}
	if s.Password == nil || *s.Password != "" {
		t.Errorf("Password should be present and empty")
	}
	if s.Security != nil || s.Username != nil {
		t.Error("absent fields should be nil")
	}
}

func TestState_String(t *testing.T) {
	if StateConnecting.String() != "connecting" {
		t.Errorf("String() = %q", StateConnecting.String())
	}
	if !StateUnprovisioned.Gathering() || StateConnected.Gathering() {
		t.Error("Gathering() mismatch")
	}
}
