package clock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/beevik/ntp"
	"github.com/rs/zerolog"

	"github.com/afroash/temper-node/internal/models"
)

func TestSystemClock_Stamp(t *testing.T) {
	c, err := NewSystemClock("", "UTC")
	if err != nil {
		t.Fatalf("NewSystemClock() error = %v", err)
	}
	c.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }

	if got := c.Stamp().String(); got != "2026-03-04 05:06:07" {
		t.Errorf("Stamp() = %q", got)
	}
}

func TestSystemClock_UnsetClockIsUnavailable(t *testing.T) {
	c, _ := NewSystemClock("", "UTC")
	c.now = func() time.Time { return time.Unix(0, 0) }

	if !c.Stamp().IsUnavailable() {
		t.Errorf("Stamp() = %q, want %q", c.Stamp().String(), models.Sentinel)
	}
}

func TestSystemClock_BadTimezone(t *testing.T) {
	if _, err := NewSystemClock("", "Mars/Olympus"); err == nil {
		t.Error("NewSystemClock() with unknown zone should fail")
	}
}

func newTestNTPClock(t *testing.T) *NTPClock {
	t.Helper()
	c, err := NewNTPClock(NTPConfig{Server: "pool.example", Timezone: "UTC"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewNTPClock() error = %v", err)
	}
	c.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }
	return c
}

func TestNTPClock_UnavailableUntilSynced(t *testing.T) {
	c := newTestNTPClock(t)
	c.query = func(string, ntp.QueryOptions) (*ntp.Response, error) {
		return nil, errors.New("no route to host")
	}

	if err := c.Sync(context.Background()); err == nil {
		t.Fatal("Sync() should fail")
	}
	if !c.Stamp().IsUnavailable() {
		t.Errorf("Stamp() = %q before sync, want sentinel", c.Stamp().String())
	}
	if _, err := c.LastSync(); !errors.Is(err, ErrNotSynced) {
		t.Errorf("LastSync() error = %v, want %v", err, ErrNotSynced)
	}
}

func TestNTPClock_AppliesOffset(t *testing.T) {
	c := newTestNTPClock(t)
	c.query = func(host string, opt ntp.QueryOptions) (*ntp.Response, error) {
		if host != "pool.example" {
			t.Errorf("host = %q", host)
		}
		now := time.Now()
		return &ntp.Response{
			ClockOffset:   90 * time.Second,
			Stratum:       2,
			Time:          now,
			ReferenceTime: now,
		}, nil
	}

	if err := c.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if !c.Synced() {
		t.Error("Synced() = false")
	}
	if got := c.Stamp().String(); got != "2026-03-04 05:07:37" {
		t.Errorf("Stamp() = %q, want offset applied", got)
	}
	if got := c.Now(); !got.Equal(time.Date(2026, 3, 4, 5, 7, 37, 0, time.UTC)) {
		t.Errorf("Now() = %v", got)
	}
}

func TestNTPClock_RejectsInvalidResponse(t *testing.T) {
	c := newTestNTPClock(t)
	c.query = func(string, ntp.QueryOptions) (*ntp.Response, error) {
		return &ntp.Response{Stratum: 0}, nil
	}

	if err := c.Sync(context.Background()); err == nil {
		t.Error("Sync() should reject a kiss-of-death response")
	}
	if c.Synced() {
		t.Error("Synced() = true after invalid response")
	}
}
