package wifi

import (
	"errors"
	"net"
	"testing"

	"github.com/rs/zerolog"

	"github.com/afroash/temper-node/internal/models"
)

func TestHostRadio_StatusFollowsDiscovery(t *testing.T) {
	r := NewHostRadio("wlan0", zerolog.Nop())

	up := false
	r.discover = func(name string) (Link, bool) {
		if name != "wlan0" {
			t.Errorf("discover name = %q, want wlan0", name)
		}
		if !up {
			return Link{}, false
		}
		return Link{Name: "wlan0", MAC: "aa:bb:cc:dd:ee:ff", IP: net.IPv4(192, 168, 1, 20)}, true
	}

	if got := r.Status(); got != StatusIdle {
		t.Errorf("Status() before Begin = %v, want %v", got, StatusIdle)
	}

	if err := r.Begin(models.Credentials{SSID: "home", Security: models.SecurityPersonal, Password: "pw"}); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if got := r.Status(); got != StatusConnecting {
		t.Errorf("Status() = %v, want %v", got, StatusConnecting)
	}

	up = true
	if got := r.Status(); got != StatusConnected {
		t.Errorf("Status() = %v, want %v", got, StatusConnected)
	}
	if r.MAC() != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("MAC() = %q", r.MAC())
	}
	if r.IP() != "192.168.1.20" {
		t.Errorf("IP() = %q", r.IP())
	}
	if r.SSID() != "home" {
		t.Errorf("SSID() = %q, want home", r.SSID())
	}
}

func TestHostRadio_BeginRequiresSSID(t *testing.T) {
	r := NewHostRadio("", zerolog.Nop())
	if err := r.Begin(models.Credentials{}); err == nil {
		t.Error("Begin() with empty SSID should fail")
	}
}

func TestHostRadio_AccessPoint(t *testing.T) {
	r := NewHostRadio("", zerolog.Nop())
	if err := r.StartAccessPoint("temper-setup", net.IPv4(192, 168, 4, 1)); err != nil {
		t.Fatalf("StartAccessPoint() error = %v", err)
	}
	if !r.accessPointUp() {
		t.Error("accessPointUp() = false after start")
	}
	_ = r.StopAccessPoint()
	if r.accessPointUp() {
		t.Error("accessPointUp() = true after stop")
	}
}

func TestExecRestarter(t *testing.T) {
	var gotPath string
	r := NewExecRestarter(zerolog.Nop())
	r.exec = func(argv0 string, _ []string, _ []string) error {
		gotPath = argv0
		return errors.New("exec blocked in test")
	}

	if err := r.Restart("association timeout"); err == nil {
		t.Error("Restart() should surface exec failure")
	}
	if gotPath == "" {
		t.Error("exec was not called")
	}
}
