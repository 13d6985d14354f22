// Package wifi holds the radio capability the provisioning flow drives.
package wifi

import (
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/afroash/temper-node/internal/models"
)

// Status is the association state reported by a radio.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Radio is the wireless capability. Begin starts an association and returns
// immediately; callers poll Status.
type Radio interface {
	StartAccessPoint(ssid string, ip net.IP) error
	StopAccessPoint() error
	Begin(creds models.Credentials) error
	Status() Status
	MAC() string
	IP() string
	SSID() string
}

// Link describes one usable host interface.
type Link struct {
	Name string
	MAC  string
	IP   net.IP
}

// HostRadio treats the host's own network stack as the association target.
// It reports Connected once a non-loopback interface with an IPv4 address is
// up, which is what a node running under a supervisor on Linux sees after
// wpa_supplicant or NetworkManager finishes.
type HostRadio struct {
	iface    string
	discover func(name string) (Link, bool)
	logger   zerolog.Logger

	mutex   sync.RWMutex
	ssid    string
	begun   bool
	apUp    bool
	current Link
}

// NewHostRadio watches iface, or every interface when iface is empty.
func NewHostRadio(iface string, logger zerolog.Logger) *HostRadio {
	return &HostRadio{
		iface:    iface,
		discover: discoverLink,
		logger:   logger,
	}
}

func (r *HostRadio) StartAccessPoint(ssid string, ip net.IP) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.apUp = true
	r.logger.Info().Str("ap_ssid", ssid).Str("ap_ip", ip.String()).Msg("Access point advertised")
	return nil
}

func (r *HostRadio) StopAccessPoint() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.apUp = false
	return nil
}

func (r *HostRadio) accessPointUp() bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.apUp
}

func (r *HostRadio) Begin(creds models.Credentials) error {
	if creds.SSID == "" {
		return fmt.Errorf("cannot associate: empty SSID")
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.ssid = creds.SSID
	r.begun = true
	r.current = Link{}

	r.logger.Info().
		Str("ssid", creds.SSID).
		Str("security", creds.Security.String()).
		Msg("Association started")
	return nil
}

func (r *HostRadio) Status() Status {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.begun {
		return StatusIdle
	}
	link, ok := r.discover(r.iface)
	if !ok {
		return StatusConnecting
	}
	r.current = link
	return StatusConnected
}

func (r *HostRadio) MAC() string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.current.MAC
}

func (r *HostRadio) IP() string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if r.current.IP == nil {
		return ""
	}
	return r.current.IP.String()
}

func (r *HostRadio) SSID() string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.ssid
}

func discoverLink(name string) (Link, bool) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return Link{}, false
	}

	for _, iface := range ifaces {
		if name != "" && iface.Name != name {
			continue
		}
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ip4 := ipNet.IP.To4(); ip4 != nil {
				return Link{Name: iface.Name, MAC: iface.HardwareAddr.String(), IP: ip4}, true
			}
		}
	}

	return Link{}, false
}
