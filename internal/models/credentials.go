package models

import "strings"

// SecurityKind is the wireless authentication scheme chosen in the portal.
type SecurityKind int

const (
	SecurityUnknown SecurityKind = iota
	SecurityNone
	SecurityPersonal
	SecurityEnterprise
)

func (k SecurityKind) String() string {
	switch k {
	case SecurityNone:
		return "none"
	case SecurityPersonal:
		return "wpa2-personal"
	case SecurityEnterprise:
		return "wpa2-enterprise"
	default:
		return "unknown"
	}
}

// ParseSecurityKind accepts the portal's option values and short names.
func ParseSecurityKind(s string) (SecurityKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "open":
		return SecurityNone, true
	case "wpa2-personal", "personal", "psk":
		return SecurityPersonal, true
	case "wpa2-enterprise", "enterprise", "eap":
		return SecurityEnterprise, true
	default:
		return SecurityUnknown, false
	}
}

// Credentials are held only until association succeeds.
type Credentials struct {
	Security SecurityKind
	SSID     string
	Username string
	Password string
	Passcode string
}

// Wipe clears every field.
func (c *Credentials) Wipe() {
	*c = Credentials{}
}
