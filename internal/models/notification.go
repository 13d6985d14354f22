package models

// NotificationKind names an outbound event.
type NotificationKind string

const (
	KindIdentity NotificationKind = "identity"
	KindAlert    NotificationKind = "alert"
)

// Notification is what the runtime hands to a sink. Payload is one of the
// *Notification structs below.
type Notification struct {
	Kind    NotificationKind
	Payload interface{}
}

// IdentityNotification is sent once when the node first joins the network.
type IdentityNotification struct {
	Event    string `json:"event"`
	NodeID   string `json:"node_id"`
	MAC      string `json:"mac"`
	IP       string `json:"ip"`
	SSID     string `json:"ssid"`
	Identity string `json:"identity,omitempty"`
}

// AlertNotification is sent whenever the alert policy fires.
type AlertNotification struct {
	Event        string  `json:"event"`
	NodeID       string  `json:"node_id"`
	TemperatureC Measure `json:"temperatureC"`
	TemperatureF Measure `json:"temperatureF"`
	CurrentTime  Stamp   `json:"currentTime"`
	MinTemp      float64 `json:"minTemp"`
	MaxTemp      float64 `json:"maxTemp"`
	Reason       string  `json:"reason"`
}

const (
	EventDeviceOnline = "device_online"
	EventTemperature  = "temperature_alert"
)
