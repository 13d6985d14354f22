package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Sentinel is the wire form of a value the sensor or clock could not provide.
const Sentinel = "--"

// DisconnectedC is the value a one-wire probe reports when it is missing from the bus.
const DisconnectedC = -127.0

type valueState uint8

const (
	stateEmpty valueState = iota
	stateUnavailable
	stateValid
)

// Measure is a temperature field. The zero value is an unwritten slot and
// serializes as "", Unavailable serializes as "--".
type Measure struct {
	value float64
	state valueState
}

// Valid wraps a real measurement.
func Valid(v float64) Measure {
	return Measure{value: v, state: stateValid}
}

// Unavailable marks a measurement the driver could not produce.
func Unavailable() Measure {
	return Measure{state: stateUnavailable}
}

// Value returns the measurement and whether it is valid.
func (m Measure) Value() (float64, bool) {
	return m.value, m.state == stateValid
}

func (m Measure) IsEmpty() bool       { return m.state == stateEmpty }
func (m Measure) IsUnavailable() bool { return m.state == stateUnavailable }

// String renders the measure with two decimals, the sentinel, or "".
func (m Measure) String() string {
	switch m.state {
	case stateValid:
		return strconv.FormatFloat(m.value, 'f', 2, 64)
	case stateUnavailable:
		return Sentinel
	default:
		return ""
	}
}

func (m Measure) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts the text forms produced by MarshalJSON.
func (m *Measure) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*m = ParseMeasure(s)
	return nil
}

// ParseMeasure converts text back into a Measure. Anything that is not a
// number and not empty is treated as unavailable.
func ParseMeasure(s string) Measure {
	if s == "" {
		return Measure{}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Unavailable()
	}
	return Valid(v)
}

// Stamp is a formatted local timestamp with the same three states as Measure.
type Stamp struct {
	text  string
	state valueState
}

// StampOf wraps a formatted timestamp.
func StampOf(text string) Stamp {
	return Stamp{text: text, state: stateValid}
}

// UnavailableStamp marks a timestamp the clock service could not produce.
func UnavailableStamp() Stamp {
	return Stamp{state: stateUnavailable}
}

func (s Stamp) IsUnavailable() bool { return s.state == stateUnavailable }

func (s Stamp) String() string {
	switch s.state {
	case stateValid:
		return s.text
	case stateUnavailable:
		return Sentinel
	default:
		return ""
	}
}

func (s Stamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Stamp) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	switch text {
	case "":
		*s = Stamp{}
	case Sentinel:
		*s = UnavailableStamp()
	default:
		*s = StampOf(text)
	}
	return nil
}

// Reading is one sample in both units. It is a value type and is never
// mutated after NewReading returns it.
type Reading struct {
	Celsius    Measure `json:"temperatureC"`
	Fahrenheit Measure `json:"temperatureF"`
	Time       Stamp   `json:"currentTime"`
}

// NewReading builds a Reading from a Celsius measure, deriving Fahrenheit.
// A disconnected probe value is folded into Unavailable.
func NewReading(celsius Measure, stamp Stamp) Reading {
	if v, ok := celsius.Value(); ok && v == DisconnectedC {
		celsius = Unavailable()
	}
	fahrenheit := Unavailable()
	if v, ok := celsius.Value(); ok {
		fahrenheit = Valid(CelsiusToFahrenheit(v))
	}
	return Reading{
		Celsius:    celsius,
		Fahrenheit: fahrenheit,
		Time:       stamp,
	}
}

// IsEmpty reports whether r is an unwritten placeholder slot.
func (r Reading) IsEmpty() bool {
	return r.Celsius.IsEmpty() && r.Fahrenheit.IsEmpty() && r.Time.state == stateEmpty
}

func (r Reading) String() string {
	return fmt.Sprintf("Reading{C: %s, F: %s, Time: %s}", r.Celsius, r.Fahrenheit, r.Time)
}

// CelsiusToFahrenheit converts a temperature.
func CelsiusToFahrenheit(c float64) float64 {
	return c*9/5 + 32
}
