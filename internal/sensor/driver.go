// Package sensor turns a temperature driver and a clock into Readings.
package sensor

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Driver is the temperature sensor capability.
type Driver interface {
	// ReadCelsius returns the current temperature. A DS18B20-style
	// disconnected probe may report -127 without an error.
	ReadCelsius() (float64, error)
	Name() string
	Close() error
}

// Open builds the driver named in config.
func Open(driver string, pin, retries int) (Driver, error) {
	switch driver {
	case "dht11":
		return NewDHT11Driver(pin, retries)
	case "sim", "":
		return NewSimDriver(22.5, time.Now().UnixNano()), nil
	default:
		return nil, fmt.Errorf("unknown sensor driver %q", driver)
	}
}

// SimDriver produces a bounded random walk for running without hardware.
type SimDriver struct {
	mutex   sync.Mutex
	rng     *rand.Rand
	base    float64
	current float64
	step    float64
	spread  float64
	closed  bool
}

// NewSimDriver walks around base starting from it.
func NewSimDriver(base float64, seed int64) *SimDriver {
	return &SimDriver{
		rng:     rand.New(rand.NewSource(seed)),
		base:    base,
		current: base,
		step:    0.4,
		spread:  5,
	}
}

func (s *SimDriver) ReadCelsius() (float64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return 0, fmt.Errorf("simulated sensor closed")
	}

	s.current += (s.rng.Float64()*2 - 1) * s.step
	if s.current > s.base+s.spread {
		s.current = s.base + s.spread
	}
	if s.current < s.base-s.spread {
		s.current = s.base - s.spread
	}
	return s.current, nil
}

func (s *SimDriver) Name() string { return "sim" }

func (s *SimDriver) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.closed = true
	return nil
}
