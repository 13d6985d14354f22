package sensor

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/afroash/temper-node/internal/models"
)

// Stamper supplies the reading timestamp.
type Stamper interface {
	Stamp() models.Stamp
}

// Sampler takes one reading per call. Driver failures never surface as
// errors; they become Unavailable values.
type Sampler struct {
	driver Driver
	clock  Stamper
	logger zerolog.Logger

	mutex    sync.Mutex
	failures int
}

func NewSampler(driver Driver, clock Stamper, logger zerolog.Logger) *Sampler {
	return &Sampler{
		driver: driver,
		clock:  clock,
		logger: logger,
	}
}

// Sample reads the driver and the clock.
func (s *Sampler) Sample() models.Reading {
	stamp := s.clock.Stamp()

	celsius, err := s.driver.ReadCelsius()
	if err != nil {
		s.mutex.Lock()
		s.failures++
		s.mutex.Unlock()

		s.logger.Warn().Err(err).Str("driver", s.driver.Name()).Msg("Sensor read failed")
		return models.NewReading(models.Unavailable(), stamp)
	}

	reading := models.NewReading(models.Valid(celsius), stamp)
	s.logger.Debug().Str("reading", reading.String()).Msg("Sampled")
	return reading
}

// Failures returns the number of failed driver reads.
func (s *Sampler) Failures() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.failures
}

// Close releases the driver.
func (s *Sampler) Close() error {
	return s.driver.Close()
}
