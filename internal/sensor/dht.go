package sensor

import (
	"fmt"

	"github.com/afroash/dht"
)

// DHT11Driver reads a DHT11 on a GPIO pin.
type DHT11Driver struct {
	pin        int
	maxRetries int
	sensor     *dht.Sensor
}

// NewDHT11Driver opens the GPIO line for pin.
func NewDHT11Driver(pin, retries int) (*DHT11Driver, error) {
	if retries <= 0 {
		retries = 3
	}

	sensor, err := dht.NewDHT11(pin)
	if err != nil {
		return nil, fmt.Errorf("failed to open DHT11 on pin %d: %w", pin, err)
	}

	return &DHT11Driver{
		pin:        pin,
		maxRetries: retries,
		sensor:     sensor,
	}, nil
}

// ReadCelsius performs a reading with retry. The humidity channel is used only
// to sanity check the frame.
func (d *DHT11Driver) ReadCelsius() (float64, error) {
	reading, err := d.sensor.ReadRetry(d.maxRetries)
	if err != nil {
		return 0, fmt.Errorf("after %d retries, failed to read from sensor: %w", d.maxRetries, err)
	}
	if err := validateReading(reading.Temperature, reading.Humidity); err != nil {
		return 0, fmt.Errorf("invalid reading: %w", err)
	}

	return reading.Temperature, nil
}

func (d *DHT11Driver) Name() string {
	return fmt.Sprintf("dht11(pin=%d)", d.pin)
}

// Close releases the GPIO line.
func (d *DHT11Driver) Close() error {
	return d.sensor.Close()
}

// validateReading checks if temperature and humidity values are reasonable
func validateReading(temp, humidity float64) error {
	// DHT11 datasheet range with some slack.
	const (
		minTemp     = -20.0
		maxTemp     = 60.0
		minHumidity = 0.0
		maxHumidity = 100.0
	)
	if temp < minTemp || temp > maxTemp {
		return fmt.Errorf("temperature %.1f°C outside %.0f..%.0f°C", temp, minTemp, maxTemp)
	}
	if humidity < minHumidity || humidity > maxHumidity {
		return fmt.Errorf("humidity %.1f%% outside 0..100%%", humidity)
	}
	return nil
}
