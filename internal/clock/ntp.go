package clock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/beevik/ntp"
	"github.com/rs/zerolog"

	"github.com/afroash/temper-node/internal/models"
)

var ErrNotSynced = errors.New("clock not synchronised")

// NTPConfig configures network time sync.
type NTPConfig struct {
	Server      string
	Timezone    string
	Layout      string
	SyncTimeout time.Duration
	// ResyncInterval is how often Run re-queries the server.
	ResyncInterval time.Duration
}

// NTPClock corrects the host clock by the offset reported by an NTP server.
// Stamp returns Unavailable until the first successful sync.
type NTPClock struct {
	config   NTPConfig
	location *time.Location
	logger   zerolog.Logger
	now      func() time.Time
	query    func(host string, opt ntp.QueryOptions) (*ntp.Response, error)

	mutex    sync.RWMutex
	offset   time.Duration
	synced   bool
	lastSync time.Time
	failures int
}

func NewNTPClock(config NTPConfig, logger zerolog.Logger) (*NTPClock, error) {
	loc, err := loadLocation(config.Timezone)
	if err != nil {
		return nil, err
	}
	if config.Layout == "" {
		config.Layout = DefaultLayout
	}
	if config.SyncTimeout <= 0 {
		config.SyncTimeout = 5 * time.Second
	}
	if config.ResyncInterval <= 0 {
		config.ResyncInterval = time.Hour
	}

	return &NTPClock{
		config:   config,
		location: loc,
		logger:   logger,
		now:      time.Now,
		query:    ntp.QueryWithOptions,
	}, nil
}

// Sync queries the server once and stores the offset.
func (c *NTPClock) Sync(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	resp, err := c.query(c.config.Server, ntp.QueryOptions{Timeout: c.config.SyncTimeout})
	if err == nil {
		err = resp.Validate()
	}
	if err != nil {
		c.mutex.Lock()
		c.failures++
		c.mutex.Unlock()
		return fmt.Errorf("ntp sync with %s failed: %w", c.config.Server, err)
	}

	c.mutex.Lock()
	c.offset = resp.ClockOffset
	c.synced = true
	c.lastSync = c.now()
	c.mutex.Unlock()

	c.logger.Info().
		Str("server", c.config.Server).
		Dur("offset", resp.ClockOffset).
		Dur("rtt", resp.RTT).
		Msg("Clock synchronised")
	return nil
}

// Run keeps the offset fresh until ctx is done.
func (c *NTPClock) Run(ctx context.Context) {
	if err := c.Sync(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Initial clock sync failed")
	}

	ticker := time.NewTicker(c.config.ResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Sync(ctx); err != nil {
				c.logger.Warn().Err(err).Msg("Clock resync failed")
			}
		}
	}
}

func (c *NTPClock) Now() time.Time {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.now().Add(c.offset)
}

func (c *NTPClock) Stamp() models.Stamp {
	c.mutex.RLock()
	synced := c.synced
	offset := c.offset
	c.mutex.RUnlock()

	if !synced {
		return models.UnavailableStamp()
	}
	return format(c.now().Add(offset), c.config.Layout, c.location)
}

// Synced reports whether at least one sync succeeded.
func (c *NTPClock) Synced() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.synced
}

// LastSync returns when the offset was last updated.
func (c *NTPClock) LastSync() (time.Time, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	if !c.synced {
		return time.Time{}, ErrNotSynced
	}
	return c.lastSync, nil
}
