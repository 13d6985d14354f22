package storage

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultCleanupPeriod = time.Hour

// RetentionCleaner keeps the journal small enough for an SD card. Each pass
// expires events older than RetentionDays, then trims the oldest rows beyond
// MaxEvents.
type RetentionCleaner struct {
	journal Journal
	config  RetentionCleanerConfig
	logger  zerolog.Logger

	stop chan struct{}
	once sync.Once
	done sync.WaitGroup

	mutex sync.RWMutex
	stats RetentionCleanerStats
}

type RetentionCleanerConfig struct {
	RetentionDays int // zero disables age expiry
	MaxEvents     int // zero disables the row cap
	CleanupPeriod time.Duration
}

// RetentionCleanerStats accumulates over the cleaner's lifetime.
type RetentionCleanerStats struct {
	Runs          int64     `json:"runs"`
	Failures      int64     `json:"failures"`
	Expired       int64     `json:"expired"`
	Trimmed       int64     `json:"trimmed"`
	LastRun       time.Time `json:"last_run,omitempty"`
	LastPruned    int64     `json:"last_pruned"`
	RetentionDays int       `json:"retention_days"`
	MaxEvents     int       `json:"max_events"`
}

// PruneResult is the outcome of one pass.
type PruneResult struct {
	Expired int64
	Trimmed int64
}

func (r PruneResult) Total() int64 {
	return r.Expired + r.Trimmed
}

// NewRetentionCleaner starts pruning immediately and then every CleanupPeriod.
func NewRetentionCleaner(journal Journal, config RetentionCleanerConfig, logger zerolog.Logger) *RetentionCleaner {
	if config.CleanupPeriod <= 0 {
		logger.Warn().
			Dur("cleanup_period", config.CleanupPeriod).
			Dur("using", defaultCleanupPeriod).
			Msg("Cleanup period must be positive")
		config.CleanupPeriod = defaultCleanupPeriod
	}

	c := &RetentionCleaner{
		journal: journal,
		config:  config,
		logger:  logger,
		stop:    make(chan struct{}),
		stats: RetentionCleanerStats{
			RetentionDays: config.RetentionDays,
			MaxEvents:     config.MaxEvents,
		},
	}

	c.done.Add(1)
	go c.loop()

	logger.Info().
		Int("retention_days", config.RetentionDays).
		Int("max_events", config.MaxEvents).
		Dur("cleanup_period", config.CleanupPeriod).
		Msg("Journal retention started")

	return c
}

func (c *RetentionCleaner) loop() {
	defer c.done.Done()

	ticker := time.NewTicker(c.config.CleanupPeriod)
	defer ticker.Stop()

	c.Prune()
	for {
		select {
		case <-c.stop:
			c.logger.Debug().Msg("Journal retention stopped")
			return
		case <-ticker.C:
			c.Prune()
		}
	}
}

// Prune runs one pass now. Trimming is skipped when expiry fails.
func (c *RetentionCleaner) Prune() (PruneResult, error) {
	var (
		res PruneResult
		err error
	)
	if c.config.RetentionDays > 0 {
		res.Expired, err = c.journal.DeleteOlderThan(c.config.RetentionDays)
	}
	if err == nil && c.config.MaxEvents > 0 {
		res.Trimmed, err = c.journal.KeepNewest(c.config.MaxEvents)
	}

	c.mutex.Lock()
	c.stats.Runs++
	c.stats.LastRun = time.Now()
	c.stats.Expired += res.Expired
	c.stats.Trimmed += res.Trimmed
	c.stats.LastPruned = res.Total()
	if err != nil {
		c.stats.Failures++
	}
	c.mutex.Unlock()

	switch {
	case err != nil:
		c.logger.Error().Err(err).Msg("Journal prune failed")
	case res.Total() > 0:
		c.logger.Info().
			Int64("expired", res.Expired).
			Int64("trimmed", res.Trimmed).
			Msg("Journal pruned")
	}
	return res, err
}

func (c *RetentionCleaner) Stop() {
	c.once.Do(func() {
		close(c.stop)
		c.done.Wait()
	})
}

func (c *RetentionCleaner) Stats() RetentionCleanerStats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.stats
}
