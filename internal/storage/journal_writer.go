package storage

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// JournalWriter batches journal inserts off the runtime loop. A batch that
// fails to insert stays pending and is retried with the next flush; at most
// ChannelSize events are held this way, oldest discarded first.
type JournalWriter struct {
	journal Journal
	config  JournalWriterConfig
	logger  zerolog.Logger
	queue   chan *Event

	stop chan struct{}
	once sync.Once
	done sync.WaitGroup

	mutex sync.RWMutex
	stats JournalWriterStats
}

type JournalWriterConfig struct {
	BatchSize   int           // events per insert (default 20)
	FlushPeriod time.Duration // longest an event waits in a partial batch (default 5s)
	ChannelSize int           // queue depth and pending-retry cap (default 256)
}

// DefaultJournalWriterConfig returns sensible defaults
func DefaultJournalWriterConfig() JournalWriterConfig {
	return JournalWriterConfig{
		BatchSize:   20,
		FlushPeriod: 5 * time.Second,
		ChannelSize: 256,
	}
}

// JournalWriterStats accumulates over the writer's lifetime.
type JournalWriterStats struct {
	Written     int64     `json:"written"`
	Batches     int64     `json:"batches"`
	Failures    int64     `json:"failures"`
	Dropped     int64     `json:"dropped"`
	Pending     int       `json:"pending"`
	LastWrite   time.Time `json:"last_write,omitempty"`
	QueueLength int       `json:"queue_length"`
}

// NewJournalWriter starts the background insert loop.
func NewJournalWriter(journal Journal, config JournalWriterConfig, logger zerolog.Logger) *JournalWriter {
	defaults := DefaultJournalWriterConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.FlushPeriod <= 0 {
		config.FlushPeriod = defaults.FlushPeriod
	}
	if config.ChannelSize <= 0 {
		config.ChannelSize = defaults.ChannelSize
	}

	w := &JournalWriter{
		journal: journal,
		config:  config,
		logger:  logger,
		queue:   make(chan *Event, config.ChannelSize),
		stop:    make(chan struct{}),
	}

	w.done.Add(1)
	go w.loop()

	logger.Info().
		Int("batch_size", config.BatchSize).
		Dur("flush_period", config.FlushPeriod).
		Int("channel_size", config.ChannelSize).
		Msg("Journal writer started")

	return w
}

// Record queues an event without blocking. A full queue drops it.
func (w *JournalWriter) Record(event *Event) bool {
	select {
	case w.queue <- event:
		return true
	default:
		w.mutex.Lock()
		w.stats.Dropped++
		w.mutex.Unlock()
		w.logger.Warn().Str("kind", string(event.Kind)).Msg("Journal queue full, dropping event")
		return false
	}
}

func (w *JournalWriter) loop() {
	defer w.done.Done()

	ticker := time.NewTicker(w.config.FlushPeriod)
	defer ticker.Stop()

	var pending []*Event
	for {
		select {
		case event := <-w.queue:
			pending = append(pending, event)
			if len(pending) >= w.config.BatchSize {
				pending = w.flush(pending)
			}

		case <-ticker.C:
			if len(pending) > 0 {
				pending = w.flush(pending)
			}

		case <-w.stop:
			for drained := false; !drained; {
				select {
				case event := <-w.queue:
					pending = append(pending, event)
				default:
					drained = true
				}
			}
			if len(pending) > 0 {
				if left := w.flush(pending); len(left) > 0 {
					w.logger.Error().Int("events", len(left)).Msg("Journal writer stopped with unwritten events")
				}
			}
			w.logger.Debug().Msg("Journal writer stopped")
			return
		}
	}
}

// flush inserts pending and returns what must be retried.
func (w *JournalWriter) flush(pending []*Event) []*Event {
	var err error
	if len(pending) == 1 {
		err = w.journal.Insert(pending[0])
	} else {
		err = w.journal.InsertBatch(pending)
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()

	if err == nil {
		w.stats.Written += int64(len(pending))
		w.stats.Batches++
		w.stats.LastWrite = time.Now()
		w.stats.Pending = 0
		return nil
	}

	w.stats.Failures++
	if over := len(pending) - w.config.ChannelSize; over > 0 {
		w.stats.Dropped += int64(over)
		pending = pending[over:]
	}
	w.stats.Pending = len(pending)
	w.logger.Error().Err(err).Int("pending", len(pending)).Msg("Journal insert failed, will retry")
	return pending
}

// Stop drains the queue and makes a final insert attempt. Safe to call twice.
func (w *JournalWriter) Stop() {
	w.once.Do(func() {
		close(w.stop)
		w.done.Wait()
	})
}

func (w *JournalWriter) Stats() JournalWriterStats {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	stats := w.stats
	stats.QueueLength = len(w.queue)
	return stats
}
