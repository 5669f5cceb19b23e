package pgcdc

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/WildMix/Scribe/internal/scriberr"
)

// Config parameterizes a Monitor.
type Config struct {
	ConnString   string
	Mode         Mode
	Tables       []string
	PollInterval time.Duration // default 1s
	SlotName     string        // logical mode; default scribe_slot
	Publication  string        // logical mode; default scribe_pub
	BatchSize    int           // default 100
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.SlotName == "" {
		c.SlotName = "scribe_slot"
	}
	if c.Publication == "" {
		c.Publication = "scribe_pub"
	}
	return c
}

// reconnectBackoff is the pause between a failed poll and the retry.
const reconnectBackoff = time.Second

// Monitor drives a Source in a blocking loop. One monitor runs at a
// time per repository; Stop requests cessation and the loop exits
// after the current batch.
type Monitor struct {
	cfg     Config
	source  Source
	running atomic.Bool
	// sleep is injectable for tests; it must honor ctx cancellation.
	sleep func(ctx context.Context, d time.Duration)
}

// NewMonitor builds a monitor and its source from cfg.
func NewMonitor(cfg Config) (*Monitor, error) {
	if cfg.ConnString == "" {
		return nil, scriberr.New(scriberr.KindInvalidArg, "connection string is required")
	}
	cfg = cfg.withDefaults()

	var source Source
	switch cfg.Mode {
	case ModeTrigger:
		source = NewTriggerSource(cfg.ConnString, cfg.Tables)
	case ModeLogical:
		source = NewLogicalSource(cfg.ConnString, cfg.Tables, cfg.SlotName, cfg.Publication)
	default:
		return nil, scriberr.New(scriberr.KindInvalidArg, "unknown mode %d", cfg.Mode)
	}

	return &Monitor{cfg: cfg, source: source, sleep: sleepCtx}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Setup provisions the upstream capture infrastructure.
func (m *Monitor) Setup(ctx context.Context) error {
	return m.source.Setup(ctx)
}

// Cleanup tears the capture infrastructure down.
func (m *Monitor) Cleanup(ctx context.Context) error {
	return m.source.Cleanup(ctx)
}

// Close releases the source connection. Idempotent.
func (m *Monitor) Close(ctx context.Context) error {
	return m.source.Close(ctx)
}

// IsRunning reports whether the loop is active.
func (m *Monitor) IsRunning() bool {
	return m.running.Load()
}

// Stop requests the loop to exit after the current batch.
func (m *Monitor) Stop() {
	m.running.Store(false)
}

// Start runs the blocking poll loop, invoking fn for each event in
// batch order. Poll failures disconnect, back off one second, and
// reconnect without terminating the loop; the loop ends on Stop or
// when ctx is cancelled.
func (m *Monitor) Start(ctx context.Context, fn func(RowEvent)) error {
	if fn == nil {
		return scriberr.New(scriberr.KindInvalidArg, "nil event callback")
	}

	m.running.Store(true)
	defer m.running.Store(false)

	for m.running.Load() && ctx.Err() == nil {
		events, err := m.source.Poll(ctx, m.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			slog.Warn("poll failed, reconnecting", "error", err)
			m.source.Reset(ctx)
			m.sleep(ctx, reconnectBackoff)
			continue
		}

		if len(events) > 0 {
			batch := uuid.NewString()
			slog.Debug("processing batch", "batch", batch, "events", len(events))
			for _, ev := range events {
				fn(ev)
			}
		}

		m.sleep(ctx, m.cfg.PollInterval)
	}

	return nil
}
