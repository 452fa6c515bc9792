package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Refresher reloads cached state from the hub.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// RefresherFunc is a function adapter for Refresher.
type RefresherFunc func(ctx context.Context) error

func (f RefresherFunc) Refresh(ctx context.Context) error {
	return f(ctx)
}

// Config holds poller configuration.
type Config struct {
	Interval time.Duration // Poll interval (default: 5m)
	Timeout  time.Duration // Per-cycle timeout (default: 30s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Minute,
		Timeout:  30 * time.Second,
	}
}

// Stats counts poll cycles.
type Stats struct {
	Cycles   int64
	Failures int64
}

// Poller periodically resyncs the state cache.
type Poller struct {
	cfg    Config
	target Refresher
	logger *slog.Logger

	cycles   atomic.Int64
	failures atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, target Refresher, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Poller{
		cfg:    cfg,
		target: target,
		logger: logger,
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("state poller started", "interval", p.cfg.Interval)
	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("state poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns cycle counters.
func (p *Poller) Stats() Stats {
	return Stats{
		Cycles:   p.cycles.Load(),
		Failures: p.failures.Load(),
	}
}

// run is the main polling loop. The cache fills on demand, so the first
// cycle waits one interval.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

// poll runs one resync cycle.
func (p *Poller) poll() {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	start := time.Now()
	p.cycles.Add(1)

	if err := p.target.Refresh(ctx); err != nil {
		p.failures.Add(1)
		p.logger.Warn("state resync failed", "error", err)
		return
	}

	p.logger.Debug("state resync complete", "duration", time.Since(start))
}
