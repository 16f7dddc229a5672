// Package worker drives the hash anchoring queue: a single goroutine that
// periodically claims pending entries and submits them to the chain client.
// Manual triggers wake the same loop, so there is never a second concurrent
// processing path.
package worker

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Processor is the slice of the anchor queue service the worker drives.
type Processor interface {
	ProcessBatch(ctx context.Context, limit int) (anchored, failed int, err error)
	RequeueRetryable(ctx context.Context, limit int) (int, error)
}

type Config struct {
	// Interval is the idle delay between passes when the queue is quiet.
	Interval time.Duration
	// BatchSize bounds how many entries one pass claims.
	BatchSize int
}

func DefaultConfig() Config {
	return Config{
		Interval:  30 * time.Second,
		BatchSize: 10,
	}
}

type Worker struct {
	proc Processor
	cfg  Config
	log  zerolog.Logger
	wake chan struct{}
}

func New(proc Processor, cfg Config, log zerolog.Logger) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	return &Worker{
		proc: proc,
		cfg:  cfg,
		log:  log.With().Str("component", "anchor_worker").Logger(),
		wake: make(chan struct{}, 1),
	}
}

// Wake asks the loop to run a pass now. Safe to call from any goroutine;
// coalesces when a wake is already queued.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run processes the queue until ctx is cancelled. Failed passes back off
// exponentially up to the configured interval; a productive pass resets the
// delay so bursts drain quickly.
func (w *Worker) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = w.cfg.Interval
	bo.MaxElapsedTime = 0
	bo.Reset()

	w.log.Info().
		Dur("interval", w.cfg.Interval).
		Int("batch_size", w.cfg.BatchSize).
		Msg("anchor worker started")

	delay := w.cfg.Interval
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("anchor worker stopping")
			return ctx.Err()
		case <-w.wake:
		case <-time.After(delay):
		}

		productive, err := w.pass(ctx)
		switch {
		case err != nil:
			delay = bo.NextBackOff()
			w.log.Warn().Err(err).Dur("retry_in", delay).Msg("anchor pass failed")
		case productive:
			bo.Reset()
			// Immediately look again while the queue drains.
			delay = 0
		default:
			bo.Reset()
			delay = w.cfg.Interval
		}
	}
}

func (w *Worker) pass(ctx context.Context) (bool, error) {
	requeued, err := w.proc.RequeueRetryable(ctx, w.cfg.BatchSize)
	if err != nil {
		return false, err
	}

	anchored, failed, err := w.proc.ProcessBatch(ctx, w.cfg.BatchSize)
	if err != nil {
		return false, err
	}
	if anchored+failed+requeued > 0 {
		w.log.Info().
			Int("anchored", anchored).
			Int("failed", failed).
			Int("requeued", requeued).
			Msg("anchor pass complete")
	}
	return anchored+failed > 0, nil
}
