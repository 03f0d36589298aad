package indexer

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/paybeaver/beaver-indexer/internal/logger"
)

const (
	// DefaultTickInterval matches the target block cadence.
	DefaultTickInterval = 12 * time.Second
	defaultWarmup       = 3 * time.Second
)

// Scheduler drives every chain's scanners and payment initiator in sequence,
// once per tick.
type Scheduler struct {
	indexers []*ChainIndexer
	interval time.Duration
	warmup   time.Duration
	logger   *zap.Logger

	// fatal is replaceable so tests can observe invariant escalation.
	fatal func(msg string, fields ...zap.Field)
}

// NewScheduler returns a scheduler ticking every DefaultTickInterval.
func NewScheduler(indexers []*ChainIndexer) *Scheduler {
	return &Scheduler{
		indexers: indexers,
		interval: DefaultTickInterval,
		warmup:   defaultWarmup,
		logger:   logger.Log,
		fatal:    logger.Log.Fatal,
	}
}

// Run loops until ctx is cancelled. Errors are contained per chain so one
// failing chain cannot wedge the others; only invariant violations abort the
// process.
func (s *Scheduler) Run(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(s.warmup):
	}
	s.logger.Info("scheduler started", zap.Int("chains", len(s.indexers)), zap.Duration("interval", s.interval))

	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-time.After(s.interval):
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	for _, ix := range s.indexers {
		if ctx.Err() != nil {
			return
		}
		s.runChain(ctx, ix)
	}
}

func (s *Scheduler) runChain(ctx context.Context, ix *ChainIndexer) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("chain tick panicked",
				zap.String("chain", ix.Chain().String()),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()

	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"discover subscriptions", ix.DiscoverSubscriptions},
		{"discover payments", ix.DiscoverPayments},
		{"discover terminations", ix.DiscoverTerminations},
		{"discover initiator changes", ix.DiscoverInitiatorChanges},
		{"pay payable subscriptions", ix.PayPayableSubscriptions},
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			var invariant *InvariantError
			if errors.As(err, &invariant) {
				s.fatal("invariant violated",
					zap.String("chain", ix.Chain().String()),
					zap.String("step", step.name),
					zap.Error(err))
				return
			}
			s.logger.Error("chain tick step failed",
				zap.String("chain", ix.Chain().String()),
				zap.String("step", step.name),
				zap.Error(err))
			return
		}
	}
}
