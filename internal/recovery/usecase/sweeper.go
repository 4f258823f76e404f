package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jia-app/recoveryservice/internal/config"
	"github.com/jia-app/recoveryservice/internal/log"
	"github.com/jia-app/recoveryservice/internal/metrics"
	"github.com/jia-app/recoveryservice/internal/recovery/domain"
	"github.com/jia-app/recoveryservice/internal/recovery/repo"
)

// sweepActor is the system principal for sweep-driven mutations.
var sweepActor = domain.Actor{ID: "system:sweeper", Role: domain.RoleAdmin}

// Sweeper periodically picks up due work from storage: failures whose
// next_retry_at has passed and active campaigns whose
// next_communication_at has passed. All scheduling state lives in
// storage, so any number of sweeper instances can run concurrently; the
// optimistic pre-state checks in the retry and campaign paths shed
// duplicates.
type Sweeper struct {
	failures  repo.FailureRepository
	campaigns repo.CampaignRepository
	retrier   *RetryScheduler
	engine    *CampaignEngine
	cfg       config.RecoveryConfig
}

// NewSweeper creates a new due-work sweeper.
func NewSweeper(
	failures repo.FailureRepository,
	campaigns repo.CampaignRepository,
	retrier *RetryScheduler,
	engine *CampaignEngine,
	cfg config.RecoveryConfig,
) *Sweeper {
	return &Sweeper{
		failures:  failures,
		campaigns: campaigns,
		retrier:   retrier,
		engine:    engine,
		cfg:       cfg,
	}
}

// Run sweeps on the configured interval until the context is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}

	log.Info(ctx, "Sweeper started",
		zap.Duration("interval", interval),
		zap.Int("workers", s.cfg.SweepWorkers),
		zap.Int("batch_size", s.cfg.SweepBatchSize))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info(ctx, "Sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over due retries and due campaign steps.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.sweepRetries(ctx)
	s.sweepSteps(ctx)
}

func (s *Sweeper) sweepRetries(ctx context.Context) {
	start := time.Now()
	defer metrics.ObserveSweep("retries", start)

	due, err := s.failures.ListDueRetries(ctx, start, s.batchSize())
	if err != nil {
		log.Error(ctx, "Due-retry query failed", zap.Error(err))
		return
	}
	if len(due) == 0 {
		return
	}
	metrics.SweepItems.WithLabelValues("retries").Add(float64(len(due)))

	ids := make([]uuid.UUID, 0, len(due))
	for _, f := range due {
		ids = append(ids, f.ID)
	}
	s.dispatch(ctx, ids, func(ctx context.Context, id uuid.UUID) {
		if _, err := s.retrier.RetryPayment(ctx, RetryPaymentRequest{FailureID: id}); err != nil {
			// Lost races surface as INVALID_STATE and are expected with
			// concurrent sweepers.
			if domain.HasCode(err, domain.ErrCodeInvalidState) {
				return
			}
			log.Error(ctx, "Sweep retry failed",
				zap.String("failure_id", id.String()),
				zap.Error(err))
		}
	})
}

func (s *Sweeper) sweepSteps(ctx context.Context) {
	start := time.Now()
	defer metrics.ObserveSweep("campaign_steps", start)

	due, err := s.campaigns.ListDueSteps(ctx, start, s.batchSize())
	if err != nil {
		log.Error(ctx, "Due-step query failed", zap.Error(err))
		return
	}
	if len(due) == 0 {
		return
	}
	metrics.SweepItems.WithLabelValues("campaign_steps").Add(float64(len(due)))

	ids := make([]uuid.UUID, 0, len(due))
	for _, c := range due {
		ids = append(ids, c.ID)
	}
	s.dispatch(ctx, ids, func(ctx context.Context, id uuid.UUID) {
		if _, err := s.engine.AdvanceStep(ctx, id); err != nil {
			if domain.HasCode(err, domain.ErrCodeInvalidState) ||
				domain.HasCode(err, domain.ErrCodeUpstreamFailure) {
				return
			}
			log.Error(ctx, "Sweep step advance failed",
				zap.String("campaign_id", id.String()),
				zap.Error(err))
		}
	})
}

// dispatch fans the batch out over the configured worker count.
func (s *Sweeper) dispatch(ctx context.Context, ids []uuid.UUID, fn func(context.Context, uuid.UUID)) {
	workers := s.cfg.SweepWorkers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(ids) {
		workers = len(ids)
	}

	ctx = domain.WithActor(ctx, sweepActor)
	work := make(chan uuid.UUID)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range work {
				fn(ctx, id)
			}
		}()
	}

	for _, id := range ids {
		select {
		case <-ctx.Done():
			close(work)
			wg.Wait()
			return
		case work <- id:
		}
	}
	close(work)
	wg.Wait()
}

func (s *Sweeper) batchSize() int {
	if s.cfg.SweepBatchSize <= 0 {
		return 100
	}
	return s.cfg.SweepBatchSize
}
