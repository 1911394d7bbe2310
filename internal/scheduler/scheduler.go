package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/smallbiznis/leadforge/internal/billing/domain"
	"github.com/smallbiznis/leadforge/internal/clock"
	obsmetrics "github.com/smallbiznis/leadforge/internal/observability/metrics"
	"github.com/smallbiznis/leadforge/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const JobSubscriptionRenewals = "subscription_renewals"

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log     *zap.Logger
	Billing billingdomain.Service
	GenID   *snowflake.Node
	Clock   clock.Clock
	Locker  *ratelimit.Locker            `optional:"true"`
	Metrics *obsmetrics.SchedulerMetrics `optional:"true"`
	Config  Config                       `optional:"true"`
}

type Scheduler struct {
	log     *zap.Logger
	cfg     Config
	genID   *snowflake.Node
	clock   clock.Clock
	billing billingdomain.Service
	locker  *ratelimit.Locker
	metrics *obsmetrics.SchedulerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Billing == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	metrics := p.Metrics
	if metrics == nil {
		metrics = obsmetrics.Scheduler()
	}
	return &Scheduler{
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     p.Config.withDefaults(),
		genID:   p.GenID,
		clock:   p.Clock,
		billing: p.Billing,
		locker:  p.Locker,
		metrics: metrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run := s.beginRun(ctx, name)
	s.metrics.IncJobRun(name)

	err := s.withJobLock(ctx, name, fn)
	s.metrics.ObserveJobDuration(name, time.Since(start))
	s.finishRun(ctx, run, err)
	if err == nil {
		return nil
	}

	s.metrics.IncJobError(name, err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	return s.runJob(parent, JobSubscriptionRenewals, s.cfg.JobTimeout, s.RenewSubscriptionsJob)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.metrics.ObserveRunLoopLag(time.Since(nextRun))
			nextRun = nextRun.Add(s.cfg.RunInterval)
		}
	}
}

// RenewSubscriptionsJob drains due subscriptions in batches. A subscription
// several periods behind advances one period per pass.
func (s *Scheduler) RenewSubscriptionsJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	now := s.clock.Now()

	for pass := 0; pass < s.cfg.MaxRenewalPasses; pass++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		summary, err := s.billing.RenewDue(ctx, now, s.cfg.RenewalBatchSize)
		if err != nil {
			return err
		}
		if summary == nil {
			return nil
		}

		run.recordPass(summary)
		progressed := summary.Renewed + summary.Expired
		s.metrics.AddBatchProcessed(JobSubscriptionRenewals, "renewed", summary.Renewed)
		s.metrics.AddBatchProcessed(JobSubscriptionRenewals, "expired", summary.Expired)
		s.metrics.AddBatchProcessed(JobSubscriptionRenewals, "failed", summary.Failed)

		if summary.Scanned < s.cfg.RenewalBatchSize || progressed == 0 {
			return nil
		}
	}
	return nil
}
