package scheduler

import (
	"context"
	"time"

	billingdomain "github.com/smallbiznis/leadforge/internal/billing/domain"
	obscontext "github.com/smallbiznis/leadforge/internal/observability/context"
	obslogger "github.com/smallbiznis/leadforge/internal/observability/logger"
	"go.uber.org/zap"
)

// jobRun tallies one execution of a job across its batch passes.
type jobRun struct {
	job       string
	runID     string
	startedAt time.Time

	passes  int
	renewed int
	expired int
	failed  int
	aborted bool
}

type jobRunKey struct{}

func (r *jobRun) recordPass(summary *billingdomain.RenewalSummary) {
	if r == nil || summary == nil {
		return
	}
	r.passes++
	r.renewed += summary.Renewed
	r.expired += summary.Expired
	r.failed += summary.Failed
}

func (r *jobRun) fields() []zap.Field {
	return []zap.Field{
		zap.String("job", r.job),
		zap.String("run_id", r.runID),
		zap.Int("passes", r.passes),
		zap.Int("renewed", r.renewed),
		zap.Int("expired", r.expired),
		zap.Int("failed", r.failed),
	}
}

// beginRun tags ctx with a fresh run id so every log line of the run
// correlates through request_id.
func (s *Scheduler) beginRun(ctx context.Context, job string) (context.Context, *jobRun) {
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		startedAt: s.clock.Now(),
	}
	ctx = obscontext.WithRequestID(context.WithValue(ctx, jobRunKey{}, run), run.runID)
	s.logger(ctx).Debug("scheduler.job.start", zap.String("job", job), zap.String("run_id", run.runID))
	return ctx, run
}

func (s *Scheduler) finishRun(ctx context.Context, run *jobRun, err error) {
	fields := append(run.fields(), zap.Duration("duration", s.clock.Now().Sub(run.startedAt)))
	log := s.logger(ctx)
	switch {
	case err != nil:
		log.Warn("scheduler.job.finish", append(fields, zap.Error(err))...)
	case run.failed > 0:
		log.Warn("scheduler.job.finish", fields...)
	case run.passes == 0:
		log.Debug("scheduler.job.finish", fields...)
	default:
		log.Info("scheduler.job.finish", fields...)
	}
}

func jobRunFromContext(ctx context.Context) *jobRun {
	run, _ := ctx.Value(jobRunKey{}).(*jobRun)
	return run
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}
