package scheduler

import (
	"context"

	"go.uber.org/zap"
)

func jobLockKey(job string) string {
	return "scheduler:job:" + job
}

// withJobLock runs fn while holding the redis lock for job. Without redis it
// runs unguarded. A held lock skips this tick; a redis failure runs the job
// anyway because renewals recheck the period under a row lock.
func (s *Scheduler) withJobLock(ctx context.Context, job string, fn func(context.Context) error) error {
	if !s.locker.Enabled() {
		return fn(ctx)
	}

	key := jobLockKey(job)
	token, ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
	if err != nil {
		s.logger(ctx).Warn("scheduler lock unavailable, running unguarded",
			zap.String("job", job),
			zap.Error(err),
		)
		return fn(ctx)
	}
	if !ok {
		s.logger(ctx).Debug("scheduler job held by another instance", zap.String("job", job))
		return nil
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			s.logger(ctx).Warn("failed to release scheduler lock",
				zap.String("job", job),
				zap.Error(err),
			)
		}
	}()
	return fn(ctx)
}
