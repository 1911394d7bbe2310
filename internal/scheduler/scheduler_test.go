package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/smallbiznis/leadforge/internal/billing/domain"
	"github.com/smallbiznis/leadforge/internal/clock"
	"github.com/smallbiznis/leadforge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBilling struct {
	billingdomain.Service

	summaries []*billingdomain.RenewalSummary
	err       error
	calls     []time.Time
	limits    []int
}

func (f *fakeBilling) RenewDue(ctx context.Context, now time.Time, limit int) (*billingdomain.RenewalSummary, error) {
	f.calls = append(f.calls, now)
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.summaries) == 0 {
		return &billingdomain.RenewalSummary{}, nil
	}
	next := f.summaries[0]
	f.summaries = f.summaries[1:]
	return next, nil
}

func newTestScheduler(t *testing.T, billing billingdomain.Service, clk clock.Clock, cfg Config) *Scheduler {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	sched, err := New(Params{
		Log:     zap.NewNop(),
		Billing: billing,
		GenID:   node,
		Clock:   clk,
		Config:  cfg,
	})
	require.NoError(t, err)
	return sched
}

func TestRunOnceDrainsDueSubscriptions(t *testing.T) {
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	billing := &fakeBilling{summaries: []*billingdomain.RenewalSummary{
		{Scanned: 2, Renewed: 1, Expired: 1},
		{Scanned: 2, Renewed: 2},
		{Scanned: 1, Renewed: 1},
	}}
	sched := newTestScheduler(t, billing, clock.NewFakeClock(now), Config{RenewalBatchSize: 2})

	require.NoError(t, sched.RunOnce(context.Background()))
	require.Len(t, billing.calls, 3)
	for _, at := range billing.calls {
		assert.True(t, now.Equal(at))
	}
	assert.Equal(t, []int{2, 2, 2}, billing.limits)
}

func TestRunOnceStopsWithoutProgress(t *testing.T) {
	billing := &fakeBilling{summaries: []*billingdomain.RenewalSummary{
		{Scanned: 2, Failed: 2},
		{Scanned: 2, Renewed: 2},
	}}
	sched := newTestScheduler(t, billing, clock.NewFakeClock(time.Now()), Config{RenewalBatchSize: 2})

	require.NoError(t, sched.RunOnce(context.Background()))
	assert.Len(t, billing.calls, 1)
}

func TestRunOnceCapsPasses(t *testing.T) {
	full := func() *billingdomain.RenewalSummary { return &billingdomain.RenewalSummary{Scanned: 1, Renewed: 1} }
	billing := &fakeBilling{summaries: []*billingdomain.RenewalSummary{full(), full(), full(), full()}}
	sched := newTestScheduler(t, billing, clock.NewFakeClock(time.Now()), Config{RenewalBatchSize: 1, MaxRenewalPasses: 3})

	require.NoError(t, sched.RunOnce(context.Background()))
	assert.Len(t, billing.calls, 3)
}

func TestRunOnceReturnsStoreError(t *testing.T) {
	storeErr := errors.New("connection refused")
	billing := &fakeBilling{err: storeErr}
	sched := newTestScheduler(t, billing, clock.NewFakeClock(time.Now()), Config{})

	err := sched.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, storeErr)
	assert.Contains(t, err.Error(), JobSubscriptionRenewals)
}

func TestRunOnceFollowsFakeClock(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(start)
	billing := &fakeBilling{}
	sched := newTestScheduler(t, billing, clk, Config{})

	for day := 0; day < 3; day++ {
		require.NoError(t, sched.RunOnce(context.Background()))
		clk.Advance(24 * time.Hour)
	}
	require.Len(t, billing.calls, 3)
	assert.True(t, start.AddDate(0, 0, 2).Equal(billing.calls[2]))
}

func TestRunJobTimeoutIsSoft(t *testing.T) {
	sched := newTestScheduler(t, &fakeBilling{}, clock.NewFakeClock(time.Now()), Config{})

	err := sched.runJob(context.Background(), "timeout_job", 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.NoError(t, err)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestProvideConfig(t *testing.T) {
	cfg := ProvideConfig(config.Config{Scheduler: config.SchedulerConfig{RunIntervalSeconds: 15, RenewalBatchSize: 20}})
	assert.Equal(t, 15*time.Second, cfg.RunInterval)
	assert.Equal(t, 20, cfg.RenewalBatchSize)
	assert.Equal(t, DefaultConfig().JobTimeout, cfg.JobTimeout)

	defaults := ProvideConfig(config.Config{})
	assert.Equal(t, time.Minute, defaults.RunInterval)
	assert.GreaterOrEqual(t, defaults.LockTTL, defaults.JobTimeout)
}

func TestJobLockKey(t *testing.T) {
	assert.Equal(t, "scheduler:job:subscription_renewals", jobLockKey(JobSubscriptionRenewals))
}
