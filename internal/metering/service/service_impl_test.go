package service

import (
	"context"
	"errors"
	"testing"

	byokdomain "github.com/smallbiznis/leadforge/internal/byok/domain"
	ledgerdomain "github.com/smallbiznis/leadforge/internal/ledger/domain"
	meteringdomain "github.com/smallbiznis/leadforge/internal/metering/domain"
	providerdomain "github.com/smallbiznis/leadforge/internal/providers/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLedger struct {
	ledgerdomain.Service

	debit     *ledgerdomain.Result
	debitErr  error
	debits    int
	refunds   []ledgerdomain.RefundRequest
	refundErr error
}

func (f *fakeLedger) Debit(ctx context.Context, req ledgerdomain.DebitRequest) (*ledgerdomain.Result, error) {
	f.debits++
	if f.debitErr != nil {
		return nil, f.debitErr
	}
	return f.debit, nil
}

func (f *fakeLedger) Refund(ctx context.Context, req ledgerdomain.RefundRequest) (*ledgerdomain.Result, error) {
	f.refunds = append(f.refunds, req)
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	return &ledgerdomain.Result{Outcome: ledgerdomain.OutcomeCredited, Amount: req.Charge.Amount}, nil
}

func (f *fakeLedger) CanPerform(ctx context.Context, userID string, actionType string) (*ledgerdomain.Admission, error) {
	return &ledgerdomain.Admission{Allowed: true, ActionType: actionType}, nil
}

type fakeByok struct {
	byokdomain.Service

	resolution  byokdomain.Resolution
	invalidated []string
}

func (f *fakeByok) Resolve(ctx context.Context, userID string, provider byokdomain.Provider) byokdomain.Resolution {
	res := f.resolution
	res.Provider = provider
	return res
}

func (f *fakeByok) System(provider byokdomain.Provider) byokdomain.Resolution {
	return byokdomain.Resolution{Provider: provider, Credential: "sys-key"}
}

func (f *fakeByok) Invalidate(ctx context.Context, userID string) error {
	f.invalidated = append(f.invalidated, userID)
	return nil
}

func newRunner(l *fakeLedger, b *fakeByok) meteringdomain.Service {
	return New(Params{Log: zap.NewNop(), Ledger: l, Byok: b})
}

func charged(amount int64) *ledgerdomain.Result {
	return &ledgerdomain.Result{
		Outcome:       ledgerdomain.OutcomeCharged,
		ActionType:    "ai_email",
		Amount:        amount,
		Balance:       980,
		TransactionID: "42",
	}
}

func request() meteringdomain.ActionRequest {
	return meteringdomain.ActionRequest{
		UserID:     "user-1",
		ActionType: "ai_email",
		Provider:   byokdomain.ProviderGeneration,
	}
}

func TestRunSuccessKeepsCharge(t *testing.T) {
	l := &fakeLedger{debit: charged(20)}
	b := &fakeByok{resolution: byokdomain.Resolution{Credential: "sys-key"}}

	var seen string
	outcome, err := newRunner(l, b).Run(context.Background(), request(), func(ctx context.Context, cred byokdomain.Resolution) error {
		seen = cred.Credential
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "sys-key", seen)
	assert.Equal(t, "system", outcome.CredentialSource)
	assert.Equal(t, int64(20), outcome.CreditsUsed())
	assert.Empty(t, l.refunds)
}

func TestRunInsufficientSkipsProviderCall(t *testing.T) {
	l := &fakeLedger{debitErr: &ledgerdomain.InsufficientCreditsError{ActionType: "ai_email", Required: 20, Balance: 5}}
	b := &fakeByok{}

	called := false
	_, err := newRunner(l, b).Run(context.Background(), request(), func(ctx context.Context, cred byokdomain.Resolution) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInsufficientCredits)
	assert.False(t, called)
}

func TestRunChargedDebitUsesSystemKey(t *testing.T) {
	// BYOK switched on between the debit and the resolve.
	l := &fakeLedger{debit: charged(20)}
	b := &fakeByok{resolution: byokdomain.Resolution{Credential: "sk-user", UserSupplied: true}}

	var seen byokdomain.Resolution
	outcome, err := newRunner(l, b).Run(context.Background(), request(), func(ctx context.Context, cred byokdomain.Resolution) error {
		seen = cred
		return &providerdomain.UpstreamError{Kind: providerdomain.ErrUnauthorized, Status: "401"}
	})
	require.Error(t, err)
	assert.Equal(t, "sys-key", seen.Credential)
	assert.False(t, seen.UserSupplied)
	assert.False(t, errors.Is(err, meteringdomain.ErrCredentialInvalid))
	assert.Empty(t, b.invalidated)
	require.Len(t, l.refunds, 1)
	assert.Equal(t, "42", l.refunds[0].Charge.TransactionID)
	assert.Equal(t, "system", outcome.CredentialSource)
	assert.True(t, outcome.Refunded)
}

func TestRunExemptDebitWithoutUserKeySkipsCall(t *testing.T) {
	// BYOK switched off between the debit and the resolve.
	l := &fakeLedger{debit: &ledgerdomain.Result{Outcome: ledgerdomain.OutcomeExempt, ActionType: "ai_email"}}
	b := &fakeByok{resolution: byokdomain.Resolution{Credential: "sys-key"}}

	called := false
	outcome, err := newRunner(l, b).Run(context.Background(), request(), func(ctx context.Context, cred byokdomain.Resolution) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, meteringdomain.ErrCredentialUnavailable)
	assert.False(t, called)
	assert.Empty(t, l.refunds)
	assert.Zero(t, outcome.CreditsUsed())
}

func TestRunRejectedExemptUserKeyInvalidatesWithoutRefund(t *testing.T) {
	l := &fakeLedger{debit: &ledgerdomain.Result{Outcome: ledgerdomain.OutcomeExempt, ActionType: "ai_email"}}
	b := &fakeByok{resolution: byokdomain.Resolution{Credential: "sk-user", UserSupplied: true}}

	_, err := newRunner(l, b).Run(context.Background(), request(), func(ctx context.Context, cred byokdomain.Resolution) error {
		return providerdomain.ErrUnauthorized
	})
	assert.ErrorIs(t, err, meteringdomain.ErrCredentialInvalid)
	assert.Len(t, b.invalidated, 1)
	assert.Empty(t, l.refunds)
}

func TestRunRejectedSystemKeyDoesNotInvalidate(t *testing.T) {
	l := &fakeLedger{debit: charged(20)}
	b := &fakeByok{resolution: byokdomain.Resolution{Credential: "sys-key"}}

	outcome, err := newRunner(l, b).Run(context.Background(), request(), func(ctx context.Context, cred byokdomain.Resolution) error {
		return providerdomain.ErrUnauthorized
	})
	assert.ErrorIs(t, err, providerdomain.ErrUnauthorized)
	assert.False(t, errors.Is(err, meteringdomain.ErrCredentialInvalid))
	assert.Empty(t, b.invalidated)
	assert.True(t, outcome.Refunded)
}

func TestRunOtherFailureRefunds(t *testing.T) {
	l := &fakeLedger{debit: charged(20)}
	b := &fakeByok{resolution: byokdomain.Resolution{Credential: "sys-key"}}
	upstream := errors.New("timeout")

	outcome, err := newRunner(l, b).Run(context.Background(), request(), func(ctx context.Context, cred byokdomain.Resolution) error {
		return upstream
	})
	assert.ErrorIs(t, err, upstream)
	assert.True(t, outcome.Refunded)
	require.Len(t, l.refunds, 1)
	assert.Equal(t, "provider call failed", l.refunds[0].Reason)
}

func TestRunRefundFailureKeepsProviderError(t *testing.T) {
	l := &fakeLedger{debit: charged(20), refundErr: errors.New("db down")}
	b := &fakeByok{resolution: byokdomain.Resolution{Credential: "sys-key"}}
	upstream := errors.New("timeout")

	outcome, err := newRunner(l, b).Run(context.Background(), request(), func(ctx context.Context, cred byokdomain.Resolution) error {
		return upstream
	})
	assert.ErrorIs(t, err, upstream)
	assert.False(t, outcome.Refunded)
	assert.Equal(t, int64(20), outcome.CreditsUsed())
}

func TestRunValidatesRequest(t *testing.T) {
	l := &fakeLedger{}
	runner := newRunner(l, &fakeByok{})
	noop := func(ctx context.Context, cred byokdomain.Resolution) error { return nil }

	_, err := runner.Run(context.Background(), meteringdomain.ActionRequest{ActionType: "ai_email", Provider: byokdomain.ProviderGeneration}, noop)
	assert.ErrorIs(t, err, meteringdomain.ErrInvalidRequest)

	req := request()
	req.Provider = "smtp"
	_, err = runner.Run(context.Background(), req, noop)
	assert.ErrorIs(t, err, meteringdomain.ErrInvalidRequest)

	_, err = runner.Run(context.Background(), request(), nil)
	assert.ErrorIs(t, err, meteringdomain.ErrInvalidRequest)
	assert.Zero(t, l.debits)
}
