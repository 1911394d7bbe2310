package service

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	authdomain "github.com/smallbiznis/leadforge/internal/auth/domain"
	"github.com/smallbiznis/leadforge/internal/clock"
	"github.com/smallbiznis/leadforge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

func newTestService(clk clock.Clock, secret string) authdomain.Service {
	return New(Params{
		Cfg:   config.Config{AuthJWTSecret: secret},
		Log:   zap.NewNop(),
		Clock: clk,
	})
}

func TestIssueAndVerify(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	svc := newTestService(clk, testSecret)

	token, err := svc.Issue(context.Background(), authdomain.Identity{UserID: "user-1", Email: "a@example.com"}, time.Hour)
	require.NoError(t, err)

	identity, err := svc.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", identity.UserID)
	assert.Equal(t, "a@example.com", identity.Email)
}

func TestVerifyExpired(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	svc := newTestService(clk, testSecret)

	token, err := svc.Issue(context.Background(), authdomain.Identity{UserID: "user-1"}, time.Hour)
	require.NoError(t, err)

	clk.Advance(2 * time.Hour)
	_, err = svc.Verify(context.Background(), token)
	assert.ErrorIs(t, err, authdomain.ErrTokenExpired)
}

func TestVerifySubjectFallback(t *testing.T) {
	svc := newTestService(clock.NewSystemClock(), testSecret)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-7",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	identity, err := svc.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-7", identity.UserID)
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	svc := newTestService(clock.NewSystemClock(), testSecret)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, authdomain.Claims{
		UserID: "user-1",
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), token)
	assert.ErrorIs(t, err, authdomain.ErrInvalidToken)
}

func TestVerifyRejectsMissingIdentity(t *testing.T) {
	svc := newTestService(clock.NewSystemClock(), testSecret)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, authdomain.Claims{
		Email: "a@example.com",
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), token)
	assert.ErrorIs(t, err, authdomain.ErrInvalidToken)

	_, err = svc.Verify(context.Background(), "  ")
	assert.ErrorIs(t, err, authdomain.ErrMissingToken)

	_, err = svc.Verify(context.Background(), "not-a-jwt")
	assert.ErrorIs(t, err, authdomain.ErrInvalidToken)
}

func TestVerifyWithoutSecret(t *testing.T) {
	svc := newTestService(clock.NewSystemClock(), "")

	_, err := svc.Verify(context.Background(), "anything")
	assert.ErrorIs(t, err, authdomain.ErrAuthNotConfigured)
}
