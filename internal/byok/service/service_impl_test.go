package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/golang/mock/gomock"
	byokdomain "github.com/smallbiznis/leadforge/internal/byok/domain"
	"github.com/smallbiznis/leadforge/internal/byok/mocks"
	"github.com/smallbiznis/leadforge/internal/byok/repository"
	"github.com/smallbiznis/leadforge/internal/config"
	ledgerdomain "github.com/smallbiznis/leadforge/internal/ledger/domain"
	ledgerrepository "github.com/smallbiznis/leadforge/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/leadforge/internal/ledger/service"
	pricingdomain "github.com/smallbiznis/leadforge/internal/pricing/domain"
	pricingrepository "github.com/smallbiznis/leadforge/internal/pricing/repository"
	pricingservice "github.com/smallbiznis/leadforge/internal/pricing/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type byokFixture struct {
	svc        byokdomain.Service
	ledger     ledgerdomain.Service
	db         *gorm.DB
	places     *mocks.MockValidator
	generation *mocks.MockValidator
}

func setupByok(t *testing.T, locker byokdomain.Locker) byokFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(
		&pricingdomain.CreditCost{},
		&ledgerdomain.Wallet{},
		&ledgerdomain.Transaction{},
		&byokdomain.Credential{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(2)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	pricing := pricingservice.New(pricingservice.Params{DB: db, Log: zap.NewNop(), Repo: pricingrepository.Provide()})
	if _, err := pricing.Upsert(context.Background(), pricingdomain.UpsertRequest{ActionType: "ai_proposal", CreditsRequired: 50}); err != nil {
		t.Fatalf("seed cost: %v", err)
	}

	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Repo:    ledgerrepository.Provide(),
		Pricing: pricing,
		Credits: config.NewStaticCreditConfigHolder(config.DefaultCreditConfig()),
	})

	ctrl := gomock.NewController(t)
	places := mocks.NewMockValidator(ctrl)
	places.EXPECT().Provider().Return(byokdomain.ProviderPlaces).AnyTimes()
	generation := mocks.NewMockValidator(ctrl)
	generation.EXPECT().Provider().Return(byokdomain.ProviderGeneration).AnyTimes()

	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Cfg: config.Config{
			CredentialSecret: "test-credential-secret",
			PlacesAPIKey:     "system-places",
			OpenAIAPIKey:     "system-openai",
		},
		Repo:       repository.Provide(),
		Ledger:     ledger,
		Validators: []byokdomain.Validator{places, generation},
		Locker:     locker,
	})

	return byokFixture{svc: svc, ledger: ledger, db: db, places: places, generation: generation}
}

func enableByok() *bool {
	enabled := true
	return &enabled
}

func walletFlags(t *testing.T, db *gorm.DB, userID string) ledgerdomain.Wallet {
	t.Helper()
	var w ledgerdomain.Wallet
	if err := db.Where("user_id = ?", userID).First(&w).Error; err != nil {
		t.Fatalf("load wallet: %v", err)
	}
	return w
}

func TestResolveFallsBackToSystemKey(t *testing.T) {
	f := setupByok(t, nil)
	ctx := context.Background()

	res := f.svc.Resolve(ctx, "nobody", byokdomain.ProviderPlaces)
	assert.Equal(t, "system-places", res.Credential)
	assert.False(t, res.UserSupplied)
	assert.Equal(t, "system", res.Source())

	res = f.svc.Resolve(ctx, "", byokdomain.ProviderGeneration)
	assert.Equal(t, "system-openai", res.Credential)
}

func TestSaveKeysEnablesAndResolvesUserKey(t *testing.T) {
	f := setupByok(t, nil)
	ctx := context.Background()

	f.places.EXPECT().Validate(gomock.Any(), "AIza-user-places-key").Return(nil)

	status, err := f.svc.SaveKeys(ctx, "u1", byokdomain.SaveKeysRequest{PlacesKey: " AIza-user-places-key ", Enable: enableByok()})
	require.NoError(t, err)
	assert.True(t, status.Active)
	require.Len(t, status.Keys, 2)
	assert.Equal(t, byokdomain.ProviderPlaces, status.Keys[0].Provider)
	assert.True(t, status.Keys[0].Configured)
	assert.Equal(t, "AIza********-key", status.Keys[0].Masked)
	assert.False(t, status.Keys[1].Configured)
	assert.NotNil(t, status.KeysLastCheckedAt)

	var stored byokdomain.Credential
	require.NoError(t, f.db.Where("user_id = ?", "u1").First(&stored).Error)
	assert.NotContains(t, stored.Ciphertext, "AIza-user-places-key")

	res := f.svc.Resolve(ctx, "u1", byokdomain.ProviderPlaces)
	assert.True(t, res.UserSupplied)
	assert.Equal(t, "AIza-user-places-key", res.Credential)

	// Exemption is wallet-wide: a provider without a user key still gets the system key.
	res = f.svc.Resolve(ctx, "u1", byokdomain.ProviderGeneration)
	assert.False(t, res.UserSupplied)
	assert.Equal(t, "system-openai", res.Credential)
}

func TestSaveKeysKeepsBillingUnlessEnableRequested(t *testing.T) {
	f := setupByok(t, nil)
	ctx := context.Background()

	f.places.EXPECT().Validate(gomock.Any(), "places-key").Return(nil)
	status, err := f.svc.SaveKeys(ctx, "u10", byokdomain.SaveKeysRequest{PlacesKey: "places-key"})
	require.NoError(t, err)
	assert.False(t, status.Active)

	w := walletFlags(t, f.db, "u10")
	assert.False(t, w.ByokEnabled)
	assert.True(t, w.ByokValid)

	res, err := f.ledger.Debit(ctx, ledgerdomain.DebitRequest{UserID: "u10", ActionType: "ai_proposal"})
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.OutcomeCharged, res.Outcome)
	assert.False(t, f.svc.Resolve(ctx, "u10", byokdomain.ProviderPlaces).UserSupplied)
}

func TestSaveKeysRejectsInvalidKeyWithoutStoring(t *testing.T) {
	f := setupByok(t, nil)
	ctx := context.Background()

	f.generation.EXPECT().Validate(gomock.Any(), "sk-bad").Return(errors.New("401 unauthorized"))

	_, err := f.svc.SaveKeys(ctx, "u2", byokdomain.SaveKeysRequest{GenerationKey: "sk-bad"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, byokdomain.ErrCredentialVerificationFailed))
	var verr *byokdomain.VerificationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, byokdomain.ProviderGeneration, verr.Provider)

	var count int64
	require.NoError(t, f.db.Model(&byokdomain.Credential{}).Where("user_id = ?", "u2").Count(&count).Error)
	assert.Zero(t, count)
	w := walletFlags(t, f.db, "u2")
	assert.False(t, w.ByokEnabled)
	assert.False(t, w.ByokValid)

	_, err = f.svc.SaveKeys(ctx, "u2", byokdomain.SaveKeysRequest{})
	assert.ErrorIs(t, err, byokdomain.ErrNoCredentials)
}

func TestSetEnabledRequiresCredentials(t *testing.T) {
	f := setupByok(t, nil)

	_, err := f.svc.SetEnabled(context.Background(), "u3", true)
	assert.ErrorIs(t, err, byokdomain.ErrNoCredentials)

	w := walletFlags(t, f.db, "u3")
	assert.False(t, w.ByokEnabled)
	assert.False(t, w.ByokValid)
}

func TestSetEnabledVerifiesEveryStoredKey(t *testing.T) {
	f := setupByok(t, nil)
	ctx := context.Background()
	disable := false

	f.places.EXPECT().Validate(gomock.Any(), "places-key").Return(nil).Times(1)
	f.generation.EXPECT().Validate(gomock.Any(), "openai-key").Return(nil).Times(1)
	_, err := f.svc.SaveKeys(ctx, "u4", byokdomain.SaveKeysRequest{
		PlacesKey:     "places-key",
		GenerationKey: "openai-key",
		Enable:        &disable,
	})
	require.NoError(t, err)
	w := walletFlags(t, f.db, "u4")
	assert.False(t, w.ByokEnabled)
	assert.True(t, w.ByokValid)

	// The generation key was revoked upstream since it was saved.
	f.places.EXPECT().Validate(gomock.Any(), "places-key").Return(nil).Times(1)
	f.generation.EXPECT().Validate(gomock.Any(), "openai-key").Return(errors.New("revoked")).Times(1)
	_, err = f.svc.SetEnabled(ctx, "u4", true)
	assert.ErrorIs(t, err, byokdomain.ErrCredentialVerificationFailed)

	w = walletFlags(t, f.db, "u4")
	assert.False(t, w.ByokEnabled, "flags must be untouched on failure")
	assert.True(t, w.ByokValid)

	f.places.EXPECT().Validate(gomock.Any(), "places-key").Return(nil).Times(1)
	f.generation.EXPECT().Validate(gomock.Any(), "openai-key").Return(nil).Times(1)
	status, err := f.svc.SetEnabled(ctx, "u4", true)
	require.NoError(t, err)
	assert.True(t, status.Active)

	status, err = f.svc.SetEnabled(ctx, "u4", false)
	require.NoError(t, err)
	assert.False(t, status.ByokEnabled)
	assert.False(t, status.ByokValid)
}

func TestInvalidateCascadesToMetering(t *testing.T) {
	f := setupByok(t, nil)
	ctx := context.Background()

	f.generation.EXPECT().Validate(gomock.Any(), "sk-user").Return(nil)
	_, err := f.svc.SaveKeys(ctx, "u5", byokdomain.SaveKeysRequest{GenerationKey: "sk-user", Enable: enableByok()})
	require.NoError(t, err)

	exempt, err := f.ledger.Debit(ctx, ledgerdomain.DebitRequest{UserID: "u5", ActionType: "ai_proposal"})
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.OutcomeExempt, exempt.Outcome)

	require.NoError(t, f.svc.Invalidate(ctx, "u5"))
	require.NoError(t, f.svc.Invalidate(ctx, "u5"))

	w := walletFlags(t, f.db, "u5")
	assert.False(t, w.ByokEnabled)
	assert.False(t, w.ByokValid)

	res := f.svc.Resolve(ctx, "u5", byokdomain.ProviderGeneration)
	assert.False(t, res.UserSupplied)

	charged, err := f.ledger.Debit(ctx, ledgerdomain.DebitRequest{UserID: "u5", ActionType: "ai_proposal"})
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.OutcomeCharged, charged.Outcome)
	assert.Equal(t, int64(950), charged.Balance)
}

func TestRemoveKeys(t *testing.T) {
	f := setupByok(t, nil)
	ctx := context.Background()

	f.places.EXPECT().Validate(gomock.Any(), "places-key").Return(nil)
	f.generation.EXPECT().Validate(gomock.Any(), "openai-key").Return(nil)
	_, err := f.svc.SaveKeys(ctx, "u6", byokdomain.SaveKeysRequest{PlacesKey: "places-key", GenerationKey: "openai-key", Enable: enableByok()})
	require.NoError(t, err)

	status, err := f.svc.RemoveKeys(ctx, "u6", "places")
	require.NoError(t, err)
	assert.True(t, status.ByokEnabled)
	assert.False(t, status.ByokValid)
	assert.False(t, status.Keys[0].Configured)
	assert.True(t, status.Keys[1].Configured)

	status, err = f.svc.RemoveKeys(ctx, "u6", "all")
	require.NoError(t, err)
	assert.False(t, status.ByokEnabled)
	assert.False(t, status.Keys[1].Configured)

	_, err = f.svc.RemoveKeys(ctx, "u6", "stripe")
	assert.ErrorIs(t, err, byokdomain.ErrUnsupportedProvider)
}

func TestVerifyAndSwitchFallsBackToCredits(t *testing.T) {
	ctrl := gomock.NewController(t)
	locker := mocks.NewMockLocker(ctrl)
	locker.EXPECT().Enabled().Return(true).AnyTimes()
	locker.EXPECT().TryLock(gomock.Any(), "byok:verify:u7", 30*time.Second).Return("token-1", true, nil)
	locker.EXPECT().Release(gomock.Any(), "byok:verify:u7", "token-1").Return(nil)

	f := setupByok(t, locker)
	ctx := context.Background()

	f.places.EXPECT().Validate(gomock.Any(), "places-key").Return(nil).Times(1)
	_, err := f.svc.SaveKeys(ctx, "u7", byokdomain.SaveKeysRequest{PlacesKey: "places-key", Enable: enableByok()})
	require.NoError(t, err)

	f.places.EXPECT().Validate(gomock.Any(), "places-key").Return(errors.New("REQUEST_DENIED")).Times(1)
	result, err := f.svc.VerifyAndSwitch(ctx, "u7")
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.True(t, result.SwitchedToCredits)
	require.Len(t, result.Checks, 1)
	assert.False(t, result.Checks[0].Valid)
	assert.False(t, result.Status.Active)

	w := walletFlags(t, f.db, "u7")
	assert.False(t, w.ByokEnabled)
	assert.False(t, w.ByokValid)
}

func TestVerifyAndSwitchRefreshesValidity(t *testing.T) {
	f := setupByok(t, nil)
	ctx := context.Background()

	f.generation.EXPECT().Validate(gomock.Any(), "sk-user").Return(nil).Times(2)
	_, err := f.svc.SaveKeys(ctx, "u8", byokdomain.SaveKeysRequest{GenerationKey: "sk-user", Enable: enableByok()})
	require.NoError(t, err)

	result, err := f.svc.VerifyAndSwitch(ctx, "u8")
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.False(t, result.SwitchedToCredits)
	assert.True(t, result.Status.Active)
}

func TestVerifyAndSwitchRejectsConcurrentRun(t *testing.T) {
	ctrl := gomock.NewController(t)
	locker := mocks.NewMockLocker(ctrl)
	locker.EXPECT().Enabled().Return(true).AnyTimes()
	locker.EXPECT().TryLock(gomock.Any(), "byok:verify:u9", gomock.Any()).Return("", false, nil)

	f := setupByok(t, locker)

	_, err := f.svc.VerifyAndSwitch(context.Background(), "u9")
	assert.ErrorIs(t, err, byokdomain.ErrVerificationInProgress)
}
