package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	byokdomain "github.com/smallbiznis/leadforge/internal/byok/domain"
	"github.com/smallbiznis/leadforge/internal/byok/sealer"
	"github.com/smallbiznis/leadforge/internal/clock"
	"github.com/smallbiznis/leadforge/internal/config"
	ledgerdomain "github.com/smallbiznis/leadforge/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/leadforge/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const verifyLockTTL = 30 * time.Second

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Cfg        config.Config
	Repo       byokdomain.Repository
	Ledger     ledgerdomain.Service
	Validators []byokdomain.Validator `group:"byok.validators"`
	Locker     byokdomain.Locker      `optional:"true"`
	Clock      clock.Clock            `optional:"true"`
	ObsMetrics *obsmetrics.Metrics    `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       byokdomain.Repository
	ledger     ledgerdomain.Service
	sealer     *sealer.Sealer
	validators map[byokdomain.Provider]byokdomain.Validator
	system     map[byokdomain.Provider]string
	locker     byokdomain.Locker
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) byokdomain.Service {
	validators := make(map[byokdomain.Provider]byokdomain.Validator, len(p.Validators))
	for _, v := range p.Validators {
		if v == nil {
			continue
		}
		validators[v.Provider()] = v
	}

	clk := p.Clock
	if clk == nil {
		clk = clock.NewSystemClock()
	}

	return &Service{
		db:         p.DB,
		log:        p.Log.Named("byok.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		ledger:     p.Ledger,
		sealer:     sealer.New(p.Cfg.CredentialSecret),
		validators: validators,
		system: map[byokdomain.Provider]string{
			byokdomain.ProviderPlaces:     p.Cfg.PlacesAPIKey,
			byokdomain.ProviderGeneration: p.Cfg.OpenAIAPIKey,
		},
		locker:     p.Locker,
		clock:      clk,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) System(provider byokdomain.Provider) byokdomain.Resolution {
	return byokdomain.Resolution{Provider: provider, Credential: s.system[provider]}
}

func (s *Service) Resolve(ctx context.Context, userID string, provider byokdomain.Provider) byokdomain.Resolution {
	fallback := s.System(provider)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fallback
	}

	flags, err := s.repo.FindFlags(ctx, s.db, userID)
	if err != nil {
		s.log.Warn("byok flags unavailable, using system key",
			zap.String("user_id", userID),
			zap.String("provider", string(provider)),
			zap.Error(err),
		)
		return fallback
	}
	if flags == nil || !flags.Active() {
		return fallback
	}

	cred, err := s.repo.FindCredential(ctx, s.db, userID, provider)
	if err != nil {
		s.log.Warn("byok credential lookup failed, using system key",
			zap.String("user_id", userID),
			zap.String("provider", string(provider)),
			zap.Error(err),
		)
		return fallback
	}
	if cred == nil {
		return fallback
	}

	key, err := s.sealer.Open(cred.Ciphertext)
	if err != nil || strings.TrimSpace(key) == "" {
		s.log.Warn("byok credential unreadable, using system key",
			zap.String("user_id", userID),
			zap.String("provider", string(provider)),
			zap.Error(err),
		)
		return fallback
	}

	return byokdomain.Resolution{Provider: provider, Credential: key, UserSupplied: true}
}

func (s *Service) Invalidate(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return byokdomain.ErrInvalidUser
	}

	affected, err := s.repo.Invalidate(ctx, s.db, userID, s.clock.Now())
	if err != nil {
		return err
	}
	if affected > 0 {
		s.obsMetrics.RecordByokInvalidation(ctx, "provider_rejected")
		s.log.Warn("byok invalidated, falling back to credits", zap.String("user_id", userID))
	}
	return nil
}

func (s *Service) SetEnabled(ctx context.Context, userID string, enabled bool) (*byokdomain.Status, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, byokdomain.ErrInvalidUser
	}
	if _, err := s.ledger.GetWallet(ctx, userID); err != nil {
		return nil, err
	}

	if !enabled {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			flags, err := s.repo.LockFlags(ctx, tx, userID)
			if err != nil {
				return err
			}
			if flags == nil {
				return ledgerdomain.ErrWalletNotFound
			}
			flags.ByokEnabled = false
			flags.ByokValid = false
			return s.repo.UpdateFlags(ctx, tx, *flags, s.clock.Now())
		})
		if err != nil {
			return nil, err
		}
		s.log.Info("byok disabled", zap.String("user_id", userID))
		return s.Status(ctx, userID)
	}

	creds, err := s.repo.ListCredentials(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		return nil, byokdomain.ErrNoCredentials
	}

	// Provider round trips happen before any row lock is taken.
	for _, check := range s.verifyStored(ctx, creds) {
		if !check.Valid {
			return nil, &byokdomain.VerificationError{Provider: check.Provider, Err: errors.New(check.Error)}
		}
	}
	verified := fingerprint(creds)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		flags, err := s.repo.LockFlags(ctx, tx, userID)
		if err != nil {
			return err
		}
		if flags == nil {
			return ledgerdomain.ErrWalletNotFound
		}

		current, err := s.repo.ListCredentials(ctx, tx, userID)
		if err != nil {
			return err
		}
		if fingerprint(current) != verified {
			return byokdomain.ErrCredentialsChanged
		}

		now := s.clock.Now()
		flags.ByokEnabled = true
		flags.ByokValid = true
		flags.KeysLastCheckedAt = &now
		return s.repo.UpdateFlags(ctx, tx, *flags, now)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("byok enabled", zap.String("user_id", userID), zap.Int("credentials", len(creds)))
	return s.Status(ctx, userID)
}

func (s *Service) Status(ctx context.Context, userID string) (*byokdomain.Status, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, byokdomain.ErrInvalidUser
	}

	wallet, err := s.ledger.GetWallet(ctx, userID)
	if err != nil {
		return nil, err
	}

	creds, err := s.repo.ListCredentials(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	byProvider := make(map[byokdomain.Provider]byokdomain.Credential, len(creds))
	for _, c := range creds {
		byProvider[c.Provider] = c
	}

	keys := make([]byokdomain.KeyStatus, 0, len(byokdomain.Providers))
	for _, provider := range byokdomain.Providers {
		entry := byokdomain.KeyStatus{Provider: provider}
		if cred, ok := byProvider[provider]; ok {
			entry.Configured = true
			updatedAt := cred.UpdatedAt
			entry.UpdatedAt = &updatedAt
			if plain, err := s.sealer.Open(cred.Ciphertext); err == nil {
				entry.Masked = sealer.Mask(plain)
			}
		}
		keys = append(keys, entry)
	}

	return &byokdomain.Status{
		ByokEnabled:       wallet.ByokEnabled,
		ByokValid:         wallet.ByokValid,
		Active:            wallet.ByokEnabled && wallet.ByokValid,
		KeysLastCheckedAt: wallet.KeysLastCheckedAt,
		Keys:              keys,
	}, nil
}

// SaveKeys verifies and stores the supplied keys. Keys already stored for
// other providers are re-verified so the shared validity flag stays honest.
func (s *Service) SaveKeys(ctx context.Context, userID string, req byokdomain.SaveKeysRequest) (*byokdomain.Status, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, byokdomain.ErrInvalidUser
	}

	keys := make(map[byokdomain.Provider]string)
	for provider, key := range req.Keys() {
		if key = strings.TrimSpace(key); key != "" {
			keys[provider] = key
		}
	}
	if len(keys) == 0 {
		return nil, byokdomain.ErrNoCredentials
	}
	if !s.sealer.Configured() {
		return nil, byokdomain.ErrEncryptionKeyMissing
	}
	if _, err := s.ledger.GetWallet(ctx, userID); err != nil {
		return nil, err
	}

	sealed := make(map[byokdomain.Provider]string, len(keys))
	for _, provider := range sortedProviders(keys) {
		if err := s.validate(ctx, provider, keys[provider]); err != nil {
			return nil, &byokdomain.VerificationError{Provider: provider, Err: err}
		}
		ciphertext, err := s.sealer.Seal(keys[provider])
		if err != nil {
			return nil, err
		}
		sealed[provider] = ciphertext
	}

	stored, err := s.repo.ListCredentials(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	others := make([]byokdomain.Credential, 0, len(stored))
	for _, c := range stored {
		if _, replaced := keys[c.Provider]; !replaced {
			others = append(others, c)
		}
	}
	allValid := true
	for _, check := range s.verifyStored(ctx, others) {
		if !check.Valid {
			allValid = false
			s.log.Info("stored byok key failed verification",
				zap.String("user_id", userID),
				zap.String("provider", string(check.Provider)),
			)
		}
	}

	enable := req.Enable != nil && *req.Enable
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		flags, err := s.repo.LockFlags(ctx, tx, userID)
		if err != nil {
			return err
		}
		if flags == nil {
			return ledgerdomain.ErrWalletNotFound
		}

		now := s.clock.Now()
		for _, provider := range sortedProviders(sealed) {
			if err := s.repo.UpsertCredential(ctx, tx, &byokdomain.Credential{
				ID:         s.genID.Generate(),
				UserID:     userID,
				Provider:   provider,
				Ciphertext: sealed[provider],
				CreatedAt:  now,
				UpdatedAt:  now,
			}); err != nil {
				return err
			}
		}

		flags.ByokValid = allValid
		flags.ByokEnabled = enable && allValid
		flags.KeysLastCheckedAt = &now
		return s.repo.UpdateFlags(ctx, tx, *flags, now)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("byok keys saved",
		zap.String("user_id", userID),
		zap.Int("providers", len(sealed)),
		zap.Bool("valid", allValid),
	)
	return s.Status(ctx, userID)
}

func (s *Service) RemoveKeys(ctx context.Context, userID string, target string) (*byokdomain.Status, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, byokdomain.ErrInvalidUser
	}

	target = strings.ToLower(strings.TrimSpace(target))
	removeAll := target == "" || target == byokdomain.RemoveAll
	providers := byokdomain.Providers
	if !removeAll {
		provider, ok := byokdomain.ParseProvider(target)
		if !ok {
			return nil, byokdomain.ErrUnsupportedProvider
		}
		providers = []byokdomain.Provider{provider}
	}

	if _, err := s.ledger.GetWallet(ctx, userID); err != nil {
		return nil, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		flags, err := s.repo.LockFlags(ctx, tx, userID)
		if err != nil {
			return err
		}
		if flags == nil {
			return ledgerdomain.ErrWalletNotFound
		}

		if _, err := s.repo.DeleteCredentials(ctx, tx, userID, providers); err != nil {
			return err
		}
		remaining, err := s.repo.ListCredentials(ctx, tx, userID)
		if err != nil {
			return err
		}

		flags.ByokValid = false
		if removeAll || len(remaining) == 0 {
			flags.ByokEnabled = false
		}
		return s.repo.UpdateFlags(ctx, tx, *flags, s.clock.Now())
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("byok keys removed", zap.String("user_id", userID), zap.String("target", target))
	return s.Status(ctx, userID)
}

func (s *Service) VerifyAndSwitch(ctx context.Context, userID string) (*byokdomain.VerifyResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, byokdomain.ErrInvalidUser
	}

	if s.locker != nil && s.locker.Enabled() {
		lockKey := "byok:verify:" + userID
		token, ok, err := s.locker.TryLock(ctx, lockKey, verifyLockTTL)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, byokdomain.ErrVerificationInProgress
		}
		defer func() {
			if err := s.locker.Release(context.Background(), lockKey, token); err != nil {
				s.log.Warn("release byok verify lock", zap.String("user_id", userID), zap.Error(err))
			}
		}()
	}

	wallet, err := s.ledger.GetWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	creds, err := s.repo.ListCredentials(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}

	checks := s.verifyStored(ctx, creds)
	valid := len(creds) > 0
	for _, check := range checks {
		if !check.Valid {
			valid = false
		}
	}

	result := &byokdomain.VerifyResult{Valid: valid, Checks: checks}
	if valid {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			flags, err := s.repo.LockFlags(ctx, tx, userID)
			if err != nil {
				return err
			}
			if flags == nil {
				return ledgerdomain.ErrWalletNotFound
			}
			current, err := s.repo.ListCredentials(ctx, tx, userID)
			if err != nil {
				return err
			}
			if fingerprint(current) != fingerprint(creds) {
				return byokdomain.ErrCredentialsChanged
			}
			now := s.clock.Now()
			flags.ByokValid = true
			flags.KeysLastCheckedAt = &now
			return s.repo.UpdateFlags(ctx, tx, *flags, now)
		})
		if err != nil {
			return nil, err
		}
	} else {
		if err := s.Invalidate(ctx, userID); err != nil {
			return nil, err
		}
		result.SwitchedToCredits = wallet.ByokEnabled
	}

	status, err := s.Status(ctx, userID)
	if err != nil {
		return nil, err
	}
	result.Status = status
	return result, nil
}

func (s *Service) verifyStored(ctx context.Context, creds []byokdomain.Credential) []byokdomain.ProviderCheck {
	checks := make([]byokdomain.ProviderCheck, 0, len(creds))
	for _, cred := range creds {
		check := byokdomain.ProviderCheck{Provider: cred.Provider, Valid: true}
		key, err := s.sealer.Open(cred.Ciphertext)
		if err == nil {
			err = s.validate(ctx, cred.Provider, key)
		}
		if err != nil {
			check.Valid = false
			check.Error = err.Error()
		}
		checks = append(checks, check)
	}
	return checks
}

func (s *Service) validate(ctx context.Context, provider byokdomain.Provider, key string) error {
	validator, ok := s.validators[provider]
	if !ok {
		return byokdomain.ErrUnsupportedProvider
	}
	return validator.Validate(ctx, key)
}

// fingerprint identifies a credential set; every re-seal changes the nonce
// and therefore the ciphertext.
func fingerprint(creds []byokdomain.Credential) string {
	parts := make([]string, 0, len(creds))
	for _, c := range creds {
		parts = append(parts, string(c.Provider)+"="+c.Ciphertext)
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

func sortedProviders(values map[byokdomain.Provider]string) []byokdomain.Provider {
	out := make([]byokdomain.Provider, 0, len(values))
	for provider := range values {
		out = append(out, provider)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
