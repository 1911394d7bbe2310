package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	authdomain "github.com/smallbiznis/leadforge/internal/auth/domain"
	"github.com/smallbiznis/leadforge/internal/clock"
	"github.com/smallbiznis/leadforge/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const signingMethod = "HS256"

type Params struct {
	fx.In

	Cfg   config.Config
	Log   *zap.Logger
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	log    *zap.Logger
	secret []byte
	clock  clock.Clock
}

func New(p Params) authdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	log := p.Log.Named("auth.service")
	secret := strings.TrimSpace(p.Cfg.AuthJWTSecret)
	if secret == "" {
		log.Warn("AUTH_JWT_SECRET is empty, authenticated routes will reject every request")
	}
	return &Service{
		log:    log,
		secret: []byte(secret),
		clock:  clk,
	}
}

func (s *Service) Verify(ctx context.Context, rawToken string) (*authdomain.Identity, error) {
	if len(s.secret) == 0 {
		return nil, authdomain.ErrAuthNotConfigured
	}
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, authdomain.ErrMissingToken
	}

	claims := &authdomain.Claims{}
	token, err := jwt.ParseWithClaims(rawToken, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{signingMethod}),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, authdomain.ErrTokenExpired
		}
		s.log.Debug("token rejected", zap.Error(err))
		return nil, authdomain.ErrInvalidToken
	}
	if !token.Valid {
		return nil, authdomain.ErrInvalidToken
	}

	userID := strings.TrimSpace(claims.UserID)
	if userID == "" {
		userID = strings.TrimSpace(claims.Subject)
	}
	if userID == "" {
		return nil, authdomain.ErrInvalidToken
	}

	return &authdomain.Identity{
		UserID: userID,
		Email:  strings.TrimSpace(claims.Email),
	}, nil
}

// Issue signs a token for the given identity. The account service owns login;
// this exists for operator tooling and tests.
func (s *Service) Issue(ctx context.Context, identity authdomain.Identity, ttl time.Duration) (string, error) {
	if len(s.secret) == 0 {
		return "", authdomain.ErrAuthNotConfigured
	}
	userID := strings.TrimSpace(identity.UserID)
	if userID == "" || ttl <= 0 {
		return "", authdomain.ErrInvalidToken
	}

	now := s.clock.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, authdomain.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: userID,
		Email:  strings.TrimSpace(identity.Email),
	})
	return token.SignedString(s.secret)
}
