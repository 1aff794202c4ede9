package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/bher20/meterbill/internal/storage"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
)

const (
	RoleOwner = "owner"
	RoleAdmin = "admin"
)

// Policy objects. Actions are "read" and "write".
const (
	ObjProperties = "properties"
	ObjMeters     = "meters"
	ObjReadings   = "readings"
	ObjTariffs    = "tariffs"
	ObjCharges    = "charges"
	ObjPayments   = "payments"
	ObjAnalytics  = "analytics"
)

const policyModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && (r.obj == p.obj || p.obj == "*") && (r.act == p.act || p.act == "*")
`

type Options struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// TariffsAdminOnly withholds tariff writes from the owner role.
	TariffsAdminOnly bool
}

type Service struct {
	storage  storage.Storage
	enforcer *casbin.Enforcer
	opts     Options
	now      func() time.Time
}

func NewService(s storage.Storage, opts Options) (*Service, error) {
	m, err := model.NewModelFromString(policyModel)
	if err != nil {
		return nil, err
	}

	e, err := casbin.NewEnforcer(m, NewAdapter(s))
	if err != nil {
		return nil, fmt.Errorf("casbin enforcer: %w", err)
	}

	// Admin can do everything
	policies := [][]string{{RoleAdmin, "*", "*"}}
	// Owners manage their own metering data; ownership is checked per row by the handlers.
	for _, obj := range []string{ObjProperties, ObjMeters, ObjReadings, ObjPayments} {
		policies = append(policies, []string{RoleOwner, obj, "read"}, []string{RoleOwner, obj, "write"})
	}
	policies = append(policies,
		[]string{RoleOwner, ObjCharges, "read"},
		[]string{RoleOwner, ObjAnalytics, "read"},
		[]string{RoleOwner, ObjTariffs, "read"},
	)
	for _, p := range policies {
		if _, err := e.AddPolicy(p[0], p[1], p[2]); err != nil {
			return nil, fmt.Errorf("add policy %v: %w", p, err)
		}
	}

	if opts.TariffsAdminOnly {
		if _, err := e.RemovePolicy(RoleOwner, ObjTariffs, "write"); err != nil {
			return nil, err
		}
	} else if _, err := e.AddPolicy(RoleOwner, ObjTariffs, "write"); err != nil {
		return nil, err
	}

	return &Service{storage: s, enforcer: e, opts: opts, now: time.Now}, nil
}

func (s *Service) Authenticate(ctx context.Context, username, password string) (*storage.User, error) {
	u, err := s.storage.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

func (s *Service) Register(ctx context.Context, username, password, email, role string) (*storage.User, error) {
	existing, err := s.storage.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUserExists
	}
	if role == "" {
		role = RoleOwner
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	u := storage.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.storage.CreateUser(ctx, u); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, ErrUserExists
		}
		return nil, err
	}
	log.Info().Str("username", username).Str("role", role).Msg("user registered")
	return &u, nil
}

// SetPassword replaces the password of an existing user.
func (s *Service) SetPassword(ctx context.Context, u *storage.User, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	u.UpdatedAt = s.now().UTC()
	return s.storage.UpdateUser(ctx, *u)
}

// IssuePair creates a new access and refresh token for u.
func (s *Service) IssuePair(ctx context.Context, u *storage.User) (access, refresh string, err error) {
	if access, err = s.createToken(ctx, u, storage.TokenAccess, s.opts.AccessTTL); err != nil {
		return "", "", err
	}
	if refresh, err = s.createToken(ctx, u, storage.TokenRefresh, s.opts.RefreshTTL); err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// Refresh exchanges a valid refresh token for a new access token.
func (s *Service) Refresh(ctx context.Context, rawRefresh string) (string, error) {
	t, err := s.validate(ctx, rawRefresh, storage.TokenRefresh)
	if err != nil {
		return "", err
	}
	u, err := s.storage.GetUser(ctx, t.UserID)
	if err != nil {
		return "", err
	}
	if u == nil {
		return "", ErrInvalidToken
	}
	return s.createToken(ctx, u, storage.TokenAccess, s.opts.AccessTTL)
}

// ValidateAccess resolves a bearer access token.
func (s *Service) ValidateAccess(ctx context.Context, rawToken string) (*storage.Token, error) {
	return s.validate(ctx, rawToken, storage.TokenAccess)
}

func (s *Service) createToken(ctx context.Context, u *storage.User, kind string, ttl time.Duration) (string, error) {
	rawToken := uuid.New().String() + uuid.New().String()

	now := s.now().UTC()
	t := storage.Token{
		ID:        uuid.New().String(),
		UserID:    u.ID,
		Kind:      kind,
		TokenHash: hashToken(rawToken),
		Role:      u.Role,
		CreatedAt: now,
		ExpiresAt: expiry(now, ttl),
	}
	if err := s.storage.CreateToken(ctx, t); err != nil {
		return "", err
	}
	return rawToken, nil
}

func (s *Service) validate(ctx context.Context, rawToken, kind string) (*storage.Token, error) {
	t, err := s.storage.GetTokenByHash(ctx, hashToken(rawToken))
	if err != nil {
		return nil, err
	}
	if t == nil || t.Kind != kind {
		return nil, ErrInvalidToken
	}
	if t.ExpiresAt != nil && t.ExpiresAt.Before(s.now()) {
		return nil, ErrTokenExpired
	}

	go s.storage.UpdateTokenLastUsed(context.Background(), t.ID)

	return t, nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// PurgeExpiredTokens deletes tokens that expired before now.
func (s *Service) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	return s.storage.DeleteExpiredTokens(ctx, s.now().UTC())
}

func (s *Service) Enforce(sub, obj, act string) (bool, error) {
	return s.enforcer.Enforce(sub, obj, act)
}
