package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/breakdown-service/internal/auth"
	"github.com/spec-kit/breakdown-service/internal/config"
	"github.com/spec-kit/breakdown-service/internal/domain"
	"github.com/spec-kit/breakdown-service/internal/events"
	"github.com/spec-kit/breakdown-service/internal/repository"
	apperrors "github.com/spec-kit/breakdown-service/pkg/util/errorutil"
)

// SessionDetacher releases every live view held by a principal.
type SessionDetacher interface {
	DetachAll(principalID string) int
}

// AuthService coordinates registration, sign-in and sign-out.
type AuthService struct {
	profiles    repository.ProfileRepository
	tokenMgr    *auth.TokenManager
	revocations auth.RevocationList
	sessions    SessionDetacher
	dispatcher  events.Dispatcher
	logger      *zap.Logger
	bcryptCost  int
	defaultRole domain.Role
}

// AuthDependencies encapsulates collaborators for the auth service.
type AuthDependencies struct {
	ProfileRepo repository.ProfileRepository
	Revocations auth.RevocationList
	Sessions    SessionDetacher
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
}

// RegisterInput describes a new account.
type RegisterInput struct {
	Email       string
	Password    string
	DisplayName string
	Role        domain.Role
}

// SignInInput carries credentials plus optional profile refreshes.
type SignInInput struct {
	Email       string
	Password    string
	DisplayName string
	// Role overwrites the stored role only when set.
	Role *domain.Role
}

// AuthResult is returned by successful register and sign-in calls.
type AuthResult struct {
	Profile   *domain.Profile
	Token     string
	ExpiresAt time.Time
}

// NewAuthService builds the service.
func NewAuthService(cfg config.Config, deps AuthDependencies) *AuthService {
	defaultRole := domain.Role(strings.ToLower(cfg.Auth.DefaultSignupRole))
	if !defaultRole.Valid() {
		defaultRole = domain.RoleReporter
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	revocations := deps.Revocations
	if revocations == nil {
		revocations = auth.NewMemoryRevocationList()
	}
	return &AuthService{
		profiles:    deps.ProfileRepo,
		tokenMgr:    auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes),
		revocations: revocations,
		sessions:    deps.Sessions,
		dispatcher:  deps.Dispatcher,
		logger:      logger,
		bcryptCost:  cfg.Auth.BcryptCost,
		defaultRole: defaultRole,
	}
}

// Register creates credentials and the profile in one row.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	email := normalizeEmail(input.Email)
	if !strings.Contains(email, "@") {
		return nil, apperrors.NewValidationError("valid email is required", map[string]any{"field": "email"})
	}
	if len(input.Password) < auth.MinPasswordLength {
		return nil, apperrors.NewValidationError("password too short", map[string]any{
			"field": "password",
			"min":   auth.MinPasswordLength,
		})
	}
	role := input.Role
	if role == "" {
		role = s.defaultRole
	}
	if !role.Valid() {
		return nil, apperrors.NewValidationError("unknown role", map[string]any{"role": role})
	}

	hash, err := auth.HashPassword(input.Password, s.bcryptCost)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	profile := &domain.Profile{
		Email:        email,
		DisplayName:  displayNameOrFallback(input.DisplayName, email),
		Role:         role,
		PasswordHash: hash,
	}
	if err := s.profiles.Create(ctx, profile); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.NewConflict("email already registered", map[string]any{"email": email})
		}
		return nil, apperrors.NewStoreError(err)
	}
	s.publishProfileChanged(ctx, profile)

	return s.issue(profile)
}

// SignIn verifies credentials, then refreshes the profile the way EnsureProfile does.
func (s *AuthService) SignIn(ctx context.Context, input SignInInput) (*AuthResult, error) {
	profile, err := s.profiles.GetByEmail(ctx, normalizeEmail(input.Email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewUnauthorized("invalid credentials")
		}
		return nil, apperrors.NewStoreError(err)
	}
	if err := auth.ComparePassword(profile.PasswordHash, input.Password); err != nil {
		return nil, apperrors.NewUnauthorized("invalid credentials")
	}

	profile, err = s.EnsureProfile(ctx, profile.Principal(), input.DisplayName, input.Role)
	if err != nil {
		return nil, err
	}
	return s.issue(profile)
}

// EnsureProfile creates the profile for identity if it is missing. An existing profile
// gets its display name refreshed, and its role replaced only when role is non-nil.
func (s *AuthService) EnsureProfile(ctx context.Context, identity domain.Principal, displayName string, role *domain.Role) (*domain.Profile, error) {
	if role != nil && !role.Valid() {
		return nil, apperrors.NewValidationError("unknown role", map[string]any{"role": *role})
	}
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = strings.TrimSpace(identity.DisplayName)
	}

	profile, err := s.profiles.GetByID(ctx, identity.ID)
	if errors.Is(err, repository.ErrNotFound) {
		created := &domain.Profile{
			ID:          identity.ID,
			Email:       normalizeEmail(identity.Email),
			DisplayName: displayNameOrFallback(name, identity.Email),
			Role:        s.defaultRole,
		}
		if role != nil {
			created.Role = *role
		}
		if err := s.profiles.Create(ctx, created); err != nil {
			return nil, apperrors.NewStoreError(err)
		}
		s.publishProfileChanged(ctx, created)
		return created, nil
	}
	if err != nil {
		return nil, apperrors.NewStoreError(err)
	}

	changed := false
	if name != "" && profile.DisplayName != name {
		profile.DisplayName = name
		changed = true
	} else if profile.DisplayName == "" {
		profile.DisplayName = displayNameOrFallback("", profile.Email)
		changed = true
	}
	if role != nil && profile.Role != *role {
		profile.Role = *role
		changed = true
	}
	if changed {
		if err := s.profiles.Update(ctx, profile); err != nil {
			return nil, apperrors.NewStoreError(err)
		}
		s.publishProfileChanged(ctx, profile)
	}
	return profile, nil
}

// SignOut revokes the presented token and detaches every live view of the principal.
func (s *AuthService) SignOut(ctx context.Context, principal domain.Principal, claims *auth.Claims) error {
	if claims != nil && claims.ID != "" {
		until := time.Now().Add(s.tokenMgr.TTL())
		if claims.ExpiresAt != nil {
			until = claims.ExpiresAt.Time
		}
		if err := s.revocations.Revoke(ctx, claims.ID, until); err != nil {
			return apperrors.NewStoreError(err)
		}
	}
	if s.sessions != nil {
		detached := s.sessions.DetachAll(principal.ID)
		s.logger.Info("principal signed out",
			zap.String("principal_id", principal.ID),
			zap.Int("detached_views", detached))
	}
	return nil
}

// Profile returns the stored profile.
func (s *AuthService) Profile(ctx context.Context, id string) (*domain.Profile, error) {
	profile, err := s.profiles.GetByID(ctx, id)
	if err != nil {
		return nil, storeError("profile", id, err)
	}
	return profile, nil
}

// Technicians lists every technician profile.
func (s *AuthService) Technicians(ctx context.Context) ([]domain.Profile, error) {
	profiles, err := s.profiles.ListByRole(ctx, domain.RoleTechnician)
	if err != nil {
		return nil, apperrors.NewStoreError(err)
	}
	return profiles, nil
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}

// Revocations exposes the revocation list for middleware usage.
func (s *AuthService) Revocations() auth.RevocationList {
	return s.revocations
}

func (s *AuthService) issue(profile *domain.Profile) (*AuthResult, error) {
	token, exp, err := s.tokenMgr.GenerateToken(profile.ID, profile.Role)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return &AuthResult{Profile: profile, Token: token, ExpiresAt: exp}, nil
}

func (s *AuthService) publishProfileChanged(ctx context.Context, profile *domain.Profile) {
	if s.dispatcher == nil {
		return
	}
	err := s.dispatcher.Publish(ctx, events.Event{
		Type:  events.EventProfileChanged,
		Actor: events.Actor{ID: profile.ID, Role: profile.Role},
		Payload: events.ProfileChangedPayload{
			ProfileID: profile.ID,
			Role:      profile.Role,
		},
	})
	if err != nil {
		s.logger.Warn("profile change not published", zap.String("profile_id", profile.ID), zap.Error(err))
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// displayNameOrFallback uses the local part of the email when no name is given.
func displayNameOrFallback(name, email string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	local, _, _ := strings.Cut(strings.TrimSpace(email), "@")
	if local == "" {
		return "User"
	}
	return local
}
