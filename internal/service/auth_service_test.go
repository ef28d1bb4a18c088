package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/spec-kit/breakdown-service/internal/config"
	"github.com/spec-kit/breakdown-service/internal/domain"
	"github.com/spec-kit/breakdown-service/internal/repository/memory"
	apperrors "github.com/spec-kit/breakdown-service/pkg/util/errorutil"
)

type fakeSessions struct {
	mu       sync.Mutex
	detached []string
}

func (f *fakeSessions) DetachAll(principalID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detached = append(f.detached, principalID)
	return 2
}

func newTestAuthService(t *testing.T) (*AuthService, *memory.Store, *fakeSessions) {
	t.Helper()
	store := memory.NewStore()
	sessions := &fakeSessions{}
	cfg := config.Config{Auth: config.AuthConfig{
		JWTSecret:             "test-secret",
		AccessTokenTTLMinutes: 15,
		BcryptCost:            4,
		DefaultSignupRole:     "reporter",
	}}
	svc := NewAuthService(cfg, AuthDependencies{
		ProfileRepo: store.Profiles(),
		Sessions:    sessions,
		Logger:      zaptest.NewLogger(t),
	})
	return svc, store, sessions
}

func TestAuthService_Register(t *testing.T) {
	svc, _, _ := newTestAuthService(t)
	ctx := context.Background()

	res, err := svc.Register(ctx, RegisterInput{Email: " Rita@Example.com ", Password: "password1"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, "rita@example.com", res.Profile.Email)
	assert.Equal(t, "rita", res.Profile.DisplayName)
	assert.Equal(t, domain.RoleReporter, res.Profile.Role)

	claims, err := svc.TokenManager().ParseToken(res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.Profile.ID, claims.Subject)

	_, err = svc.Register(ctx, RegisterInput{Email: "rita@example.com", Password: "password1"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))

	_, err = svc.Register(ctx, RegisterInput{Email: "nobody", Password: "password1"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = svc.Register(ctx, RegisterInput{Email: "short@example.com", Password: "x"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = svc.Register(ctx, RegisterInput{Email: "boss@example.com", Password: "password1", Role: "owner"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestAuthService_SignIn(t *testing.T) {
	svc, _, _ := newTestAuthService(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, RegisterInput{Email: "tess@example.com", Password: "password1", DisplayName: "Tess", Role: domain.RoleTechnician})
	require.NoError(t, err)

	_, err = svc.SignIn(ctx, SignInInput{Email: "tess@example.com", Password: "wrong-pass"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnauthorized))
	_, err = svc.SignIn(ctx, SignInInput{Email: "ghost@example.com", Password: "password1"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnauthorized))

	res, err := svc.SignIn(ctx, SignInInput{Email: "TESS@example.com", Password: "password1"})
	require.NoError(t, err)
	assert.Equal(t, "Tess", res.Profile.DisplayName)
	assert.Equal(t, domain.RoleTechnician, res.Profile.Role, "role is kept when none is supplied")

	res, err = svc.SignIn(ctx, SignInInput{Email: "tess@example.com", Password: "password1", DisplayName: "Tess B."})
	require.NoError(t, err)
	assert.Equal(t, "Tess B.", res.Profile.DisplayName)
	assert.Equal(t, domain.RoleTechnician, res.Profile.Role)

	manager := domain.RoleManager
	res, err = svc.SignIn(ctx, SignInInput{Email: "tess@example.com", Password: "password1", Role: &manager})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleManager, res.Profile.Role)
	assert.Equal(t, "Tess B.", res.Profile.DisplayName)

	stored, err := svc.Profile(ctx, res.Profile.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleManager, stored.Role)
}

func TestAuthService_EnsureProfileCreatesMissing(t *testing.T) {
	svc, _, _ := newTestAuthService(t)
	ctx := context.Background()

	profile, err := svc.EnsureProfile(ctx, domain.Principal{ID: "ext-1", Email: "mia@example.com"}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "mia", profile.DisplayName)
	assert.Equal(t, domain.RoleReporter, profile.Role)

	bad := domain.Role("owner")
	_, err = svc.EnsureProfile(ctx, domain.Principal{ID: "ext-1"}, "", &bad)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = svc.Profile(ctx, "missing")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestAuthService_SignOutRevokesAndDetaches(t *testing.T) {
	svc, _, sessions := newTestAuthService(t)
	ctx := context.Background()
	res, err := svc.Register(ctx, RegisterInput{Email: "rita@example.com", Password: "password1"})
	require.NoError(t, err)
	claims, err := svc.TokenManager().ParseToken(res.Token)
	require.NoError(t, err)

	require.NoError(t, svc.SignOut(ctx, res.Profile.Principal(), claims))

	revoked, err := svc.Revocations().IsRevoked(ctx, claims.ID)
	require.NoError(t, err)
	assert.True(t, revoked)
	assert.Equal(t, []string{res.Profile.ID}, sessions.detached)
}

func TestAuthService_Technicians(t *testing.T) {
	svc, _, _ := newTestAuthService(t)
	ctx := context.Background()
	for _, in := range []RegisterInput{
		{Email: "zed@example.com", Password: "password1", DisplayName: "Zed", Role: domain.RoleTechnician},
		{Email: "amy@example.com", Password: "password1", DisplayName: "Amy", Role: domain.RoleTechnician},
		{Email: "rita@example.com", Password: "password1"},
	} {
		_, err := svc.Register(ctx, in)
		require.NoError(t, err)
	}

	techs, err := svc.Technicians(ctx)
	require.NoError(t, err)
	require.Len(t, techs, 2)
	assert.Equal(t, "Amy", techs[0].DisplayName)
	assert.Equal(t, "Zed", techs[1].DisplayName)
}

func TestDisplayNameOrFallback(t *testing.T) {
	assert.Equal(t, "Rita", displayNameOrFallback(" Rita ", "r@example.com"))
	assert.Equal(t, "r", displayNameOrFallback("", "r@example.com"))
	assert.Equal(t, "User", displayNameOrFallback("", ""))
}
