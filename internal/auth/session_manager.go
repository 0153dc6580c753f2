package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/vidfriends/mediahub/internal/apperr"
	"github.com/vidfriends/mediahub/internal/logging"
	"github.com/vidfriends/mediahub/internal/metrics"
	"github.com/vidfriends/mediahub/internal/models"
	"github.com/vidfriends/mediahub/internal/repositories"
)

// CredentialStore persists user credentials and the single active refresh token.
type CredentialStore interface {
	// FindByIdentifier looks a user up by lower-cased username or email.
	FindByIdentifier(ctx context.Context, identifier string) (models.User, error)
	FindByID(ctx context.Context, id string) (models.User, error)
	// SetRefreshToken overwrites the stored token; nil clears it.
	SetRefreshToken(ctx context.Context, userID string, token *string) error
	// CompareAndSwapRefreshToken replaces expected with next only if expected is
	// still the stored value. It reports whether the swap happened.
	CompareAndSwapRefreshToken(ctx context.Context, userID, expected, next string) (bool, error)
}

// LoginInput carries the credentials presented at login.
type LoginInput struct {
	Identifier string
	Password   string
}

// LoginResult is returned after a successful login.
type LoginResult struct {
	Tokens models.SessionTokens
	User   models.PublicUser
}

// Manager orchestrates login, refresh, logout and request authentication.
type Manager struct {
	tokens  *TokenService
	store   CredentialStore
	metrics *metrics.Recorder
}

// NewManager constructs a Manager. recorder may be nil.
func NewManager(tokens *TokenService, store CredentialStore, recorder *metrics.Recorder) *Manager {
	if tokens == nil {
		panic("auth: token service must not be nil")
	}
	if store == nil {
		panic("auth: credential store must not be nil")
	}
	return &Manager{tokens: tokens, store: store, metrics: recorder}
}

// Tokens exposes the token service backing the manager.
func (m *Manager) Tokens() *TokenService { return m.tokens }

// Login verifies the credentials and starts a new session, superseding any
// previous one held by the user.
func (m *Manager) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	ctx, span := logging.StartSpan(ctx, "auth.login")
	defer span.End()
	logger := logging.FromContext(ctx)

	identifier := strings.ToLower(strings.TrimSpace(in.Identifier))
	var missing []string
	if identifier == "" {
		missing = append(missing, "identifier")
	}
	if in.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return LoginResult{}, apperr.Validation("username or email and password are required", missing...)
	}

	user, err := m.store.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			logger.Warn("login unknown user", "identifier", identifier)
			return LoginResult{}, apperr.NotFound("user does not exist")
		}
		return LoginResult{}, apperr.Persistence("failed to look up user", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)); err != nil {
		logger.Warn("login password mismatch", "userId", user.ID)
		return LoginResult{}, apperr.Unauthorized("invalid user credentials", nil)
	}

	tokens, err := m.issuePair(user.ID)
	if err != nil {
		return LoginResult{}, err
	}

	if err := m.store.SetRefreshToken(ctx, user.ID, &tokens.RefreshToken); err != nil {
		return LoginResult{}, apperr.Persistence("failed to store session", err)
	}

	logger.Info("user logged in", "userId", user.ID)
	return LoginResult{Tokens: tokens, User: user.Public()}, nil
}

// Refresh rotates the presented refresh token. Of several concurrent calls
// presenting the same token at most one succeeds.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (models.SessionTokens, error) {
	ctx, span := logging.StartSpan(ctx, "auth.refresh")
	defer span.End()
	logger := logging.FromContext(ctx)

	if strings.TrimSpace(refreshToken) == "" {
		return models.SessionTokens{}, apperr.Unauthorized("unauthorized request", nil)
	}

	userID, err := m.tokens.Verify(refreshToken, RefreshToken)
	if err != nil {
		m.metrics.TokenRotation("invalid")
		return models.SessionTokens{}, apperr.Unauthorized("invalid refresh token", err)
	}

	user, err := m.store.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			m.metrics.TokenRotation("invalid")
			return models.SessionTokens{}, apperr.Unauthorized("invalid refresh token", err)
		}
		return models.SessionTokens{}, apperr.Persistence("failed to look up user", err)
	}

	if user.RefreshToken == nil || *user.RefreshToken != refreshToken {
		m.metrics.TokenRotation("replayed")
		logger.Warn("superseded refresh token presented", "userId", user.ID)
		return models.SessionTokens{}, apperr.Unauthorized("refresh token is expired or used", nil)
	}

	tokens, err := m.issuePair(user.ID)
	if err != nil {
		return models.SessionTokens{}, err
	}

	swapped, err := m.store.CompareAndSwapRefreshToken(ctx, user.ID, refreshToken, tokens.RefreshToken)
	if err != nil {
		return models.SessionTokens{}, apperr.Persistence("failed to rotate session", err)
	}
	if !swapped {
		m.metrics.TokenRotation("replayed")
		logger.Warn("refresh token lost rotation race", "userId", user.ID)
		return models.SessionTokens{}, apperr.Unauthorized("refresh token is expired or used", nil)
	}

	m.metrics.TokenRotation("rotated")
	return tokens, nil
}

// Logout clears the stored refresh token. Logging out twice is not an error.
func (m *Manager) Logout(ctx context.Context, userID string) error {
	ctx, span := logging.StartSpan(ctx, "auth.logout")
	defer span.End()

	if strings.TrimSpace(userID) == "" {
		return apperr.Unauthorized("unauthorized request", nil)
	}

	if err := m.store.SetRefreshToken(ctx, userID, nil); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil
		}
		return apperr.Persistence("failed to end session", err)
	}

	logging.FromContext(ctx).Info("user logged out", slog.String("userId", userID))
	return nil
}

// Authenticate resolves an access token to the user it was issued for.
func (m *Manager) Authenticate(ctx context.Context, accessToken string) (models.PublicUser, error) {
	if strings.TrimSpace(accessToken) == "" {
		return models.PublicUser{}, apperr.Unauthorized("unauthorized request", nil)
	}

	userID, err := m.tokens.Verify(accessToken, AccessToken)
	if err != nil {
		return models.PublicUser{}, apperr.Unauthorized("invalid access token", err)
	}

	user, err := m.store.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.PublicUser{}, apperr.Unauthorized("invalid access token", err)
		}
		return models.PublicUser{}, apperr.Persistence("failed to look up user", err)
	}

	return user.Public(), nil
}

func (m *Manager) issuePair(userID string) (models.SessionTokens, error) {
	access, accessExp, err := m.tokens.IssueAccessToken(userID)
	if err != nil {
		return models.SessionTokens{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, refreshExp, err := m.tokens.IssueRefreshToken(userID)
	if err != nil {
		return models.SessionTokens{}, fmt.Errorf("issue refresh token: %w", err)
	}
	return models.SessionTokens{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}
