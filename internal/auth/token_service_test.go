package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testTokenConfig() TokenConfig {
	return TokenConfig{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		Issuer:        "mediahub-test",
	}
}

func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	svc, err := NewTokenService(testTokenConfig())
	require.NoError(t, err)
	return svc
}

func TestNewTokenServiceRejectsBadConfig(t *testing.T) {
	shared := testTokenConfig()
	shared.RefreshSecret = shared.AccessSecret

	missing := testTokenConfig()
	missing.AccessSecret = ""

	zeroTTL := testTokenConfig()
	zeroTTL.RefreshTTL = 0

	for name, cfg := range map[string]TokenConfig{"shared": shared, "missing": missing, "zero ttl": zeroTTL} {
		_, err := NewTokenService(cfg)
		require.Error(t, err, name)
	}
}

func TestTokenServiceRoundTrip(t *testing.T) {
	svc := newTestTokenService(t)

	access, accessExp, err := svc.IssueAccessToken("user-1")
	require.NoError(t, err)
	refresh, refreshExp, err := svc.IssueRefreshToken("user-1")
	require.NoError(t, err)
	require.True(t, refreshExp.After(accessExp))

	userID, err := svc.Verify(access, AccessToken)
	require.NoError(t, err)
	require.Equal(t, "user-1", userID)

	userID, err = svc.Verify(refresh, RefreshToken)
	require.NoError(t, err)
	require.Equal(t, "user-1", userID)
}

func TestTokenServiceIssuesDistinctTokens(t *testing.T) {
	svc := newTestTokenService(t)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	first, _, err := svc.IssueRefreshToken("user-1")
	require.NoError(t, err)
	second, _, err := svc.IssueRefreshToken("user-1")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestTokenServiceVerifyFailures(t *testing.T) {
	svc := newTestTokenService(t)

	access, _, err := svc.IssueAccessToken("user-1")
	require.NoError(t, err)
	refresh, _, err := svc.IssueRefreshToken("user-1")
	require.NoError(t, err)

	other := testTokenConfig()
	other.AccessSecret = "another-secret"
	forger, err := NewTokenService(other)
	require.NoError(t, err)
	forged, _, err := forger.IssueAccessToken("user-1")
	require.NoError(t, err)

	expiring := newTestTokenService(t)
	expiring.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _, err := expiring.IssueAccessToken("user-1")
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		kind  TokenKind
	}{
		{"empty", "", AccessToken},
		{"garbage", "not.a.jwt", AccessToken},
		{"refresh used as access", refresh, AccessToken},
		{"access used as refresh", access, RefreshToken},
		{"wrong signature", forged, AccessToken},
		{"expired", expired, AccessToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Verify(tt.token, tt.kind)
			require.True(t, errors.Is(err, ErrInvalidToken), "got %v", err)
		})
	}
}

func TestTokenServiceRequiresUserID(t *testing.T) {
	svc := newTestTokenService(t)
	_, _, err := svc.IssueAccessToken("  ")
	require.Error(t, err)
}
