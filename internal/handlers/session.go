package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/vidfriends/mediahub/internal/apperr"
	"github.com/vidfriends/mediahub/internal/auth"
	"github.com/vidfriends/mediahub/internal/models"
)

const (
	accessCookie  = "accessToken"
	refreshCookie = "refreshToken"
)

// cookieJar writes the session token carriers.
type cookieJar struct {
	secure bool
}

func (c cookieJar) set(w http.ResponseWriter, tokens models.SessionTokens) {
	http.SetCookie(w, c.cookie(accessCookie, tokens.AccessToken, tokens.AccessExpiresAt))
	http.SetCookie(w, c.cookie(refreshCookie, tokens.RefreshToken, tokens.RefreshExpiresAt))
}

func (c cookieJar) clear(w http.ResponseWriter) {
	for _, name := range []string{accessCookie, refreshCookie} {
		cookie := c.cookie(name, "", time.Unix(0, 0))
		cookie.MaxAge = -1
		http.SetCookie(w, cookie)
	}
}

func (c cookieJar) cookie(name, value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// accessToken reads the bearer header, falling back to the cookie.
func accessToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(accessCookie); err == nil {
		return cookie.Value
	}
	return ""
}

// RequireAuth rejects requests without a valid access token and stores the
// caller identity on the request context.
func RequireAuth(sessions SessionService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := accessToken(r)
			if token == "" {
				respondError(r.Context(), w, apperr.Unauthorized("unauthorized request", nil))
				return
			}
			user, err := sessions.Authenticate(r.Context(), token)
			if err != nil {
				respondError(r.Context(), w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), user.ID)))
		})
	}
}

// OptionalAuth resolves the caller when a valid token is present and
// otherwise treats the request as anonymous.
func OptionalAuth(sessions SessionService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token := accessToken(r); token != "" {
				if user, err := sessions.Authenticate(r.Context(), token); err == nil {
					r = r.WithContext(auth.WithUserID(r.Context(), user.ID))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
