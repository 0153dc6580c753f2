package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/vidfriends/mediahub/internal/apperr"
	"github.com/vidfriends/mediahub/internal/auth"
	"github.com/vidfriends/mediahub/internal/models"
	"github.com/vidfriends/mediahub/internal/storage"
	"github.com/vidfriends/mediahub/internal/users"
)

// AuthHandler implements registration and session endpoints.
type AuthHandler struct {
	Users    Registrar
	Sessions SessionService
	cookies  cookieJar
	staging  stager
}

// Register handles POST /api/v1/users/register.
func (h AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.staging.parse(w, r); err != nil {
		respondError(ctx, w, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	avatar, err := h.staging.stage(r, "avatar")
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	cover, err := h.staging.stage(r, "coverImage")
	if err != nil {
		storage.RemoveStaged(avatar)
		respondError(ctx, w, err)
		return
	}

	user, err := h.Users.Register(ctx, users.RegisterInput{
		DisplayName: formValue(r, "displayName", "fullName"),
		Email:       formValue(r, "email"),
		Username:    formValue(r, "username"),
		Password:    r.FormValue("password"),
		AvatarPath:  avatar,
		CoverPath:   cover,
	})
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	respondData(ctx, w, http.StatusCreated, user, "user registered successfully")
}

// Login handles POST /api/v1/users/login.
func (h AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(ctx, w, apperr.Validation("invalid request body"))
		return
	}

	identifier := req.Username
	if strings.TrimSpace(identifier) == "" {
		identifier = req.Email
	}

	res, err := h.Sessions.Login(ctx, auth.LoginInput{Identifier: identifier, Password: req.Password})
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	h.cookies.set(w, res.Tokens)
	respondData(ctx, w, http.StatusOK, loginResponse{
		User:         res.User,
		AccessToken:  res.Tokens.AccessToken,
		RefreshToken: res.Tokens.RefreshToken,
	}, "user logged in successfully")
}

// Logout handles POST /api/v1/users/logout. It requires RequireAuth.
func (h AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, _ := auth.UserIDFromContext(ctx)
	if err := h.Sessions.Logout(ctx, userID); err != nil {
		respondError(ctx, w, err)
		return
	}

	h.cookies.clear(w)
	respondData(ctx, w, http.StatusOK, struct{}{}, "user logged out")
}

// Refresh handles POST /api/v1/users/refresh-token. The token comes from the
// refresh cookie or, failing that, the JSON body.
func (h AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var token string
	if cookie, err := r.Cookie(refreshCookie); err == nil {
		token = cookie.Value
	}
	if token == "" {
		var req refreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			respondError(ctx, w, apperr.Validation("invalid request body"))
			return
		}
		token = strings.TrimSpace(req.RefreshToken)
	}

	tokens, err := h.Sessions.Refresh(ctx, token)
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	h.cookies.set(w, tokens)
	respondData(ctx, w, http.StatusOK, tokens, "access token refreshed")
}

type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type loginResponse struct {
	User         models.PublicUser `json:"user"`
	AccessToken  string            `json:"accessToken"`
	RefreshToken string            `json:"refreshToken"`
}
