package handlers

import (
	"context"

	"github.com/vidfriends/mediahub/internal/auth"
	"github.com/vidfriends/mediahub/internal/models"
	"github.com/vidfriends/mediahub/internal/users"
	"github.com/vidfriends/mediahub/internal/videos"
)

// SessionService logs users in and out and rotates their tokens.
type SessionService interface {
	Login(ctx context.Context, in auth.LoginInput) (auth.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (models.SessionTokens, error)
	Logout(ctx context.Context, userID string) error
	Authenticate(ctx context.Context, accessToken string) (models.PublicUser, error)
}

// Registrar creates new accounts.
type Registrar interface {
	Register(ctx context.Context, in users.RegisterInput) (models.PublicUser, error)
}

// VideoService runs the video write pipeline and read aggregation.
type VideoService interface {
	UploadVideo(ctx context.Context, in videos.UploadInput) (models.Video, error)
	GetVideoByID(ctx context.Context, videoID, viewerID string) (models.VideoDetails, error)
	DeleteVideo(ctx context.Context, videoID, callerID string) error
	UpdateVideo(ctx context.Context, in videos.UpdateInput) (models.Video, error)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}
