// Package users implements account registration.
package users

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/vidfriends/mediahub/internal/apperr"
	"github.com/vidfriends/mediahub/internal/ids"
	"github.com/vidfriends/mediahub/internal/logging"
	"github.com/vidfriends/mediahub/internal/metrics"
	"github.com/vidfriends/mediahub/internal/models"
	"github.com/vidfriends/mediahub/internal/reconcile"
	"github.com/vidfriends/mediahub/internal/repositories"
	"github.com/vidfriends/mediahub/internal/storage"
)

// Repository persists user accounts.
type Repository interface {
	Create(ctx context.Context, user models.User) error
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)
}

// MediaStore uploads and deletes profile images.
type MediaStore interface {
	Upload(ctx context.Context, localPath string, kind models.AssetKind) (storage.Asset, error)
	Delete(ctx context.Context, remoteID string, kind models.AssetKind) error
}

// RegisterInput carries the fields of a registration request. AvatarPath and
// CoverPath point at staged local files owned by the service from here on.
type RegisterInput struct {
	DisplayName string
	Email       string
	Username    string
	Password    string
	AvatarPath  string
	CoverPath   string
}

// Service registers new users.
type Service struct {
	repo       Repository
	media      MediaStore
	compensate *reconcile.Compensator
	metrics    *metrics.Recorder
	hashCost   int
	now        func() time.Time
}

// NewService wires a registration service. reporter and recorder may be nil.
func NewService(repo Repository, media MediaStore, reporter reconcile.Reporter, recorder *metrics.Recorder) *Service {
	return &Service{
		repo:       repo,
		media:      media,
		compensate: reconcile.NewCompensator(media, reporter, recorder),
		metrics:    recorder,
		hashCost:   bcrypt.DefaultCost,
		now:        time.Now,
	}
}

// Register validates the input, uploads the profile images and creates the
// account. Uploaded images are deleted again if the account is not created.
func (s *Service) Register(ctx context.Context, in RegisterInput) (models.PublicUser, error) {
	ctx, span := logging.StartSpan(ctx, "users.register")
	defer span.End()
	logger := logging.FromContext(ctx)

	// The store removes files it uploads; this covers early returns.
	defer storage.RemoveStaged(in.AvatarPath, in.CoverPath)

	in.DisplayName = strings.TrimSpace(in.DisplayName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Username = strings.ToLower(strings.TrimSpace(in.Username))

	if err := validate(in); err != nil {
		return models.PublicUser{}, err
	}

	exists, err := s.repo.ExistsByUsernameOrEmail(ctx, in.Username, in.Email)
	if err != nil {
		return models.PublicUser{}, apperr.Persistence("failed to check existing users", err)
	}
	if exists {
		return models.PublicUser{}, apperr.Conflict("user with email or username already exists", nil)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.hashCost)
	if err != nil {
		return models.PublicUser{}, apperr.Validation("password cannot be hashed", "password")
	}

	avatar, err := s.media.Upload(ctx, in.AvatarPath, models.AssetKindImage)
	s.metrics.Upload(string(models.AssetKindImage), err)
	if err != nil {
		return models.PublicUser{}, apperr.UploadStore("avatar file upload failed", err)
	}
	uploads := []reconcile.Uploaded{{RemoteID: avatar.RemoteID, Kind: models.AssetKindImage}}

	var cover *models.AssetRef
	if in.CoverPath != "" {
		asset, err := s.media.Upload(ctx, in.CoverPath, models.AssetKindImage)
		s.metrics.Upload(string(models.AssetKindImage), err)
		if err != nil {
			return models.PublicUser{}, s.rollback(ctx, apperr.UploadStore("cover image upload failed", err), uploads)
		}
		ref := asset.Ref()
		cover = &ref
		uploads = append(uploads, reconcile.Uploaded{RemoteID: asset.RemoteID, Kind: models.AssetKindImage})
	}

	now := s.now().UTC()
	user := models.User{
		ID:           ids.NewAt(now),
		Username:     in.Username,
		Email:        in.Email,
		DisplayName:  in.DisplayName,
		PasswordHash: string(hash),
		Avatar:       avatar.Ref(),
		Cover:        cover,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		var cause *apperr.Error
		if errors.Is(err, repositories.ErrConflict) {
			cause = apperr.Conflict("user with email or username already exists", err)
		} else {
			cause = apperr.Persistence("something went wrong while registering the user", err)
		}
		return models.PublicUser{}, s.rollback(ctx, cause, uploads)
	}

	logger.Info("user registered", "userId", user.ID)
	return user.Public(), nil
}

// rollback deletes uploads and returns cause, or a reconciliation defect if
// any delete failed.
func (s *Service) rollback(ctx context.Context, cause *apperr.Error, uploads []reconcile.Uploaded) error {
	if err := s.compensate.Rollback(ctx, "register", uploads...); err != nil {
		return apperr.Reconciliation("registration failed and uploaded images could not be removed", errors.Join(cause, err))
	}
	return cause
}

func validate(in RegisterInput) error {
	var missing []string
	if in.DisplayName == "" {
		missing = append(missing, "displayName")
	}
	if in.Email == "" {
		missing = append(missing, "email")
	}
	if in.Username == "" {
		missing = append(missing, "username")
	}
	if strings.TrimSpace(in.Password) == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return apperr.Validation("all fields are required", missing...)
	}

	if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		return apperr.Validation("email is not valid", "email")
	}
	if strings.ContainsAny(in.Username, " \t@") {
		return apperr.Validation("username may not contain spaces or @", "username")
	}
	if len(in.Password) > 72 {
		return apperr.Validation("password must be at most 72 bytes", "password")
	}
	if strings.TrimSpace(in.AvatarPath) == "" {
		return apperr.Validation("avatar file is required", "avatar")
	}
	return nil
}
