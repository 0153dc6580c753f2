package models

import (
	"strings"
	"time"
)

// AssetKind identifies the remote resource type of an uploaded asset.
type AssetKind string

const (
	AssetKindVideo AssetKind = "video"
	AssetKindImage AssetKind = "image"
)

// AssetRef points at a file held by the remote media store.
type AssetRef struct {
	RemoteID string `json:"publicId"`
	URL      string `json:"url"`
}

// Valid reports whether both halves of the reference are present.
func (a AssetRef) Valid() bool {
	return strings.TrimSpace(a.RemoteID) != "" && strings.TrimSpace(a.URL) != ""
}

// Empty reports whether neither half of the reference is present.
func (a AssetRef) Empty() bool {
	return strings.TrimSpace(a.RemoteID) == "" && strings.TrimSpace(a.URL) == ""
}

// Dangling reports a reference with a URL but no remote identifier. Such an
// asset can never be deleted remotely.
func (a AssetRef) Dangling() bool {
	return strings.TrimSpace(a.RemoteID) == "" && strings.TrimSpace(a.URL) != ""
}

// User represents an account within the platform.
type User struct {
	ID           string
	Username     string
	Email        string
	DisplayName  string
	PasswordHash string
	Avatar       AssetRef
	Cover        *AssetRef
	// RefreshToken is nil when no session is active.
	RefreshToken *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PublicUser is the read projection of a user. It never carries credentials.
type PublicUser struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	Avatar      AssetRef  `json:"avatar"`
	Cover       *AssetRef `json:"coverImage,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Public strips credentials from the user.
func (u User) Public() PublicUser {
	return PublicUser{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Avatar:      u.Avatar,
		Cover:       u.Cover,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

// Video is an uploaded media item. OwnerID never changes after creation.
type Video struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"owner"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	VideoFile       AssetRef  `json:"videoFile"`
	Thumbnail       AssetRef  `json:"thumbnail"`
	DurationSeconds float64   `json:"duration"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// OwnerProfile is the reduced owner projection embedded in video details.
type OwnerProfile struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// VideoDetails is the enriched, viewer-relative read view of a video.
type VideoDetails struct {
	Video
	Owner           OwnerProfile `json:"ownerProfile"`
	SubscriberCount int64        `json:"subscriberCount"`
	IsSubscribed    bool         `json:"isSubscribed"`
	TotalComments   int64        `json:"totalComments"`
}

// Subscription is an edge from a subscriber to a channel owner.
type Subscription struct {
	ID           string
	SubscriberID string
	ChannelID    string
	CreatedAt    time.Time
}

// Comment is a remark left on a video.
type Comment struct {
	ID        string
	VideoID   string
	OwnerID   string
	Content   string
	CreatedAt time.Time
}

// OrphanedAsset records a remote asset left without a database reference after
// a compensating delete failed.
type OrphanedAsset struct {
	ID         string
	RemoteID   string
	Kind       AssetKind
	Reason     string
	Attempts   int
	LastError  string
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// SessionTokens groups the bearer credentials issued to authenticated users.
type SessionTokens struct {
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}
