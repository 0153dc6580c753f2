package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/vidfriends/mediahub/internal/models"
)

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// dialect selects how timestamps travel between Go and the database.
type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

// sqliteTimeLayout is fixed width so stored values sort chronologically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const userColumns = `id, username, email, display_name, password_hash, avatar_id, avatar_url,
        cover_id, cover_url, refresh_token, created_at, updated_at`

const videoColumns = `id, owner_id, title, description, video_id, video_url, thumbnail_id,
        thumbnail_url, duration_seconds, created_at, updated_at`

const orphanColumns = `id, remote_id, kind, reason, attempts, last_error, created_at, resolved_at`

func (d dialect) timeArg(t time.Time) any {
	if d == dialectSQLite {
		return t.UTC().Format(sqliteTimeLayout)
	}
	return t.UTC()
}

func (d dialect) timeDest(t *time.Time) any {
	if d == dialectSQLite {
		return &textTime{dst: t}
	}
	return t
}

func (d dialect) nullTimeDest(t *sql.NullTime) any {
	if d == dialectSQLite {
		return &textTime{dst: &t.Time, valid: &t.Valid}
	}
	return t
}

// textTime scans timestamps stored as text by the SQLite repositories.
type textTime struct {
	dst   *time.Time
	valid *bool
}

func (t *textTime) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*t.dst = time.Time{}
		if t.valid != nil {
			*t.valid = false
		}
		return nil
	case time.Time:
		*t.dst = v.UTC()
		if t.valid != nil {
			*t.valid = true
		}
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}

	parsed, err := time.Parse(sqliteTimeLayout, raw)
	if err != nil {
		if parsed, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return fmt.Errorf("parse timestamp %q: %w", raw, err)
		}
	}
	*t.dst = parsed.UTC()
	if t.valid != nil {
		*t.valid = true
	}
	return nil
}

func (d dialect) scanUser(row rowScanner) (models.User, error) {
	var (
		user                       models.User
		coverID, coverURL, refresh sql.NullString
	)
	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.DisplayName, &user.PasswordHash,
		&user.Avatar.RemoteID, &user.Avatar.URL, &coverID, &coverURL, &refresh,
		d.timeDest(&user.CreatedAt), d.timeDest(&user.UpdatedAt),
	)
	if err != nil {
		return models.User{}, err
	}

	if coverID.Valid || coverURL.Valid {
		user.Cover = &models.AssetRef{RemoteID: coverID.String, URL: coverURL.String}
	}
	if refresh.Valid {
		token := refresh.String
		user.RefreshToken = &token
	}
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	return user, nil
}

func (d dialect) videoDest(video *models.Video) []any {
	return []any{
		&video.ID, &video.OwnerID, &video.Title, &video.Description,
		&video.VideoFile.RemoteID, &video.VideoFile.URL,
		&video.Thumbnail.RemoteID, &video.Thumbnail.URL,
		&video.DurationSeconds, d.timeDest(&video.CreatedAt), d.timeDest(&video.UpdatedAt),
	}
}

func (d dialect) scanVideo(row rowScanner) (models.Video, error) {
	var video models.Video
	if err := row.Scan(d.videoDest(&video)...); err != nil {
		return models.Video{}, err
	}
	video.CreatedAt = video.CreatedAt.UTC()
	video.UpdatedAt = video.UpdatedAt.UTC()
	return video, nil
}

func (d dialect) scanDetails(row rowScanner) (models.VideoDetails, error) {
	var details models.VideoDetails
	dest := append(d.videoDest(&details.Video),
		&details.Owner.ID, &details.Owner.Username, &details.Owner.DisplayName, &details.Owner.Email,
		&details.SubscriberCount, &details.IsSubscribed, &details.TotalComments,
	)
	if err := row.Scan(dest...); err != nil {
		return models.VideoDetails{}, err
	}
	details.CreatedAt = details.CreatedAt.UTC()
	details.UpdatedAt = details.UpdatedAt.UTC()
	return details, nil
}

func (d dialect) scanOrphan(row rowScanner) (models.OrphanedAsset, error) {
	var (
		orphan     models.OrphanedAsset
		kind       string
		resolvedAt sql.NullTime
	)
	err := row.Scan(&orphan.ID, &orphan.RemoteID, &kind, &orphan.Reason, &orphan.Attempts,
		&orphan.LastError, d.timeDest(&orphan.CreatedAt), d.nullTimeDest(&resolvedAt))
	if err != nil {
		return models.OrphanedAsset{}, err
	}
	orphan.Kind = models.AssetKind(kind)
	orphan.CreatedAt = orphan.CreatedAt.UTC()
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		orphan.ResolvedAt = &t
	}
	return orphan, nil
}

func coverColumns(cover *models.AssetRef) (sql.NullString, sql.NullString) {
	if cover == nil || cover.Empty() {
		return sql.NullString{}, sql.NullString{}
	}
	return sql.NullString{String: cover.RemoteID, Valid: true}, sql.NullString{String: cover.URL, Valid: true}
}

func nullableToken(token *string) sql.NullString {
	if token == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *token, Valid: true}
}
