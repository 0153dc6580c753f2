package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vidfriends/mediahub/internal/models"
)

// isSQLiteUniqueViolation reports a UNIQUE or PRIMARY KEY constraint failure.
func isSQLiteUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}

// SQLiteUserRepository provides SQLite-backed persistence for users.
type SQLiteUserRepository struct {
	db *sql.DB
}

// NewSQLiteUserRepository constructs a user repository backed by SQLite.
func NewSQLiteUserRepository(handle *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: handle}
}

// Create persists a new user record.
func (r *SQLiteUserRepository) Create(ctx context.Context, user models.User) error {
	coverID, coverURL := coverColumns(user.Cover)
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO users (`+userColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, user.ID, user.Username, user.Email, user.DisplayName, user.PasswordHash,
		user.Avatar.RemoteID, user.Avatar.URL, coverID, coverURL, nullableToken(user.RefreshToken),
		dialectSQLite.timeArg(user.CreatedAt), dialectSQLite.timeArg(user.UpdatedAt))
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// ExistsByUsernameOrEmail reports whether either identifier is already taken.
func (r *SQLiteUserRepository) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
        SELECT EXISTS (SELECT 1 FROM users WHERE username = ? OR email = ?)
    `, username, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user existence: %w", err)
	}
	return exists, nil
}

// FindByIdentifier fetches a user by username or email.
func (r *SQLiteUserRepository) FindByIdentifier(ctx context.Context, identifier string) (models.User, error) {
	return r.findOne(ctx, `WHERE username = ?1 OR email = ?1`, identifier)
}

// FindByID fetches a user by identifier.
func (r *SQLiteUserRepository) FindByID(ctx context.Context, id string) (models.User, error) {
	return r.findOne(ctx, `WHERE id = ?1`, id)
}

func (r *SQLiteUserRepository) findOne(ctx context.Context, where string, arg string) (models.User, error) {
	user, err := dialectSQLite.scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users `+where+` LIMIT 1`, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("select user: %w", err)
	}
	return user, nil
}

// SetRefreshToken overwrites the stored refresh token; nil clears it.
func (r *SQLiteUserRepository) SetRefreshToken(ctx context.Context, userID string, token *string) error {
	res, err := r.db.ExecContext(ctx, `
        UPDATE users
        SET refresh_token = ?, updated_at = ?
        WHERE id = ?
    `, nullableToken(token), dialectSQLite.timeArg(time.Now()), userID)
	if err != nil {
		return fmt.Errorf("update refresh token: %w", err)
	}
	return requireAffected(res)
}

// CompareAndSwapRefreshToken replaces expected with next in a single
// conditional update.
func (r *SQLiteUserRepository) CompareAndSwapRefreshToken(ctx context.Context, userID, expected, next string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
        UPDATE users
        SET refresh_token = ?, updated_at = ?
        WHERE id = ? AND refresh_token = ?
    `, next, dialectSQLite.timeArg(time.Now()), userID, expected)
	if err != nil {
		return false, fmt.Errorf("rotate refresh token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// SQLiteVideoRepository provides SQLite-backed persistence for videos.
type SQLiteVideoRepository struct {
	db *sql.DB
}

// NewSQLiteVideoRepository constructs a video repository backed by SQLite.
func NewSQLiteVideoRepository(handle *sql.DB) *SQLiteVideoRepository {
	return &SQLiteVideoRepository{db: handle}
}

// Create persists a new video record.
func (r *SQLiteVideoRepository) Create(ctx context.Context, video models.Video) error {
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO videos (`+videoColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, video.ID, video.OwnerID, video.Title, video.Description,
		video.VideoFile.RemoteID, video.VideoFile.URL, video.Thumbnail.RemoteID, video.Thumbnail.URL,
		video.DurationSeconds, dialectSQLite.timeArg(video.CreatedAt), dialectSQLite.timeArg(video.UpdatedAt))
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert video: %w", err)
	}
	return nil
}

// FindByID fetches a video by identifier.
func (r *SQLiteVideoRepository) FindByID(ctx context.Context, id string) (models.Video, error) {
	video, err := dialectSQLite.scanVideo(r.db.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Video{}, ErrNotFound
		}
		return models.Video{}, fmt.Errorf("select video: %w", err)
	}
	return video, nil
}

// Update writes next provided the stored asset identifiers still match prev.
// It returns ErrConflict when another writer replaced the assets first.
func (r *SQLiteVideoRepository) Update(ctx context.Context, next, prev models.Video) error {
	res, err := r.db.ExecContext(ctx, `
        UPDATE videos
        SET title = ?, description = ?,
            video_id = ?, video_url = ?,
            thumbnail_id = ?, thumbnail_url = ?,
            duration_seconds = ?, updated_at = ?
        WHERE id = ? AND video_id = ? AND thumbnail_id = ?
    `, next.Title, next.Description,
		next.VideoFile.RemoteID, next.VideoFile.URL, next.Thumbnail.RemoteID, next.Thumbnail.URL,
		next.DurationSeconds, dialectSQLite.timeArg(next.UpdatedAt),
		next.ID, prev.VideoFile.RemoteID, prev.Thumbnail.RemoteID)
	if err != nil {
		return fmt.Errorf("update video: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM videos WHERE id = ?)`, next.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check video existence: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

// Delete removes video provided the stored asset identifiers still match.
// It returns ErrConflict when an update replaced the assets first.
func (r *SQLiteVideoRepository) Delete(ctx context.Context, video models.Video) error {
	res, err := r.db.ExecContext(ctx, `
        DELETE FROM videos
        WHERE id = ? AND video_id = ? AND thumbnail_id = ?
    `, video.ID, video.VideoFile.RemoteID, video.Thumbnail.RemoteID)
	if err != nil {
		return fmt.Errorf("delete video: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM videos WHERE id = ?)`, video.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check video existence: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

// FindDetails joins a video with its owner profile, the owner's subscriber
// count, the viewer's subscription flag and the video's comment count.
func (r *SQLiteVideoRepository) FindDetails(ctx context.Context, videoID, viewerID string) (models.VideoDetails, error) {
	row := r.db.QueryRowContext(ctx, `
        SELECT v.id, v.owner_id, v.title, v.description, v.video_id, v.video_url,
               v.thumbnail_id, v.thumbnail_url, v.duration_seconds, v.created_at, v.updated_at,
               u.id, u.username, u.display_name, u.email,
               (SELECT COUNT(*) FROM subscriptions s WHERE s.channel_id = v.owner_id),
               EXISTS (SELECT 1 FROM subscriptions s WHERE s.channel_id = v.owner_id AND s.subscriber_id = ?2),
               (SELECT COUNT(*) FROM comments c WHERE c.video_id = v.id)
        FROM videos v
        JOIN users u ON u.id = v.owner_id
        WHERE v.id = ?1
    `, videoID, viewerID)

	details, err := dialectSQLite.scanDetails(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.VideoDetails{}, ErrNotFound
		}
		return models.VideoDetails{}, fmt.Errorf("select video details: %w", err)
	}
	return details, nil
}

// SQLiteOrphanRepository persists the orphaned asset ledger in SQLite.
type SQLiteOrphanRepository struct {
	db *sql.DB
}

// NewSQLiteOrphanRepository constructs an orphan ledger backed by SQLite.
func NewSQLiteOrphanRepository(handle *sql.DB) *SQLiteOrphanRepository {
	return &SQLiteOrphanRepository{db: handle}
}

// Record appends an orphaned asset to the ledger.
func (r *SQLiteOrphanRepository) Record(ctx context.Context, orphan models.OrphanedAsset) error {
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO orphaned_assets (id, remote_id, kind, reason, attempts, last_error, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
    `, orphan.ID, orphan.RemoteID, string(orphan.Kind), orphan.Reason, orphan.Attempts, orphan.LastError,
		dialectSQLite.timeArg(orphan.CreatedAt))
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert orphaned asset: %w", err)
	}
	return nil
}

// ListPending returns unresolved orphans below maxAttempts, oldest first.
func (r *SQLiteOrphanRepository) ListPending(ctx context.Context, limit, maxAttempts int) ([]models.OrphanedAsset, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT `+orphanColumns+`
        FROM orphaned_assets
        WHERE resolved_at IS NULL AND attempts < ?
        ORDER BY created_at ASC
        LIMIT ?
    `, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("query orphaned assets: %w", err)
	}
	defer rows.Close()

	var orphans []models.OrphanedAsset
	for rows.Next() {
		orphan, err := dialectSQLite.scanOrphan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan orphaned asset: %w", err)
		}
		orphans = append(orphans, orphan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orphaned assets: %w", err)
	}
	return orphans, nil
}

// MarkResolved stamps an orphan as cleaned up.
func (r *SQLiteOrphanRepository) MarkResolved(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
        UPDATE orphaned_assets
        SET resolved_at = ?, attempts = attempts + 1, last_error = ''
        WHERE id = ?
    `, dialectSQLite.timeArg(at), id)
	if err != nil {
		return fmt.Errorf("resolve orphaned asset: %w", err)
	}
	return requireAffected(res)
}

// MarkAttempt records a failed clean-up attempt.
func (r *SQLiteOrphanRepository) MarkAttempt(ctx context.Context, id, lastErr string) error {
	res, err := r.db.ExecContext(ctx, `
        UPDATE orphaned_assets
        SET attempts = attempts + 1, last_error = ?
        WHERE id = ?
    `, lastErr, id)
	if err != nil {
		return fmt.Errorf("record orphan attempt: %w", err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
