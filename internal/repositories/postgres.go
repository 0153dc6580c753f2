package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vidfriends/mediahub/internal/db"
	"github.com/vidfriends/mediahub/internal/models"
)

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// PostgresUserRepository provides PostgreSQL-backed persistence for users.
type PostgresUserRepository struct {
	pool db.Pool
}

// NewPostgresUserRepository constructs a user repository backed by PostgreSQL.
func NewPostgresUserRepository(pool db.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

// Create persists a new user record.
func (r *PostgresUserRepository) Create(ctx context.Context, user models.User) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	coverID, coverURL := coverColumns(user.Cover)
	_, err = conn.Exec(ctx, `
        INSERT INTO users (`+userColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
    `, user.ID, user.Username, user.Email, user.DisplayName, user.PasswordHash,
		user.Avatar.RemoteID, user.Avatar.URL, coverID, coverURL, nullableToken(user.RefreshToken),
		user.CreatedAt.UTC(), user.UpdatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// ExistsByUsernameOrEmail reports whether either identifier is already taken.
func (r *PostgresUserRepository) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var exists bool
	err = conn.QueryRow(ctx, `
        SELECT EXISTS (SELECT 1 FROM users WHERE username = $1 OR email = $2)
    `, username, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user existence: %w", err)
	}
	return exists, nil
}

// FindByIdentifier fetches a user by username or email.
func (r *PostgresUserRepository) FindByIdentifier(ctx context.Context, identifier string) (models.User, error) {
	return r.findOne(ctx, `WHERE username = $1 OR email = $1`, identifier)
}

// FindByID fetches a user by identifier.
func (r *PostgresUserRepository) FindByID(ctx context.Context, id string) (models.User, error) {
	return r.findOne(ctx, `WHERE id = $1`, id)
}

func (r *PostgresUserRepository) findOne(ctx context.Context, where string, arg string) (models.User, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.User{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	user, err := dialectPostgres.scanUser(conn.QueryRow(ctx, `SELECT `+userColumns+` FROM users `+where+` LIMIT 1`, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("select user: %w", err)
	}
	return user, nil
}

// SetRefreshToken overwrites the stored refresh token; nil clears it.
func (r *PostgresUserRepository) SetRefreshToken(ctx context.Context, userID string, token *string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE users
        SET refresh_token = $2, updated_at = $3
        WHERE id = $1
    `, userID, nullableToken(token), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update refresh token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CompareAndSwapRefreshToken replaces expected with next in a single
// conditional update.
func (r *PostgresUserRepository) CompareAndSwapRefreshToken(ctx context.Context, userID, expected, next string) (bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE users
        SET refresh_token = $3, updated_at = $4
        WHERE id = $1 AND refresh_token = $2
    `, userID, expected, next, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("rotate refresh token: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// PostgresVideoRepository provides PostgreSQL-backed persistence for videos.
type PostgresVideoRepository struct {
	pool db.Pool
}

// NewPostgresVideoRepository constructs a video repository backed by PostgreSQL.
func NewPostgresVideoRepository(pool db.Pool) *PostgresVideoRepository {
	return &PostgresVideoRepository{pool: pool}
}

// Create persists a new video record.
func (r *PostgresVideoRepository) Create(ctx context.Context, video models.Video) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO videos (`+videoColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
    `, video.ID, video.OwnerID, video.Title, video.Description,
		video.VideoFile.RemoteID, video.VideoFile.URL, video.Thumbnail.RemoteID, video.Thumbnail.URL,
		video.DurationSeconds, video.CreatedAt.UTC(), video.UpdatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert video: %w", err)
	}
	return nil
}

// FindByID fetches a video by identifier.
func (r *PostgresVideoRepository) FindByID(ctx context.Context, id string) (models.Video, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Video{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	video, err := dialectPostgres.scanVideo(conn.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Video{}, ErrNotFound
		}
		return models.Video{}, fmt.Errorf("select video: %w", err)
	}
	return video, nil
}

// Update writes next provided the stored asset identifiers still match prev.
// It returns ErrConflict when another writer replaced the assets first.
func (r *PostgresVideoRepository) Update(ctx context.Context, next, prev models.Video) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE videos
        SET title = $2, description = $3,
            video_id = $4, video_url = $5,
            thumbnail_id = $6, thumbnail_url = $7,
            duration_seconds = $8, updated_at = $9
        WHERE id = $1 AND video_id = $10 AND thumbnail_id = $11
    `, next.ID, next.Title, next.Description,
		next.VideoFile.RemoteID, next.VideoFile.URL, next.Thumbnail.RemoteID, next.Thumbnail.URL,
		next.DurationSeconds, next.UpdatedAt.UTC(), prev.VideoFile.RemoteID, prev.Thumbnail.RemoteID)
	if err != nil {
		return fmt.Errorf("update video: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM videos WHERE id = $1)`, next.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check video existence: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

// Delete removes video provided the stored asset identifiers still match.
// It returns ErrConflict when an update replaced the assets first.
func (r *PostgresVideoRepository) Delete(ctx context.Context, video models.Video) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        DELETE FROM videos
        WHERE id = $1 AND video_id = $2 AND thumbnail_id = $3
    `, video.ID, video.VideoFile.RemoteID, video.Thumbnail.RemoteID)
	if err != nil {
		return fmt.Errorf("delete video: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM videos WHERE id = $1)`, video.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check video existence: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

// FindDetails joins a video with its owner profile, the owner's subscriber
// count, the viewer's subscription flag and the video's comment count.
func (r *PostgresVideoRepository) FindDetails(ctx context.Context, videoID, viewerID string) (models.VideoDetails, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.VideoDetails{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT v.id, v.owner_id, v.title, v.description, v.video_id, v.video_url,
               v.thumbnail_id, v.thumbnail_url, v.duration_seconds, v.created_at, v.updated_at,
               u.id, u.username, u.display_name, u.email,
               (SELECT COUNT(*) FROM subscriptions s WHERE s.channel_id = v.owner_id),
               EXISTS (SELECT 1 FROM subscriptions s WHERE s.channel_id = v.owner_id AND s.subscriber_id = $2),
               (SELECT COUNT(*) FROM comments c WHERE c.video_id = v.id)
        FROM videos v
        JOIN users u ON u.id = v.owner_id
        WHERE v.id = $1
    `, videoID, viewerID)

	details, err := dialectPostgres.scanDetails(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.VideoDetails{}, ErrNotFound
		}
		return models.VideoDetails{}, fmt.Errorf("select video details: %w", err)
	}
	return details, nil
}

// PostgresOrphanRepository persists the orphaned asset ledger in PostgreSQL.
type PostgresOrphanRepository struct {
	pool db.Pool
}

// NewPostgresOrphanRepository constructs an orphan ledger backed by PostgreSQL.
func NewPostgresOrphanRepository(pool db.Pool) *PostgresOrphanRepository {
	return &PostgresOrphanRepository{pool: pool}
}

// Record appends an orphaned asset to the ledger.
func (r *PostgresOrphanRepository) Record(ctx context.Context, orphan models.OrphanedAsset) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO orphaned_assets (id, remote_id, kind, reason, attempts, last_error, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, orphan.ID, orphan.RemoteID, string(orphan.Kind), orphan.Reason, orphan.Attempts, orphan.LastError, orphan.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert orphaned asset: %w", err)
	}
	return nil
}

// ListPending returns unresolved orphans below maxAttempts, oldest first.
func (r *PostgresOrphanRepository) ListPending(ctx context.Context, limit, maxAttempts int) ([]models.OrphanedAsset, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT `+orphanColumns+`
        FROM orphaned_assets
        WHERE resolved_at IS NULL AND attempts < $2
        ORDER BY created_at ASC
        LIMIT $1
    `, limit, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("query orphaned assets: %w", err)
	}
	defer rows.Close()

	var orphans []models.OrphanedAsset
	for rows.Next() {
		orphan, err := dialectPostgres.scanOrphan(rows)
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
func (r *PostgresOrphanRepository) MarkResolved(ctx context.Context, id string, at time.Time) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE orphaned_assets
        SET resolved_at = $2, attempts = attempts + 1, last_error = ''
        WHERE id = $1
    `, id, at.UTC())
	if err != nil {
		return fmt.Errorf("resolve orphaned asset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAttempt records a failed clean-up attempt.
func (r *PostgresOrphanRepository) MarkAttempt(ctx context.Context, id, lastErr string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE orphaned_assets
        SET attempts = attempts + 1, last_error = $2
        WHERE id = $1
    `, id, lastErr)
	if err != nil {
		return fmt.Errorf("record orphan attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
