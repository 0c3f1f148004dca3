package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var ErrVideoNotFound = errors.New("video not found")

type Video struct {
	ID              uuid.UUID
	OwnerID         uuid.UUID
	Title           string
	ThumbnailURL    string
	VideoURL        string
	DurationSeconds int
	Views           int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// VideoOwner is the summarized owner attached to watch-history entries.
type VideoOwner struct {
	FullName  string
	Username  string
	AvatarURL string
}

// WatchHistoryEntry is a watched video expanded with its summarized owner.
type WatchHistoryEntry struct {
	Video     Video
	Owner     VideoOwner
	WatchedAt time.Time
}

type VideoRepository struct {
	db *DB
}

func NewVideoRepository(db *DB) *VideoRepository {
	return &VideoRepository{db: db}
}

func (r *VideoRepository) Create(ctx context.Context, video *Video) error {
	query := `
		INSERT INTO videos (id, owner_id, title, thumbnail_url, video_url, duration_seconds, views, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		video.ID, video.OwnerID, video.Title, video.ThumbnailURL, video.VideoURL,
		video.DurationSeconds, video.Views, video.CreatedAt, video.UpdatedAt,
	)
	return err
}

// AppendWatchHistory records that a user watched a video. Re-watching moves
// the entry to the front of the history instead of duplicating it.
func (r *VideoRepository) AppendWatchHistory(ctx context.Context, userID, videoID uuid.UUID) error {
	query := `
		INSERT INTO watch_history (user_id, video_id, watched_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id, video_id) DO UPDATE SET watched_at = NOW()
	`

	_, err := r.db.ExecContext(ctx, query, userID, videoID)
	if err != nil {
		if foreignKeyViolation(err) {
			return ErrVideoNotFound
		}
		return err
	}
	return nil
}

// GetWatchHistory returns the user's watched videos, most recent first,
// each expanded with the owning channel's summary.
func (r *VideoRepository) GetWatchHistory(ctx context.Context, userID uuid.UUID) ([]WatchHistoryEntry, error) {
	query := `
		SELECT
			v.id, v.owner_id, v.title, v.thumbnail_url, v.video_url,
			v.duration_seconds, v.views, v.created_at, v.updated_at,
			o.full_name, o.username, o.avatar_url,
			wh.watched_at
		FROM watch_history wh
		JOIN videos v ON v.id = wh.video_id
		JOIN users o ON o.id = v.owner_id
		WHERE wh.user_id = $1
		ORDER BY wh.watched_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []WatchHistoryEntry
	for rows.Next() {
		var e WatchHistoryEntry
		err := rows.Scan(
			&e.Video.ID, &e.Video.OwnerID, &e.Video.Title, &e.Video.ThumbnailURL, &e.Video.VideoURL,
			&e.Video.DurationSeconds, &e.Video.Views, &e.Video.CreatedAt, &e.Video.UpdatedAt,
			&e.Owner.FullName, &e.Owner.Username, &e.Owner.AvatarURL,
			&e.WatchedAt,
		)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func foreignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
