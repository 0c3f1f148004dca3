package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAlreadySubscribed = errors.New("already subscribed to this channel")
	ErrNotSubscribed     = errors.New("not subscribed to this channel")
)

type Subscription struct {
	ID           uuid.UUID
	SubscriberID uuid.UUID
	ChannelID    uuid.UUID
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ChannelProfile is the aggregate view over a channel's subscription edges.
type ChannelProfile struct {
	ID                        uuid.UUID
	Username                  string
	FullName                  string
	Email                     string
	AvatarURL                 string
	CoverImageURL             string
	SubscribersCount          int64
	ChannelsSubscribedToCount int64
	IsSubscribed              bool
}

type SubscriptionRepository struct {
	db *DB
}

func NewSubscriptionRepository(db *DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) Create(ctx context.Context, sub *Subscription) error {
	query := `
		INSERT INTO subscriptions (id, subscriber_id, channel_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.ExecContext(ctx, query,
		sub.ID, sub.SubscriberID, sub.ChannelID, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		if uniqueViolation(err) == "subscriptions_pair_key" {
			return ErrAlreadySubscribed
		}
		return err
	}

	return nil
}

func (r *SubscriptionRepository) Delete(ctx context.Context, subscriberID, channelID uuid.UUID) error {
	query := `DELETE FROM subscriptions WHERE subscriber_id = $1 AND channel_id = $2`

	result, err := r.db.ExecContext(ctx, query, subscriberID, channelID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotSubscribed
	}

	return nil
}

func (r *SubscriptionRepository) IsSubscribed(ctx context.Context, subscriberID, channelID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM subscriptions WHERE subscriber_id = $1 AND channel_id = $2)`

	var subscribed bool
	if err := r.db.QueryRowContext(ctx, query, subscriberID, channelID).Scan(&subscribed); err != nil {
		return false, err
	}
	return subscribed, nil
}

// GetChannelProfile computes the channel view for a username in one round
// trip: subscriber count, subscribed-to count, and whether the viewer is
// among the subscribers. viewerID may be uuid.Nil for anonymous lookups.
func (r *SubscriptionRepository) GetChannelProfile(ctx context.Context, username string, viewerID uuid.UUID) (*ChannelProfile, error) {
	query := `
		SELECT
			u.id, u.username, u.full_name, u.email, u.avatar_url, u.cover_image_url,
			(SELECT COUNT(*) FROM subscriptions s WHERE s.channel_id = u.id) AS subscribers_count,
			(SELECT COUNT(*) FROM subscriptions s WHERE s.subscriber_id = u.id) AS channels_subscribed_to_count,
			EXISTS(
				SELECT 1 FROM subscriptions s
				WHERE s.channel_id = u.id AND s.subscriber_id = $2
			) AS is_subscribed
		FROM users u
		WHERE u.username = $1
	`

	profile := &ChannelProfile{}
	err := r.db.QueryRowContext(ctx, query, username, viewerID).Scan(
		&profile.ID, &profile.Username, &profile.FullName, &profile.Email,
		&profile.AvatarURL, &profile.CoverImageURL,
		&profile.SubscribersCount, &profile.ChannelsSubscribedToCount, &profile.IsSubscribed,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return profile, nil
}
