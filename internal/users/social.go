package users

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/vidhub/backend/internal/apperrors"
	"github.com/vidhub/backend/internal/auth"
	"github.com/vidhub/backend/internal/db"
)

// channelProfileTTL keeps cached profiles fresh enough that subscriber
// counts lag by at most this long.
const channelProfileTTL = 30 * time.Second

type ChannelProfileResponse struct {
	ID                        uuid.UUID `json:"id"`
	Username                  string    `json:"username"`
	FullName                  string    `json:"fullName"`
	Email                     string    `json:"email"`
	AvatarURL                 string    `json:"avatar"`
	CoverImageURL             string    `json:"coverImage,omitempty"`
	SubscribersCount          int64     `json:"subscribersCount"`
	ChannelsSubscribedToCount int64     `json:"channelsSubscribedToCount"`
	IsSubscribed              bool      `json:"isSubscribed"`
}

type WatchHistoryOwner struct {
	FullName  string `json:"fullName"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar"`
}

type WatchHistoryItem struct {
	ID           uuid.UUID         `json:"id"`
	Title        string            `json:"title"`
	ThumbnailURL string            `json:"thumbnail"`
	VideoURL     string            `json:"videoUrl"`
	Duration     int               `json:"duration"`
	Views        int64             `json:"views"`
	Owner        WatchHistoryOwner `json:"owner"`
	WatchedAt    time.Time         `json:"watchedAt"`
	CreatedAt    time.Time         `json:"createdAt"`
}

type ToggleSubscriptionResponse struct {
	Channel    string `json:"channel"`
	Subscribed bool   `json:"subscribed"`
}

// ChannelProfile returns a channel's public profile with subscriber counts
// and whether the requesting user is subscribed to it.
func (h *Handlers) ChannelProfile(w http.ResponseWriter, r *http.Request) error {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		return apperrors.Unauthorized("not authenticated")
	}

	username := db.CanonicalUsername(r.PathValue("username"))
	if username == "" {
		return apperrors.ValidationError("username is missing")
	}

	requestID := apperrors.GetRequestID(r.Context())
	cacheKey := profileCacheKey(username, identity.ID)

	if cached, ok := h.cache.Get(r.Context(), cacheKey); ok {
		var profile ChannelProfileResponse
		if err := json.Unmarshal([]byte(cached), &profile); err == nil {
			apperrors.WriteJSON(w, requestID, http.StatusOK, profile, "channel profile fetched successfully")
			return nil
		}
	}

	channel, err := h.subs.GetChannelProfile(r.Context(), username, identity.ID)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return apperrors.NotFound("channel")
		}
		return err
	}

	profile := ChannelProfileResponse{
		ID:                        channel.ID,
		Username:                  channel.Username,
		FullName:                  channel.FullName,
		Email:                     channel.Email,
		AvatarURL:                 channel.AvatarURL,
		CoverImageURL:             channel.CoverImageURL,
		SubscribersCount:          channel.SubscribersCount,
		ChannelsSubscribedToCount: channel.ChannelsSubscribedToCount,
		IsSubscribed:              channel.IsSubscribed,
	}

	if encoded, err := json.Marshal(profile); err == nil {
		if err := h.cache.Set(r.Context(), cacheKey, string(encoded), channelProfileTTL); err != nil {
			h.log.Warn(r.Context(), "failed to cache channel profile", map[string]interface{}{
				"channel": username,
				"error":   err.Error(),
			})
		}
	}

	apperrors.WriteJSON(w, requestID, http.StatusOK, profile, "channel profile fetched successfully")
	return nil
}

// ToggleSubscription subscribes the requesting user to a channel, or
// unsubscribes if already subscribed.
func (h *Handlers) ToggleSubscription(w http.ResponseWriter, r *http.Request) error {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		return apperrors.Unauthorized("not authenticated")
	}

	username := db.CanonicalUsername(r.PathValue("username"))
	if username == "" {
		return apperrors.ValidationError("username is missing")
	}

	channel, err := h.users.GetByUsername(r.Context(), username)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return apperrors.NotFound("channel")
		}
		return err
	}

	if channel.ID == identity.ID {
		return apperrors.BadRequest("cannot subscribe to your own channel")
	}

	subscribed, err := h.subs.IsSubscribed(r.Context(), identity.ID, channel.ID)
	if err != nil {
		return err
	}

	if subscribed {
		if err := h.subs.Delete(r.Context(), identity.ID, channel.ID); err != nil && !errors.Is(err, db.ErrNotSubscribed) {
			return err
		}
		subscribed = false
	} else {
		now := time.Now()
		err := h.subs.Create(r.Context(), &db.Subscription{
			ID:           uuid.New(),
			SubscriberID: identity.ID,
			ChannelID:    channel.ID,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err != nil && !errors.Is(err, db.ErrAlreadySubscribed) {
			return err
		}
		subscribed = true
	}

	// Only the viewer's own cached copy of this channel is dropped; other
	// viewers' counts catch up when their TTL lapses.
	h.cache.Invalidate(r.Context(), profileCacheKey(username, identity.ID))

	requestID := apperrors.GetRequestID(r.Context())
	message := "subscribed to channel"
	if !subscribed {
		message = "unsubscribed from channel"
	}
	apperrors.WriteJSON(w, requestID, http.StatusOK, ToggleSubscriptionResponse{
		Channel:    channel.Username,
		Subscribed: subscribed,
	}, message)
	return nil
}

// WatchHistory returns the user's watched videos, most recent first, each
// joined with its owner profile.
func (h *Handlers) WatchHistory(w http.ResponseWriter, r *http.Request) error {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		return apperrors.Unauthorized("not authenticated")
	}

	entries, err := h.videos.GetWatchHistory(r.Context(), identity.ID)
	if err != nil {
		return err
	}

	items := make([]WatchHistoryItem, 0, len(entries))
	for _, entry := range entries {
		items = append(items, WatchHistoryItem{
			ID:           entry.Video.ID,
			Title:        entry.Video.Title,
			ThumbnailURL: entry.Video.ThumbnailURL,
			VideoURL:     entry.Video.VideoURL,
			Duration:     entry.Video.DurationSeconds,
			Views:        entry.Video.Views,
			Owner: WatchHistoryOwner{
				FullName:  entry.Owner.FullName,
				Username:  entry.Owner.Username,
				AvatarURL: entry.Owner.AvatarURL,
			},
			WatchedAt: entry.WatchedAt,
			CreatedAt: entry.Video.CreatedAt,
		})
	}

	requestID := apperrors.GetRequestID(r.Context())
	apperrors.WriteJSON(w, requestID, http.StatusOK, items, "watch history fetched successfully")
	return nil
}

// AddWatchHistory records that the user watched a video. Re-watching moves
// the entry to the top instead of duplicating it.
func (h *Handlers) AddWatchHistory(w http.ResponseWriter, r *http.Request) error {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		return apperrors.Unauthorized("not authenticated")
	}

	videoID, err := uuid.Parse(r.PathValue("videoID"))
	if err != nil {
		return apperrors.BadRequest("invalid video id")
	}

	if err := h.videos.AppendWatchHistory(r.Context(), identity.ID, videoID); err != nil {
		if errors.Is(err, db.ErrVideoNotFound) {
			return apperrors.NotFound("video")
		}
		return err
	}

	requestID := apperrors.GetRequestID(r.Context())
	apperrors.WriteJSON(w, requestID, http.StatusOK, struct{}{}, "watch history updated")
	return nil
}
