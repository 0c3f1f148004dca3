package users

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vidhub/backend/internal/auth"
	"github.com/vidhub/backend/internal/db"
)

func (e *testEnv) subscribe(t *testing.T, subscriber, channel *db.User) {
	t.Helper()
	err := e.subs.Create(context.Background(), &db.Subscription{
		ID:           uuid.New(),
		SubscriberID: subscriber.ID,
		ChannelID:    channel.ID,
		CreatedAt:    time.Now(),
	})
	if err != nil {
		t.Fatalf("seeding subscription failed: %v", err)
	}
}

func (e *testEnv) addVideo(t *testing.T, owner *db.User, title string) *db.Video {
	t.Helper()
	video := &db.Video{
		ID:              uuid.New(),
		OwnerID:         owner.ID,
		Title:           title,
		ThumbnailURL:    "http://cdn.test/media/images/thumb-" + title,
		VideoURL:        "http://cdn.test/media/videos/" + title,
		DurationSeconds: 120,
		Views:           7,
		CreatedAt:       time.Now(),
	}
	e.videos.videos[video.ID] = video
	return video
}

func TestChannelProfile(t *testing.T) {
	env := newTestEnv()
	channel := env.addUser(t, "creator", "creator@x.com", "pw12345")
	viewer := env.addUser(t, "viewer", "viewer@x.com", "pw12345")
	other1 := env.addUser(t, "other1", "other1@x.com", "pw12345")
	other2 := env.addUser(t, "other2", "other2@x.com", "pw12345")
	followed := env.addUser(t, "followed", "followed@x.com", "pw12345")

	env.subscribe(t, viewer, channel)
	env.subscribe(t, other1, channel)
	env.subscribe(t, other2, channel)
	env.subscribe(t, channel, followed)

	pair := env.login(t, viewer)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/users/channel/creator", nil)
	r.SetPathValue("username", "creator")
	w := env.doAuthed(env.handlers.ChannelProfile, r, pair.AccessToken)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusOK, w.Body.String())
	}

	envelope := decodeEnvelope(t, w)
	var profile ChannelProfileResponse
	if err := json.Unmarshal(envelope.Data, &profile); err != nil {
		t.Fatalf("failed to decode profile: %v", err)
	}

	if profile.Username != "creator" {
		t.Errorf("username = %q, want creator", profile.Username)
	}
	if profile.SubscribersCount != 3 {
		t.Errorf("subscribersCount = %d, want 3", profile.SubscribersCount)
	}
	if profile.ChannelsSubscribedToCount != 1 {
		t.Errorf("channelsSubscribedToCount = %d, want 1", profile.ChannelsSubscribedToCount)
	}
	if !profile.IsSubscribed {
		t.Error("isSubscribed = false for a subscribed viewer")
	}
}

func TestChannelProfileNotSubscribedViewer(t *testing.T) {
	env := newTestEnv()
	env.addUser(t, "creator", "creator@x.com", "pw12345")
	viewer := env.addUser(t, "viewer", "viewer@x.com", "pw12345")
	pair := env.login(t, viewer)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/users/channel/creator", nil)
	r.SetPathValue("username", "creator")
	w := env.doAuthed(env.handlers.ChannelProfile, r, pair.AccessToken)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	envelope := decodeEnvelope(t, w)
	var profile ChannelProfileResponse
	if err := json.Unmarshal(envelope.Data, &profile); err != nil {
		t.Fatalf("failed to decode profile: %v", err)
	}
	if profile.IsSubscribed {
		t.Error("isSubscribed = true for a viewer with no subscription")
	}
}

func TestChannelProfileNotFound(t *testing.T) {
	env := newTestEnv()
	viewer := env.addUser(t, "viewer", "viewer@x.com", "pw12345")
	pair := env.login(t, viewer)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/users/channel/ghost", nil)
	r.SetPathValue("username", "ghost")
	w := env.doAuthed(env.handlers.ChannelProfile, r, pair.AccessToken)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestChannelProfileServedFromCache(t *testing.T) {
	env := newTestEnv()
	channel := env.addUser(t, "creator", "creator@x.com", "pw12345")
	viewer := env.addUser(t, "viewer", "viewer@x.com", "pw12345")
	pair := env.login(t, viewer)

	request := func() ChannelProfileResponse {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/users/channel/creator", nil)
		r.SetPathValue("username", "creator")
		w := env.doAuthed(env.handlers.ChannelProfile, r, pair.AccessToken)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		envelope := decodeEnvelope(t, w)
		var profile ChannelProfileResponse
		if err := json.Unmarshal(envelope.Data, &profile); err != nil {
			t.Fatalf("failed to decode profile: %v", err)
		}
		return profile
	}

	first := request()
	if first.SubscribersCount != 0 {
		t.Fatalf("subscribersCount = %d, want 0", first.SubscribersCount)
	}

	// A new subscription lands between requests; within the TTL the viewer
	// still sees the cached count.
	env.subscribe(t, env.addUser(t, "other", "other@x.com", "pw12345"), channel)

	second := request()
	if second.SubscribersCount != 0 {
		t.Errorf("subscribersCount = %d, want cached 0", second.SubscribersCount)
	}
	if env.cache.hits != 1 {
		t.Errorf("cache hits = %d, want 1", env.cache.hits)
	}
}

func TestChannelProfileInvalidatedOnAccountUpdate(t *testing.T) {
	env := newTestEnv()
	creator := env.addUser(t, "creator", "creator@x.com", "pw12345")
	viewerA := env.addUser(t, "viewera", "viewera@x.com", "pw12345")
	viewerB := env.addUser(t, "viewerb", "viewerb@x.com", "pw12345")

	fetch := func(pair *auth.TokenPair) ChannelProfileResponse {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/users/channel/creator", nil)
		r.SetPathValue("username", "creator")
		w := env.doAuthed(env.handlers.ChannelProfile, r, pair.AccessToken)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		envelope := decodeEnvelope(t, w)
		var profile ChannelProfileResponse
		if err := json.Unmarshal(envelope.Data, &profile); err != nil {
			t.Fatalf("failed to decode profile: %v", err)
		}
		return profile
	}

	pairA := env.login(t, viewerA)
	pairB := env.login(t, viewerB)

	// Both viewers warm their own cached copy of the channel.
	fetch(pairA)
	fetch(pairB)

	creatorPair := env.login(t, creator)
	r := httptest.NewRequest(http.MethodPatch, "/api/v1/users/me",
		strings.NewReader(`{"fullName":"Creator Renamed","email":"creator@x.com"}`))
	w := env.doAuthed(env.handlers.UpdateAccount, r, creatorPair.AccessToken)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusOK, w.Body.String())
	}

	// The update drops every viewer's cached copy, not just one.
	if got := fetch(pairA).FullName; got != "Creator Renamed" {
		t.Errorf("viewer A fullName = %q, want fresh %q", got, "Creator Renamed")
	}
	if got := fetch(pairB).FullName; got != "Creator Renamed" {
		t.Errorf("viewer B fullName = %q, want fresh %q", got, "Creator Renamed")
	}
	if env.cache.hits != 0 {
		t.Errorf("cache hits = %d, want 0 after invalidation", env.cache.hits)
	}
}

func TestToggleSubscription(t *testing.T) {
	env := newTestEnv()
	channel := env.addUser(t, "creator", "creator@x.com", "pw12345")
	viewer := env.addUser(t, "viewer", "viewer@x.com", "pw12345")
	pair := env.login(t, viewer)

	toggle := func() (int, ToggleSubscriptionResponse) {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/users/subscribe/creator", nil)
		r.SetPathValue("username", "creator")
		w := env.doAuthed(env.handlers.ToggleSubscription, r, pair.AccessToken)
		var resp ToggleSubscriptionResponse
		if w.Code == http.StatusOK {
			envelope := decodeEnvelope(t, w)
			if err := json.Unmarshal(envelope.Data, &resp); err != nil {
				t.Fatalf("failed to decode toggle response: %v", err)
			}
		}
		return w.Code, resp
	}

	status, resp := toggle()
	if status != http.StatusOK {
		t.Fatalf("status = %d, want %d", status, http.StatusOK)
	}
	if !resp.Subscribed {
		t.Error("first toggle should subscribe")
	}
	if subscribed, _ := env.subs.IsSubscribed(context.Background(), viewer.ID, channel.ID); !subscribed {
		t.Error("subscription edge not persisted")
	}

	status, resp = toggle()
	if status != http.StatusOK {
		t.Fatalf("status = %d, want %d", status, http.StatusOK)
	}
	if resp.Subscribed {
		t.Error("second toggle should unsubscribe")
	}
	if subscribed, _ := env.subs.IsSubscribed(context.Background(), viewer.ID, channel.ID); subscribed {
		t.Error("subscription edge not removed")
	}
}

func TestToggleSubscriptionOwnChannel(t *testing.T) {
	env := newTestEnv()
	viewer := env.addUser(t, "viewer", "viewer@x.com", "pw12345")
	pair := env.login(t, viewer)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/users/subscribe/viewer", nil)
	r.SetPathValue("username", "viewer")
	w := env.doAuthed(env.handlers.ToggleSubscription, r, pair.AccessToken)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestToggleSubscriptionUnknownChannel(t *testing.T) {
	env := newTestEnv()
	viewer := env.addUser(t, "viewer", "viewer@x.com", "pw12345")
	pair := env.login(t, viewer)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/users/subscribe/ghost", nil)
	r.SetPathValue("username", "ghost")
	w := env.doAuthed(env.handlers.ToggleSubscription, r, pair.AccessToken)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestWatchHistory(t *testing.T) {
	env := newTestEnv()
	owner := env.addUser(t, "creator", "creator@x.com", "pw12345")
	viewer := env.addUser(t, "viewer", "viewer@x.com", "pw12345")
	pair := env.login(t, viewer)

	older := env.addVideo(t, owner, "older")
	newer := env.addVideo(t, owner, "newer")

	env.videos.watched[viewer.ID] = map[uuid.UUID]time.Time{
		older.ID: time.Now().Add(-time.Hour),
		newer.ID: time.Now(),
	}

	r := httptest.NewRequest(http.MethodGet, "/api/v1/users/history", nil)
	w := env.doAuthed(env.handlers.WatchHistory, r, pair.AccessToken)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusOK, w.Body.String())
	}

	envelope := decodeEnvelope(t, w)
	var items []WatchHistoryItem
	if err := json.Unmarshal(envelope.Data, &items); err != nil {
		t.Fatalf("failed to decode history: %v", err)
	}

	if len(items) != 2 {
		t.Fatalf("history length = %d, want 2", len(items))
	}
	if items[0].Title != "newer" || items[1].Title != "older" {
		t.Errorf("history order = [%q, %q], want most recent first", items[0].Title, items[1].Title)
	}
	if items[0].Owner.Username != "creator" {
		t.Errorf("owner username = %q, want creator", items[0].Owner.Username)
	}
	if items[0].Owner.AvatarURL == "" {
		t.Error("owner avatar missing")
	}
}

func TestWatchHistoryEmpty(t *testing.T) {
	env := newTestEnv()
	viewer := env.addUser(t, "viewer", "viewer@x.com", "pw12345")
	pair := env.login(t, viewer)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/users/history", nil)
	w := env.doAuthed(env.handlers.WatchHistory, r, pair.AccessToken)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	// An empty history serializes as [], never null.
	envelope := decodeEnvelope(t, w)
	if string(envelope.Data) != "[]" {
		t.Errorf("data = %s, want []", envelope.Data)
	}
}

func TestAddWatchHistory(t *testing.T) {
	env := newTestEnv()
	owner := env.addUser(t, "creator", "creator@x.com", "pw12345")
	viewer := env.addUser(t, "viewer", "viewer@x.com", "pw12345")
	pair := env.login(t, viewer)

	video := env.addVideo(t, owner, "clip")

	r := httptest.NewRequest(http.MethodPost, "/api/v1/users/history/"+video.ID.String(), nil)
	r.SetPathValue("videoID", video.ID.String())
	w := env.doAuthed(env.handlers.AddWatchHistory, r, pair.AccessToken)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusOK, w.Body.String())
	}
	if _, ok := env.videos.watched[viewer.ID][video.ID]; !ok {
		t.Error("watch entry not recorded")
	}

	// Re-watching keeps a single entry.
	r2 := httptest.NewRequest(http.MethodPost, "/api/v1/users/history/"+video.ID.String(), nil)
	r2.SetPathValue("videoID", video.ID.String())
	w2 := env.doAuthed(env.handlers.AddWatchHistory, r2, pair.AccessToken)
	if w2.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w2.Code, http.StatusOK)
	}
	if len(env.videos.watched[viewer.ID]) != 1 {
		t.Errorf("watch entries = %d, want 1", len(env.videos.watched[viewer.ID]))
	}
}

func TestAddWatchHistoryErrors(t *testing.T) {
	env := newTestEnv()
	viewer := env.addUser(t, "viewer", "viewer@x.com", "pw12345")
	pair := env.login(t, viewer)

	tests := []struct {
		name       string
		videoID    string
		wantStatus int
	}{
		{"invalid id", "not-a-uuid", http.StatusBadRequest},
		{"unknown video", uuid.New().String(), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/v1/users/history/"+tt.videoID, nil)
			r.SetPathValue("videoID", tt.videoID)
			w := env.doAuthed(env.handlers.AddWatchHistory, r, pair.AccessToken)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}
