package users

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vidhub/backend/internal/apperrors"
	"github.com/vidhub/backend/internal/auth"
	"github.com/vidhub/backend/internal/db"
	"github.com/vidhub/backend/internal/logger"
	"github.com/vidhub/backend/internal/storage"
)

// maxUploadBytes bounds multipart parsing for avatar/cover uploads.
const maxUploadBytes = 8 << 20

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// UserStore is the credential-store surface the handlers depend on.
type UserStore interface {
	Create(ctx context.Context, user *db.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.User, error)
	GetByUsername(ctx context.Context, username string) (*db.User, error)
	GetByUsernameOrEmail(ctx context.Context, username, email string) (*db.User, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, fullName, email string) (*db.User, error)
	UpdateAvatar(ctx context.Context, id uuid.UUID, avatarURL string) (*db.User, string, error)
	UpdateCoverImage(ctx context.Context, id uuid.UUID, coverURL string) (*db.User, string, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// SubscriptionStore covers the subscription-edge queries.
type SubscriptionStore interface {
	Create(ctx context.Context, sub *db.Subscription) error
	Delete(ctx context.Context, subscriberID, channelID uuid.UUID) error
	IsSubscribed(ctx context.Context, subscriberID, channelID uuid.UUID) (bool, error)
	GetChannelProfile(ctx context.Context, username string, viewerID uuid.UUID) (*db.ChannelProfile, error)
}

// VideoStore covers the watch-history queries.
type VideoStore interface {
	AppendWatchHistory(ctx context.Context, userID, videoID uuid.UUID) error
	GetWatchHistory(ctx context.Context, userID uuid.UUID) ([]db.WatchHistoryEntry, error)
}

// BlobStore uploads media blobs. Deletion goes through the cleanup queue,
// never straight to the store.
type BlobStore interface {
	Upload(ctx context.Context, reader io.Reader, size int64, contentType string) (*storage.UploadResult, error)
}

// CleanupQueue schedules superseded blobs for asynchronous deletion.
type CleanupQueue interface {
	Enqueue(ctx context.Context, blobID, reason string) error
}

// ProfileCache is a short-TTL read cache for channel profiles. Cached
// profiles are keyed per viewer, so dropping every copy of one channel
// needs the prefix form.
type ProfileCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string)
	InvalidatePrefix(ctx context.Context, prefix string)
}

// Config carries cookie lifetimes into the handlers.
type Config struct {
	AccessTokenMaxAge  time.Duration
	RefreshTokenMaxAge time.Duration
}

type Handlers struct {
	users    UserStore
	subs     SubscriptionStore
	videos   VideoStore
	tokens   *auth.Service
	blobs    BlobStore
	cleanupQ CleanupQueue
	cache    ProfileCache
	cfg      Config
	log      *logger.Logger
}

func NewHandlers(users UserStore, subs SubscriptionStore, videos VideoStore, tokens *auth.Service, blobs BlobStore, cleanupQ CleanupQueue, profileCache ProfileCache, cfg Config) *Handlers {
	return &Handlers{
		users:    users,
		subs:     subs,
		videos:   videos,
		tokens:   tokens,
		blobs:    blobs,
		cleanupQ: cleanupQ,
		cache:    profileCache,
		cfg:      cfg,
		log:      logger.Default().WithComponent("users"),
	}
}

// Request/Response types

type LoginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type ChangePasswordRequest struct {
	OldPassword     string `json:"oldPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

type UpdateAccountRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
}

type LoginResponse struct {
	User         *auth.Identity `json:"user"`
	AccessToken  string         `json:"accessToken"`
	RefreshToken string         `json:"refreshToken"`
}

type RefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Register creates a new account from a multipart form carrying the profile
// fields plus a required avatar file and an optional cover image.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) error {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return apperrors.BadRequest("invalid multipart form")
	}

	username := db.CanonicalUsername(r.FormValue("username"))
	email := strings.TrimSpace(r.FormValue("email"))
	fullName := strings.TrimSpace(r.FormValue("fullName"))
	password := r.FormValue("password")

	if username == "" || email == "" || fullName == "" || password == "" {
		return apperrors.ValidationError("username, email, fullName and password are required")
	}
	if !emailRegex.MatchString(email) {
		return apperrors.ValidationError("invalid email format")
	}

	if _, err := h.users.GetByUsernameOrEmail(r.Context(), username, email); err == nil {
		return apperrors.UserExists()
	} else if !errors.Is(err, db.ErrUserNotFound) {
		return err
	}

	avatarFile, avatarHeader, err := r.FormFile("avatar")
	if err != nil {
		return apperrors.BadRequest("avatar file is required")
	}
	defer avatarFile.Close()

	avatar, err := h.uploadImage(r.Context(), avatarFile, avatarHeader)
	if err != nil {
		return apperrors.BadRequest("failed to upload avatar").WithCause(err)
	}

	var coverURL string
	if coverFile, coverHeader, err := r.FormFile("coverImage"); err == nil {
		defer coverFile.Close()
		if cover, err := h.uploadImage(r.Context(), coverFile, coverHeader); err == nil {
			coverURL = cover.URL
		} else {
			h.log.Warn(r.Context(), "cover image upload failed", map[string]interface{}{
				"username": username,
				"error":    err.Error(),
			})
		}
	}

	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	now := time.Now()
	user := &db.User{
		ID:            uuid.New(),
		Username:      username,
		Email:         email,
		FullName:      fullName,
		PasswordHash:  passwordHash,
		AvatarURL:     avatar.URL,
		CoverImageURL: coverURL,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := h.users.Create(r.Context(), user); err != nil {
		// The two uploads are orphans now; schedule their removal.
		h.enqueueCleanup(r.Context(), avatar.URL, "registration failed")
		h.enqueueCleanup(r.Context(), coverURL, "registration failed")

		if errors.Is(err, db.ErrUsernameExists) || errors.Is(err, db.ErrEmailExists) {
			return apperrors.UserExists()
		}
		return err
	}

	requestID := apperrors.GetRequestID(r.Context())
	apperrors.WriteJSON(w, requestID, http.StatusOK, auth.IdentityFromUser(user), "user registered successfully")
	return nil
}

// Login verifies a username-or-email plus password and issues a token pair,
// set both as cookies and returned in the body.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) error {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apperrors.BadRequest("invalid request body")
	}

	req.Username = db.CanonicalUsername(req.Username)
	req.Email = strings.TrimSpace(req.Email)

	if req.Username == "" && req.Email == "" {
		return apperrors.ValidationError("username or email is required")
	}
	if req.Password == "" {
		return apperrors.ValidationError("password is required")
	}

	user, err := h.users.GetByUsernameOrEmail(r.Context(), req.Username, req.Email)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return apperrors.NotFound("user")
		}
		return err
	}

	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		return apperrors.InvalidCredentials()
	}

	pair, err := h.tokens.Issue(r.Context(), user)
	if err != nil {
		return err
	}

	h.setAuthCookies(w, pair)

	requestID := apperrors.GetRequestID(r.Context())
	apperrors.WriteJSON(w, requestID, http.StatusOK, LoginResponse{
		User:         auth.IdentityFromUser(user),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, "user logged in successfully")
	return nil
}

// Logout unsets the stored refresh token and clears both cookies.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) error {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		return apperrors.Unauthorized("not authenticated")
	}

	if err := h.tokens.Revoke(r.Context(), identity.ID); err != nil {
		return err
	}

	h.clearAuthCookies(w)

	requestID := apperrors.GetRequestID(r.Context())
	apperrors.WriteJSON(w, requestID, http.StatusOK, struct{}{}, "user logged out")
	return nil
}

// RefreshToken exchanges the presented refresh token (cookie or body field)
// for a rotated pair.
func (h *Handlers) RefreshToken(w http.ResponseWriter, r *http.Request) error {
	presented := refreshTokenFromRequest(r)
	if presented == "" {
		return apperrors.Unauthorized("missing refresh token")
	}

	_, pair, err := h.tokens.Refresh(r.Context(), presented)
	if err != nil {
		return mapTokenError(err)
	}

	h.setAuthCookies(w, pair)

	requestID := apperrors.GetRequestID(r.Context())
	apperrors.WriteJSON(w, requestID, http.StatusOK, RefreshResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, "access token refreshed successfully")
	return nil
}

// ChangePassword re-hashes and persists a new password after verifying the
// old one.
func (h *Handlers) ChangePassword(w http.ResponseWriter, r *http.Request) error {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		return apperrors.Unauthorized("not authenticated")
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apperrors.BadRequest("invalid request body")
	}

	if req.OldPassword == "" || req.NewPassword == "" || req.ConfirmPassword == "" {
		return apperrors.ValidationError("oldPassword, newPassword and confirmPassword are required")
	}
	if req.NewPassword != req.ConfirmPassword {
		return apperrors.ValidationError("new password and confirmation do not match")
	}

	user, err := h.users.GetByID(r.Context(), identity.ID)
	if err != nil {
		return err
	}

	if err := auth.CheckPassword(user.PasswordHash, req.OldPassword); err != nil {
		return apperrors.Unauthorized("invalid old password")
	}

	passwordHash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		return err
	}

	if err := h.users.UpdatePassword(r.Context(), identity.ID, passwordHash); err != nil {
		return err
	}

	requestID := apperrors.GetRequestID(r.Context())
	apperrors.WriteJSON(w, requestID, http.StatusOK, struct{}{}, "password changed successfully")
	return nil
}

// Me returns the middleware-resolved identity.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) error {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		return apperrors.Unauthorized("not authenticated")
	}

	requestID := apperrors.GetRequestID(r.Context())
	apperrors.WriteJSON(w, requestID, http.StatusOK, identity, "current user fetched successfully")
	return nil
}

// UpdateAccount updates full name and email; both are required.
func (h *Handlers) UpdateAccount(w http.ResponseWriter, r *http.Request) error {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		return apperrors.Unauthorized("not authenticated")
	}

	var req UpdateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apperrors.BadRequest("invalid request body")
	}

	req.FullName = strings.TrimSpace(req.FullName)
	req.Email = strings.TrimSpace(req.Email)

	if req.FullName == "" || req.Email == "" {
		return apperrors.ValidationError("fullName and email are required")
	}
	if !emailRegex.MatchString(req.Email) {
		return apperrors.ValidationError("invalid email format")
	}

	user, err := h.users.UpdateProfile(r.Context(), identity.ID, req.FullName, req.Email)
	if err != nil {
		if errors.Is(err, db.ErrEmailExists) {
			return apperrors.Conflict("email already in use")
		}
		return err
	}

	h.invalidateProfile(r.Context(), user.Username)

	requestID := apperrors.GetRequestID(r.Context())
	apperrors.WriteJSON(w, requestID, http.StatusOK, auth.IdentityFromUser(user), "account details updated successfully")
	return nil
}

// UpdateAvatar replaces the avatar: upload new, persist URL, then schedule
// deletion of the superseded blob. A failed cleanup never fails the request.
func (h *Handlers) UpdateAvatar(w http.ResponseWriter, r *http.Request) error {
	return h.updateImage(w, r, "avatar", func(ctx context.Context, id uuid.UUID, url string) (*db.User, string, error) {
		return h.users.UpdateAvatar(ctx, id, url)
	})
}

// UpdateCoverImage replaces the cover image, same ordering as UpdateAvatar.
func (h *Handlers) UpdateCoverImage(w http.ResponseWriter, r *http.Request) error {
	return h.updateImage(w, r, "coverImage", func(ctx context.Context, id uuid.UUID, url string) (*db.User, string, error) {
		return h.users.UpdateCoverImage(ctx, id, url)
	})
}

func (h *Handlers) updateImage(w http.ResponseWriter, r *http.Request, field string, apply func(context.Context, uuid.UUID, string) (*db.User, string, error)) error {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		return apperrors.Unauthorized("not authenticated")
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return apperrors.BadRequest("invalid multipart form")
	}

	file, header, err := r.FormFile(field)
	if err != nil {
		return apperrors.BadRequest(field + " file is missing")
	}
	defer file.Close()

	uploaded, err := h.uploadImage(r.Context(), file, header)
	if err != nil {
		return apperrors.BadRequest("failed to upload " + field).WithCause(err)
	}

	user, previousURL, err := apply(r.Context(), identity.ID, uploaded.URL)
	if err != nil {
		h.enqueueCleanup(r.Context(), uploaded.URL, field+" update failed")
		return err
	}

	// The new URL is already persisted; the old blob is an orphan from here
	// on and its removal must not affect this response.
	h.enqueueCleanup(r.Context(), previousURL, field+" replaced")
	h.invalidateProfile(r.Context(), user.Username)

	requestID := apperrors.GetRequestID(r.Context())
	apperrors.WriteJSON(w, requestID, http.StatusOK, auth.IdentityFromUser(user), "user "+field+" changed successfully")
	return nil
}

// DeleteAccount authenticates via the refresh-token cookie directly and
// removes the user record.
func (h *Handlers) DeleteAccount(w http.ResponseWriter, r *http.Request) error {
	cookie, err := r.Cookie(auth.RefreshTokenCookie)
	if err != nil || cookie.Value == "" {
		return apperrors.BadRequest("missing refresh token")
	}

	claims, err := h.tokens.VerifyRefresh(cookie.Value)
	if err != nil {
		return mapTokenError(err)
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return apperrors.InvalidToken("invalid refresh token")
	}

	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return apperrors.NotFound("user")
		}
		return err
	}

	if user.RefreshTokenHash == "" || user.RefreshTokenHash != auth.HashToken(cookie.Value) {
		return apperrors.Unauthorized("refresh token is expired or already used")
	}

	if err := h.users.Delete(r.Context(), userID); err != nil {
		return err
	}

	h.enqueueCleanup(r.Context(), user.AvatarURL, "account deleted")
	h.enqueueCleanup(r.Context(), user.CoverImageURL, "account deleted")
	h.invalidateProfile(r.Context(), user.Username)
	h.clearAuthCookies(w)

	requestID := apperrors.GetRequestID(r.Context())
	apperrors.WriteJSON(w, requestID, http.StatusOK, struct{}{}, "user account deleted successfully")
	return nil
}

// helpers

func (h *Handlers) uploadImage(ctx context.Context, file multipart.File, header *multipart.FileHeader) (*storage.UploadResult, error) {
	contentType := header.Header.Get("Content-Type")
	return h.blobs.Upload(ctx, file, header.Size, contentType)
}

// enqueueCleanup schedules a blob for deletion by its URL-derived id.
// Failures are logged, never surfaced: the user-facing operation has
// already succeeded by the time this runs.
func (h *Handlers) enqueueCleanup(ctx context.Context, blobURL, reason string) {
	key := storage.KeyFromURL(blobURL)
	if key == "" {
		return
	}
	if err := h.cleanupQ.Enqueue(ctx, key, reason); err != nil {
		h.log.Warn(ctx, "failed to enqueue blob cleanup", map[string]interface{}{
			"blob":   key,
			"reason": reason,
			"error":  err.Error(),
		})
	}
}

func profileCachePrefix(username string) string {
	return "channel:" + username + ":viewer:"
}

// profileCacheKey names one viewer's cached copy of a channel profile.
func profileCacheKey(username string, viewerID uuid.UUID) string {
	return profileCachePrefix(username) + viewerID.String()
}

// invalidateProfile drops every viewer's cached copy of a channel after the
// underlying record changes.
func (h *Handlers) invalidateProfile(ctx context.Context, username string) {
	h.cache.InvalidatePrefix(ctx, profileCachePrefix(username))
}

func (h *Handlers) setAuthCookies(w http.ResponseWriter, pair *auth.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.AccessTokenCookie,
		Value:    pair.AccessToken,
		Path:     "/",
		MaxAge:   int(h.cfg.AccessTokenMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   true,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     auth.RefreshTokenCookie,
		Value:    pair.RefreshToken,
		Path:     "/",
		MaxAge:   int(h.cfg.RefreshTokenMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   true,
	})
}

func (h *Handlers) clearAuthCookies(w http.ResponseWriter) {
	for _, name := range []string{auth.AccessTokenCookie, auth.RefreshTokenCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   true,
		})
	}
}

func refreshTokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(auth.RefreshTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
		return req.RefreshToken
	}
	return ""
}

// mapTokenError converts token-service sentinels into the authorization
// failures clients see. Invalid, expired and reused tokens all deny access
// the same way.
func mapTokenError(err error) error {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return apperrors.TokenExpired()
	case errors.Is(err, auth.ErrInvalidToken):
		return apperrors.InvalidToken("invalid refresh token")
	case errors.Is(err, auth.ErrTokenReused):
		return apperrors.Unauthorized("refresh token is expired or already used")
	}
	return err
}
