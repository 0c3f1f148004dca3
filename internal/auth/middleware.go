package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vidhub/backend/internal/apperrors"
	"github.com/vidhub/backend/internal/db"
)

// Cookie names shared by the middleware and the account handlers.
const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"
)

type contextKey string

const identityContextKey contextKey = "identity"

// Identity is the authenticated user attached to the request context.
// Password and refresh-token fields are never carried here.
type Identity struct {
	ID            uuid.UUID `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	FullName      string    `json:"fullName"`
	AvatarURL     string    `json:"avatar"`
	CoverImageURL string    `json:"coverImage,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// IdentityFromUser strips credential fields off a stored user record.
func IdentityFromUser(user *db.User) *Identity {
	return &Identity{
		ID:            user.ID,
		Username:      user.Username,
		Email:         user.Email,
		FullName:      user.FullName,
		AvatarURL:     user.AvatarURL,
		CoverImageURL: user.CoverImageURL,
		CreatedAt:     user.CreatedAt,
		UpdatedAt:     user.UpdatedAt,
	}
}

// TokenFromRequest locates the bearer token: the accessToken cookie takes
// precedence, then the Authorization header.
func TokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(AccessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

// Middleware authenticates each request via the token service and attaches
// the resolved identity to the request context.
func Middleware(service *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := apperrors.GetRequestID(r.Context())

			tokenString := TokenFromRequest(r)
			if tokenString == "" {
				apperrors.WriteError(w, requestID, apperrors.Unauthorized("missing access token"))
				return
			}

			identity, err := service.ResolveAccess(r.Context(), tokenString)
			if err != nil {
				switch err {
				case ErrTokenExpired:
					apperrors.WriteError(w, requestID, apperrors.TokenExpired())
				case ErrInvalidToken:
					apperrors.WriteError(w, requestID, apperrors.InvalidToken("invalid access token"))
				default:
					apperrors.WriteError(w, requestID, err)
				}
				return
			}

			ctx := context.WithValue(r.Context(), identityContextKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext returns the authenticated identity, or nil outside the
// session middleware.
func IdentityFromContext(ctx context.Context) *Identity {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok {
		return nil
	}
	return identity
}
