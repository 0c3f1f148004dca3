package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/vidhub/backend/internal/db"
	"golang.org/x/crypto/bcrypt"
)

const BcryptCost = 12

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")

	// ErrTokenReused is returned when a presented refresh token no longer
	// matches the single stored slot: it was rotated away, unset at logout,
	// or lost a concurrent rotation race.
	ErrTokenReused = errors.New("refresh token superseded or revoked")
)

// AccessClaims travel in the short-lived access token.
type AccessClaims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	jwt.RegisteredClaims
}

// RefreshClaims travel in the long-lived refresh token. Only the user id;
// everything else is re-read at refresh time.
type RefreshClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// TokenPair is one issued access/refresh pair.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
}

// UserStore is the slice of the user repository the token service needs.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*db.User, error)
	SetRefreshToken(ctx context.Context, id uuid.UUID, tokenHash string) error
	RotateRefreshToken(ctx context.Context, id uuid.UUID, oldHash, newHash string) error
	ClearRefreshToken(ctx context.Context, id uuid.UUID) error
}

// Service issues, verifies and rotates token pairs. Access and refresh
// tokens are signed with distinct secrets; the refresh token's hash is
// persisted on the user record as the single active slot.
type Service struct {
	users         UserStore
	accessSecret  []byte
	refreshSecret []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
}

func NewService(users UserStore, accessSecret, refreshSecret string, accessExpiry, refreshExpiry time.Duration) *Service {
	return &Service{
		users:         users,
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessExpiry:  accessExpiry,
		refreshExpiry: refreshExpiry,
	}
}

// Issue signs a fresh token pair for the user and persists the refresh
// token's hash before returning, overwriting any prior slot value.
func (s *Service) Issue(ctx context.Context, user *db.User) (*TokenPair, error) {
	accessToken, err := s.signAccessToken(user)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshToken, err := s.signRefreshToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	if err := s.users.SetRefreshToken(ctx, user.ID, HashToken(refreshToken)); err != nil {
		return nil, fmt.Errorf("failed to persist refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(s.accessExpiry.Seconds()),
	}, nil
}

// VerifyAccess checks an access token's signature and expiry.
func (s *Service) VerifyAccess(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := s.parse(tokenString, claims, s.accessSecret); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyRefresh checks a refresh token's signature and expiry.
func (s *Service) VerifyRefresh(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := s.parse(tokenString, claims, s.refreshSecret); err != nil {
		return nil, err
	}
	return claims, nil
}

// Refresh exchanges a previously issued refresh token for a brand-new pair.
// The presented token must exactly match the stored slot; a superseded token
// is rejected even when its signature and expiry are still valid, which is
// what makes refresh tokens single-use per issuance chain.
func (s *Service) Refresh(ctx context.Context, presented string) (*db.User, *TokenPair, error) {
	claims, err := s.VerifyRefresh(presented)
	if err != nil {
		return nil, nil, err
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, nil, ErrInvalidToken
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return nil, nil, ErrInvalidToken
		}
		return nil, nil, err
	}

	presentedHash := HashToken(presented)
	if user.RefreshTokenHash == "" || user.RefreshTokenHash != presentedHash {
		return nil, nil, ErrTokenReused
	}

	accessToken, err := s.signAccessToken(user)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshToken, err := s.signRefreshToken(user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	// Conditional swap keyed on the presented hash: concurrent refreshes
	// with the same token race here and exactly one wins.
	if err := s.users.RotateRefreshToken(ctx, user.ID, presentedHash, HashToken(refreshToken)); err != nil {
		if errors.Is(err, db.ErrStaleRefreshToken) {
			return nil, nil, ErrTokenReused
		}
		return nil, nil, err
	}

	return user, &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(s.accessExpiry.Seconds()),
	}, nil
}

// Revoke unsets the stored refresh token, ending the issuance chain.
func (s *Service) Revoke(ctx context.Context, userID uuid.UUID) error {
	return s.users.ClearRefreshToken(ctx, userID)
}

// ResolveAccess verifies an access token and loads the referenced user,
// returning an identity with credential fields stripped.
func (s *Service) ResolveAccess(ctx context.Context, tokenString string) (*Identity, error) {
	claims, err := s.VerifyAccess(tokenString)
	if err != nil {
		return nil, err
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, ErrInvalidToken
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	return IdentityFromUser(user), nil
}

func (s *Service) signAccessToken(user *db.User) (string, error) {
	now := time.Now()
	claims := &AccessClaims{
		UserID:   user.ID.String(),
		Username: user.Username,
		Email:    user.Email,
		FullName: user.FullName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "vidhub",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.accessSecret)
}

func (s *Service) signRefreshToken(userID uuid.UUID) (string, error) {
	now := time.Now()
	claims := &RefreshClaims{
		UserID: userID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.refreshExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "vidhub",
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.refreshSecret)
}

func (s *Service) parse(tokenString string, claims jwt.Claims, secret []byte) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return ErrInvalidToken
	}

	if !token.Valid {
		return ErrInvalidToken
	}

	return nil
}

// HashToken returns the hex SHA-256 of a token. Only hashes are persisted;
// the raw refresh token exists solely on the client.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// HashPassword bcrypt-hashes a plaintext password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against a stored hash.
func CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
