package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrUsernameExists = errors.New("username already exists")
	ErrEmailExists    = errors.New("email already exists")

	// ErrStaleRefreshToken is returned when a conditional refresh-token
	// rotation matches no row, meaning the presented token was already
	// superseded by a concurrent rotation.
	ErrStaleRefreshToken = errors.New("refresh token already rotated")
)

type User struct {
	ID               uuid.UUID
	Username         string
	Email            string
	FullName         string
	PasswordHash     string
	AvatarURL        string
	CoverImageURL    string
	RefreshTokenHash string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

const userColumns = `id, username, email, full_name, password_hash, avatar_url, cover_image_url, refresh_token_hash, created_at, updated_at`

type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, username, email, full_name, password_hash, avatar_url, cover_image_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.Username, user.Email, user.FullName, user.PasswordHash,
		user.AvatarURL, user.CoverImageURL, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		switch uniqueViolation(err) {
		case "users_username_key":
			return ErrUsernameExists
		case "users_email_key":
			return ErrEmailExists
		}
		return err
	}

	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, username))
}

// GetByUsernameOrEmail resolves a login identifier; either value may be empty.
func (r *UserRepository) GetByUsernameOrEmail(ctx context.Context, username, email string) (*User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE (username = $1 AND $1 <> '') OR (email = $2 AND $2 <> '')
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, username, email))
}

// UpdateProfile sets full name and email, returning the updated record.
func (r *UserRepository) UpdateProfile(ctx context.Context, id uuid.UUID, fullName, email string) (*User, error) {
	query := `
		UPDATE users
		SET full_name = $2, email = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns

	user, err := r.scanOne(r.db.QueryRowContext(ctx, query, id, fullName, email))
	if err != nil {
		if uniqueViolation(err) == "users_email_key" {
			return nil, ErrEmailExists
		}
		return nil, err
	}
	return user, nil
}

// UpdateAvatar swaps the avatar URL and returns both the updated record and
// the URL that was previously stored, so the caller can schedule blob cleanup.
func (r *UserRepository) UpdateAvatar(ctx context.Context, id uuid.UUID, avatarURL string) (*User, string, error) {
	query := `
		UPDATE users u
		SET avatar_url = $2, updated_at = NOW()
		FROM (SELECT avatar_url AS prev FROM users WHERE id = $1 FOR UPDATE) old
		WHERE u.id = $1
		RETURNING ` + prefixedUserColumns("u") + `, old.prev
	`
	return r.scanOneWithPrev(r.db.QueryRowContext(ctx, query, id, avatarURL))
}

// UpdateCoverImage swaps the cover image URL, returning the previous URL.
func (r *UserRepository) UpdateCoverImage(ctx context.Context, id uuid.UUID, coverURL string) (*User, string, error) {
	query := `
		UPDATE users u
		SET cover_image_url = $2, updated_at = NOW()
		FROM (SELECT cover_image_url AS prev FROM users WHERE id = $1 FOR UPDATE) old
		WHERE u.id = $1
		RETURNING ` + prefixedUserColumns("u") + `, old.prev
	`
	return r.scanOneWithPrev(r.db.QueryRowContext(ctx, query, id, coverURL))
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	query := `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`
	return r.execExpectingRow(ctx, query, id, passwordHash)
}

// SetRefreshToken stores the hash of a newly issued refresh token,
// overwriting whatever was there before.
func (r *UserRepository) SetRefreshToken(ctx context.Context, id uuid.UUID, tokenHash string) error {
	query := `UPDATE users SET refresh_token_hash = $2, updated_at = NOW() WHERE id = $1`
	return r.execExpectingRow(ctx, query, id, tokenHash)
}

// RotateRefreshToken replaces the stored refresh-token hash only if it still
// equals oldHash. A concurrent rotation that got there first leaves zero rows
// matched and the caller sees ErrStaleRefreshToken.
func (r *UserRepository) RotateRefreshToken(ctx context.Context, id uuid.UUID, oldHash, newHash string) error {
	query := `
		UPDATE users
		SET refresh_token_hash = $3, updated_at = NOW()
		WHERE id = $1 AND refresh_token_hash = $2
	`

	result, err := r.db.ExecContext(ctx, query, id, oldHash, newHash)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrStaleRefreshToken
	}

	return nil
}

func (r *UserRepository) ClearRefreshToken(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE users SET refresh_token_hash = '', updated_at = NOW() WHERE id = $1`
	return r.execExpectingRow(ctx, query, id)
}

func (r *UserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM users WHERE id = $1`
	return r.execExpectingRow(ctx, query, id)
}

func (r *UserRepository) scanOne(row *sql.Row) (*User, error) {
	user := &User{}
	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.FullName, &user.PasswordHash,
		&user.AvatarURL, &user.CoverImageURL, &user.RefreshTokenHash,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (r *UserRepository) scanOneWithPrev(row *sql.Row) (*User, string, error) {
	user := &User{}
	var prev string
	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.FullName, &user.PasswordHash,
		&user.AvatarURL, &user.CoverImageURL, &user.RefreshTokenHash,
		&user.CreatedAt, &user.UpdatedAt, &prev,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", ErrUserNotFound
		}
		return nil, "", err
	}
	return user, prev, nil
}

func (r *UserRepository) execExpectingRow(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrUserNotFound
	}

	return nil
}

func prefixedUserColumns(alias string) string {
	return alias + `.id, ` + alias + `.username, ` + alias + `.email, ` + alias + `.full_name, ` +
		alias + `.password_hash, ` + alias + `.avatar_url, ` + alias + `.cover_image_url, ` +
		alias + `.refresh_token_hash, ` + alias + `.created_at, ` + alias + `.updated_at`
}

// uniqueViolation returns the violated constraint name for postgres unique
// violations, or "" for anything else.
func uniqueViolation(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return pqErr.Constraint
	}
	return ""
}
