package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type userRepository struct {
	db *sql.DB
}

// NewUserRepository создаёт PostgreSQL-реализацию UserRepository.
func NewUserRepository(store *Store) domain.UserRepository {
	return &userRepository{db: store.DB()}
}

// Upsert сливает профиль так же, как UserProfile.Merge: пустые поля не затирают сохранённые.
func (r *userRepository) Upsert(profile domain.UserProfile) error {
	uid := strings.TrimSpace(profile.UID)
	if uid == "" {
		return domain.ErrUserNotFound
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var lastLogin sql.NullTime
	if !profile.LastLoginAt.IsZero() {
		lastLogin = sql.NullTime{Time: profile.LastLoginAt.UTC(), Valid: true}
	}
	createdAt := profile.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (uid, email, display_name, last_login_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (uid) DO UPDATE
		SET email = COALESCE(NULLIF(EXCLUDED.email, ''), users.email),
		    display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), users.display_name),
		    last_login_at = COALESCE(EXCLUDED.last_login_at, users.last_login_at)
	`, uid, profile.Email, profile.DisplayName, lastLogin, createdAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", uid, err)
	}
	return nil
}

func (r *userRepository) Get(uid string) (domain.UserProfile, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return domain.UserProfile{}, domain.ErrUserNotFound
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		profile   domain.UserProfile
		lastLogin sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT uid, email, display_name, last_login_at, created_at
		FROM users
		WHERE uid = $1
	`, uid).Scan(&profile.UID, &profile.Email, &profile.DisplayName, &lastLogin, &profile.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.UserProfile{}, domain.ErrUserNotFound
		}
		return domain.UserProfile{}, fmt.Errorf("get user %s: %w", uid, err)
	}
	if lastLogin.Valid {
		profile.LastLoginAt = lastLogin.Time.UTC()
	}
	profile.CreatedAt = profile.CreatedAt.UTC()
	return profile, nil
}

var _ domain.UserRepository = (*userRepository)(nil)
