package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	domain "github.com/bryanwahyu/xray-analyzer/internal/domain/accounts"
)

type ProfileRepository struct{ db *sql.DB }

func NewProfileRepository(db *sql.DB) *ProfileRepository { return &ProfileRepository{db: db} }

// Save inserts or updates a profile
func (r *ProfileRepository) Save(ctx context.Context, p *domain.Profile) error {
	const q = `
INSERT INTO users
  (user_id, username, email, provider, created_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (user_id) DO UPDATE SET
  username=EXCLUDED.username,
  email=EXCLUDED.email,
  provider=EXCLUDED.provider;
`
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q, p.UserID, stringOrDash(p.Username), p.Email, stringOrDash(p.Provider), createdAt)
	return err
}

func (r *ProfileRepository) Get(ctx context.Context, userID string) (*domain.Profile, error) {
	const q = `
SELECT user_id, username, email, provider, created_at
FROM users
WHERE user_id=$1;`
	var p domain.Profile
	err := r.db.QueryRowContext(ctx, q, userID).Scan(&p.UserID, &p.Username, &p.Email, &p.Provider, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
