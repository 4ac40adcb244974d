package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	domain "github.com/bryanwahyu/xray-analyzer/internal/domain/uploads"
)

type FailureRepository struct{ db *sql.DB }

func NewFailureRepository(db *sql.DB) *FailureRepository { return &FailureRepository{db: db} }

func (r *FailureRepository) Save(ctx context.Context, e *domain.Failure) error {
	const q = `
INSERT INTO xray_upload_failures
  (user_id, session_id, attempt, file_name, kind, status_code, message, details_json, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING id;`
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return r.db.QueryRowContext(ctx, q,
		stringOrDash(e.UserID), stringOrDash(e.SessionID), e.Attempt, stringOrDash(e.FileName),
		stringOrDash(string(e.Kind)), e.StatusCode, stringOrDash(e.Message), detailsJSON(e.DetailsJSON), created,
	).Scan(&e.ID)
}

func (r *FailureRepository) ListBySession(ctx context.Context, userID, sessionID string, limit int) ([]*domain.Failure, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, user_id, session_id, attempt, file_name, kind, status_code, message, details_json, created_at
FROM xray_upload_failures
WHERE user_id = $1 AND session_id = $2
ORDER BY created_at DESC, id DESC
LIMIT $3;`
	rows, err := r.db.QueryContext(ctx, q, userID, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*domain.Failure{}
	for rows.Next() {
		var e domain.Failure
		var kind string
		if err := rows.Scan(&e.ID, &e.UserID, &e.SessionID, &e.Attempt, &e.FileName, &kind, &e.StatusCode, &e.Message, &e.DetailsJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		if kind != "-" {
			e.Kind = domain.TransportKind(kind)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func detailsJSON(details string) string {
	if strings.TrimSpace(details) == "" {
		return "{}"
	}
	if !json.Valid([]byte(details)) {
		b, _ := json.Marshal(map[string]string{"raw": details})
		return string(b)
	}
	return details
}
