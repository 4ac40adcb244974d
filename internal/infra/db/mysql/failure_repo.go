package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	domain "github.com/bryanwahyu/xray-analyzer/internal/domain/uploads"
)

type FailureRepository struct {
	db *sql.DB
}

func NewFailureRepository(db *sql.DB) *FailureRepository { return &FailureRepository{db: db} }

func (r *FailureRepository) Save(ctx context.Context, e *domain.Failure) error {
	const q = `
INSERT INTO xray_upload_failures
  (user_id, session_id, attempt, file_name, kind, status_code, message, details_json, created_at)
VALUES (?,?,?,?,?,?,?,?,?)
`
	msg := stringOrDash(e.Message)
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q,
		stringOrDash(e.UserID), stringOrDash(e.SessionID), e.Attempt, stringOrDash(e.FileName),
		stringOrDash(string(e.Kind)), e.StatusCode, msg, detailsJSON(e.DetailsJSON), created,
	)
	return err
}

func (r *FailureRepository) ListBySession(ctx context.Context, userID, sessionID string, limit int) ([]*domain.Failure, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, user_id, session_id, attempt, file_name, kind, status_code, message, details_json, created_at
FROM xray_upload_failures
WHERE user_id = ? AND session_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?;`
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

// detailsJSON ensures valid json; if invalid, wrap as string field
func detailsJSON(details string) string {
	if strings.TrimSpace(details) == "" {
		return "{}"
	}
	var js any
	if json.Unmarshal([]byte(details), &js) != nil {
		b, _ := json.Marshal(map[string]string{"raw": details})
		return string(b)
	}
	return details
}
