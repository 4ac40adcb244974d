package postgres

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/bryanwahyu/xray-analyzer/internal/domain/analysis"
)

type AnalysisRepository struct{ db *sql.DB }

func NewAnalysisRepository(db *sql.DB) *AnalysisRepository { return &AnalysisRepository{db: db} }

// Save inserts or updates an analysis record
func (r *AnalysisRepository) Save(ctx context.Context, a *domain.Record) error {
	const q = `
INSERT INTO xray_analyses
  (id, user_id, session_id, file_name, result_json, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE SET
  user_id=EXCLUDED.user_id,
  session_id=EXCLUDED.session_id,
  file_name=EXCLUDED.file_name,
  result_json=EXCLUDED.result_json;
`
	result, err := encodeResult(a.Result)
	if err != nil {
		return err
	}
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = r.db.ExecContext(ctx, q, a.ID, a.UserID, a.SessionID, stringOrDash(a.FileName), result, createdAt)
	return err
}

// Paginate returns a page of analysis records ordered by created_at desc
func (r *AnalysisRepository) Paginate(ctx context.Context, userID string, page, pageSize int) ([]*domain.Record, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	const q = `
SELECT id, user_id, session_id, file_name, result_json, created_at
FROM xray_analyses
WHERE user_id=$1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3;
`
	rows, err := r.db.QueryContext(ctx, q, userID, pageSize, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*domain.Record{}
	for rows.Next() {
		var a domain.Record
		var raw []byte
		if err := rows.Scan(&a.ID, &a.UserID, &a.SessionID, &a.FileName, &raw, &a.CreatedAt); err != nil {
			return nil, err
		}
		if a.Result, err = decodeResult(raw); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
