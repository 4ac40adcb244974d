package mysql

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/bryanwahyu/xray-analyzer/internal/domain/analysis"
)

type AnalysisRepository struct {
	db *sql.DB
}

func NewAnalysisRepository(db *sql.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// Save inserts an analysis record
func (r *AnalysisRepository) Save(ctx context.Context, a *domain.Record) error {
	const q = `
INSERT INTO xray_analyses
  (id, user_id, session_id, file_name, result_json, created_at)
VALUES (?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
  user_id=VALUES(user_id), session_id=VALUES(session_id), file_name=VALUES(file_name), result_json=VALUES(result_json);
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
WHERE user_id=?
ORDER BY created_at DESC, id DESC
LIMIT ? OFFSET ?;
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
