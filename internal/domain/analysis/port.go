package analysis

import "context"

// Repository port for persisting and querying finished analyses
type Repository interface {
	Save(ctx context.Context, r *Record) error
	Paginate(ctx context.Context, userID string, page, pageSize int) ([]*Record, error)
}
