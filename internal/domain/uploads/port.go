package uploads

import "context"

// ProgressFunc receives the share of the request body, 0..100, acknowledged by the transport.
type ProgressFunc func(percent int)

// Predictor port (interface untuk inference backend)
type Predictor interface {
	// Predict sends f and returns the raw 2xx body, which may be empty.
	// Failures are reported as *TransportError.
	Predict(ctx context.Context, f File, progress ProgressFunc) ([]byte, error)
}

// PreviewStore port (interface untuk preview reference)
type PreviewStore interface {
	Create(ctx context.Context, session SessionID, f File) (Preview, error)
	Release(ctx context.Context, p Preview) error
}
