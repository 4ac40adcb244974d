package uploads

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Failure is a persisted failed upload attempt.
type Failure struct {
	ID          int64         `json:"id"`
	UserID      string        `json:"user_id"`
	SessionID   string        `json:"session_id"`
	Attempt     int           `json:"attempt"`
	FileName    string        `json:"file_name,omitempty"`
	Kind        TransportKind `json:"kind,omitempty"` // empty when the body could not be normalized
	StatusCode  int           `json:"status_code,omitempty"`
	Message     string        `json:"message"`
	DetailsJSON string        `json:"details_json,omitempty"` // raw JSON string
	CreatedAt   time.Time     `json:"created_at"`
}

// FailureRepository defines persistence for failed attempts
type FailureRepository interface {
	Save(ctx context.Context, f *Failure) error
	ListBySession(ctx context.Context, userID, sessionID string, limit int) ([]*Failure, error)
}

// NewFailure describes err the way the session shows it, plus the transport detail.
func NewFailure(userID string, session SessionID, attempt int, file string, err error, at time.Time) *Failure {
	f := &Failure{
		UserID:    userID,
		SessionID: string(session),
		Attempt:   attempt,
		FileName:  file,
		Message:   UserMessage(err),
		CreatedAt: at,
	}
	var te *TransportError
	if errors.As(err, &te) {
		f.Kind = te.Kind
		f.StatusCode = te.StatusCode
	}
	if b, jerr := json.Marshal(map[string]string{"error": err.Error()}); jerr == nil {
		f.DetailsJSON = string(b)
	}
	return f
}
