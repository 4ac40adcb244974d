package uploads

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bryanwahyu/xray-analyzer/internal/domain/analysis"
)

func TestUserMessage(t *testing.T) {
	dialErr := errors.New("dial tcp 127.0.0.1:5000: connect: connection refused")

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{
			name: "server error with text",
			err:  &TransportError{Kind: KindServer, StatusCode: 400, Message: "No image uploaded"},
			want: "Server error: 400 - No image uploaded",
		},
		{
			name: "server error without text",
			err:  &TransportError{Kind: KindServer, StatusCode: 502},
			want: "Server error: 502 - Unknown error",
		},
		{
			name: "no response",
			err:  &TransportError{Kind: KindNoResponse, Err: dialErr},
			want: "No response from server. Check if the server is running.",
		},
		{
			name: "request setup",
			err:  &TransportError{Kind: KindRequest, Err: errors.New(`parse "::": missing protocol scheme`)},
			want: `parse "::": missing protocol scheme`,
		},
		{
			name: "wrapped transport error",
			err:  fmt.Errorf("predict: %w", &TransportError{Kind: KindServer, StatusCode: 500, Message: "boom"}),
			want: "Server error: 500 - boom",
		},
		{"empty body", ErrEmptyResponse, "Empty response from server"},
		{"malformed body", fmt.Errorf("normalize: %w", analysis.ErrMalformedResponse), "Invalid response from server"},
		{
			name: "malformed body with detail",
			err:  fmt.Errorf("normalize: %w", &analysis.MalformedError{Err: errors.New("invalid character '<' looking for beginning of value")}),
			want: "Invalid response from server: invalid character '<' looking for beginning of value",
		},
		{"other", errors.New("disk full"), "disk full"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err))
		})
	}
}

func TestTransportError_Unwrap(t *testing.T) {
	cause := errors.New("timeout")
	err := &TransportError{Kind: KindNoResponse, Err: cause}
	assert.ErrorIs(t, err, cause)
}

func TestNewFailure(t *testing.T) {
	at := time.Date(2025, 5, 7, 9, 0, 0, 0, time.UTC)
	err := &TransportError{Kind: KindServer, StatusCode: 503, Message: "model loading"}

	f := NewFailure("alice", "s-1", 2, "chest.png", err, at)
	assert.Equal(t, "alice", f.UserID)
	assert.Equal(t, "s-1", f.SessionID)
	assert.Equal(t, 2, f.Attempt)
	assert.Equal(t, KindServer, f.Kind)
	assert.Equal(t, 503, f.StatusCode)
	assert.Equal(t, "Server error: 503 - model loading", f.Message)
	assert.JSONEq(t, `{"error": "Server error: 503 - model loading"}`, f.DetailsJSON)
	assert.Equal(t, at, f.CreatedAt)

	f = NewFailure("alice", "s-1", 1, "", ErrEmptyResponse, at)
	assert.Empty(t, f.Kind)
	assert.Equal(t, "Empty response from server", f.Message)
}
