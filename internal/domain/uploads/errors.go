package uploads

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bryanwahyu/xray-analyzer/internal/domain/analysis"
)

var (
	ErrSessionNotFound = errors.New("upload session not found")
	ErrUploadInFlight  = errors.New("upload already in flight")
	ErrEmptyResponse   = errors.New("Empty response from server")
	// ErrAttemptSuperseded: a reset or a new file arrived before the attempt settled.
	ErrAttemptSuperseded = errors.New("upload attempt superseded")
)

const (
	noResponseMessage      = "No response from server. Check if the server is running."
	invalidResponseMessage = "Invalid response from server"
)

// TransportKind classifies how a prediction request failed.
type TransportKind string

const (
	// KindRequest: the request could not be built or sent.
	KindRequest TransportKind = "request"
	// KindNoResponse: the request went out but no response arrived (includes timeouts).
	KindNoResponse TransportKind = "no_response"
	// KindServer: the server answered with a non-2xx status.
	KindServer TransportKind = "server"
)

// TransportError is returned by Predictor implementations.
type TransportError struct {
	Kind       TransportKind
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	switch e.Kind {
	case KindServer:
		msg := e.Message
		if strings.TrimSpace(msg) == "" {
			msg = "Unknown error"
		}
		return fmt.Sprintf("Server error: %d - %s", e.StatusCode, msg)
	case KindNoResponse:
		return noResponseMessage
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *TransportError) Unwrap() error { return e.Err }

// UserMessage maps a failed attempt to the text shown to the user.
func UserMessage(err error) string {
	var te *TransportError
	var me *analysis.MalformedError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &te):
		return te.Error()
	case errors.Is(err, ErrEmptyResponse):
		return ErrEmptyResponse.Error()
	case errors.As(err, &me):
		return invalidResponseMessage + ": " + me.Err.Error()
	case errors.Is(err, analysis.ErrMalformedResponse):
		return invalidResponseMessage
	}
	return err.Error()
}
