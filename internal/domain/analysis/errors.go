package analysis

import "errors"

// ErrMalformedResponse is returned when the backend body is not JSON at all.
var ErrMalformedResponse = errors.New("malformed response body")

// MalformedError carries the decoder's complaint about a non-JSON body.
// It matches ErrMalformedResponse under errors.Is.
type MalformedError struct {
	Err error
}

func (e *MalformedError) Error() string {
	return ErrMalformedResponse.Error() + ": " + e.Err.Error()
}

func (e *MalformedError) Is(target error) bool { return target == ErrMalformedResponse }

func (e *MalformedError) Unwrap() error { return e.Err }
