package client

import (
	"errors"
	"fmt"
)

// ErrMissingAPIKey is returned when the credential endpoint answers without a key
var ErrMissingAPIKey = errors.New("API key is missing in response")

// TransportError is returned when the crawl service answers with a non-2xx status
type TransportError struct {
	StatusCode int
	Message    string
}

func (e *TransportError) Error() string {
	return e.Message
}

// NetworkError is returned when a call cannot be issued or its response cannot be read
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsStatus reports whether err is a TransportError with the given status code
func IsStatus(err error, code int) bool {
	var terr *TransportError
	return errors.As(err, &terr) && terr.StatusCode == code
}
