package llm

import (
	"errors"
	"fmt"
)

var (
	ErrRemoteModel          = errors.New("remote model error")
	ErrUnrecognizedResponse = errors.New("unknown LLM response format")
	ErrTransport            = errors.New("transport error")
)

// RemoteError carries the error object returned by the completion service.
type RemoteError struct {
	Status  int
	Payload string
}

func (e *RemoteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote model error (status %d): %s", e.Status, e.Payload)
	}
	return "remote model error: " + e.Payload
}

func (e *RemoteError) Unwrap() error { return ErrRemoteModel }

// retryable reports whether another attempt could succeed.
func retryable(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Status == 429 || re.Status >= 500
	}
	return errors.Is(err, ErrTransport)
}
