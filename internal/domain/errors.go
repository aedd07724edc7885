package domain

import (
	"errors"
	"fmt"
)

var ErrEmptyTranscript = errors.New("transcript is empty")

// ValidationError reports an extracted record that broke the task contract.
// Index is -1 when the failure concerns the batch as a whole.
type ValidationError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("validation failed: task %d: %s: %s", e.Index, e.Field, e.Reason)
}

// ProviderError wraps failures of the extraction call, including timeouts.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error: %v", e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// Error kinds exposed to clients alongside a message.
const (
	KindEmpty       = "empty_transcript"
	KindValidation  = "validation"
	KindProvider    = "provider"
	KindPersistence = "persistence"
	KindNotFound    = "not_found"
	KindInternal    = "internal"
)

// ErrorKind classifies err for clients.
func ErrorKind(err error) string {
	var (
		ve *ValidationError
		pe *ProviderError
		se *PersistenceError
	)
	switch {
	case errors.Is(err, ErrEmptyTranscript):
		return KindEmpty
	case errors.As(err, &ve):
		return KindValidation
	case IsNotFound(err):
		return KindNotFound
	case errors.As(err, &pe):
		return KindProvider
	case errors.As(err, &se):
		return KindPersistence
	default:
		return KindInternal
	}
}
