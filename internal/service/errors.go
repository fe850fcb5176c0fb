package service

import (
	"errors"
	"fmt"

	"github.com/Shivanand-hulikatti/blackboards/internal/repository"
)

// Error kinds surfaced to callers. Handlers match them with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrCapacityExhausted = errors.New("session is fully booked")
	ErrDuplicate         = errors.New("already booked")
)

// ErrSessionStarted is returned when a booking targets a session that has
// already begun. It matches ErrNotFound.
var ErrSessionStarted error = &kindError{msg: "session has already started", kind: ErrNotFound}

type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

// StoreError is any persistence failure that is not one of the error kinds
// above. It is propagated, not interpreted.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// storeErr maps repository sentinels onto service error kinds and wraps
// everything else in a StoreError.
func storeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrNoCapacity):
		return ErrCapacityExhausted
	case errors.Is(err, repository.ErrDuplicate):
		return ErrDuplicate
	}
	return &StoreError{Op: op, Err: err}
}

// outcomeLabel names an error kind for metrics and spans.
func outcomeLabel(err error) string {
	var storeError *StoreError
	switch {
	case errors.Is(err, ErrSessionStarted):
		return "session_started"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrCapacityExhausted):
		return "capacity_exhausted"
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	case errors.As(err, &storeError):
		return "store_error"
	}
	return "invalid"
}
