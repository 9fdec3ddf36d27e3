package services

import (
	"errors"
	"fmt"

	"github.com/agrostack/fieldsync/internal/models"
)

// Error tokens surfaced to HTTP clients. The global error handler and the
// batch push loop match on these to pick status codes, so messages produced
// by this package always start with the token.
var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidETag = errors.New("E_ETAG - malformed ETag precondition")
	ErrValidation  = errors.New("E_VALIDATION - invalid field payload")

	// errWriteContention marks a lost conditional version update inside a
	// transaction. Never escapes this package; mutations retry the whole
	// transaction a bounded number of times, then report a version conflict.
	errWriteContention = errors.New("write contention")
)

// ConflictError reports a version mismatch, carrying the current server state
// and ETag so the client can re-base and retry.
type ConflictError struct {
	FieldID        string
	CurrentVersion uint64
	CurrentETag    string
	ServerData     *models.FieldRecord
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("E_VERSION - field %s is at version %d", e.FieldID, e.CurrentVersion)
}

// AsConflict unwraps err into a *ConflictError if it is one.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

func conflictFor(field *models.FieldRecord) *ConflictError {
	return &ConflictError{
		FieldID:        field.FieldID,
		CurrentVersion: field.ServerVersion,
		CurrentETag:    MakeETag(field.FieldID, field.ServerVersion),
		ServerData:     field,
	}
}
