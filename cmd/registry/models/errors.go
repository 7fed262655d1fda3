package models

import (
	"errors"
	"fmt"
)

// NotFoundError signals that a plugin id or release version could not
// be resolved. The upsert path also uses it internally to distinguish
// create from update.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Resource)
}

// NewNotFoundError creates a NotFoundError for the given resource description
func NewNotFoundError(format string, args ...any) *NotFoundError {
	return &NotFoundError{Resource: fmt.Sprintf(format, args...)}
}

// IsNotFound reports whether err is (or wraps) a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// InvalidRequestError signals a caller mistake, e.g. attempting to
// overwrite a published release through the unauthenticated upsert path.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return e.Reason
}

// NewInvalidRequestError creates an InvalidRequestError
func NewInvalidRequestError(format string, args ...any) *InvalidRequestError {
	return &InvalidRequestError{Reason: fmt.Sprintf(format, args...)}
}

// IsInvalidRequest reports whether err is (or wraps) an InvalidRequestError
func IsInvalidRequest(err error) bool {
	var ir *InvalidRequestError
	return errors.As(err, &ir)
}
