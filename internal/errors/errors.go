package errors

import (
	"errors"
	"fmt"
)

// ErrCode represents an error code
type ErrCode string

const (
	ErrCodeNotFound          ErrCode = "NOT_FOUND"
	ErrCodeBadRequest        ErrCode = "BAD_REQUEST"
	ErrCodeConflict          ErrCode = "CONFLICT"
	ErrCodeInternal          ErrCode = "INTERNAL_ERROR"
	ErrCodeFetchFailure      ErrCode = "FETCH_FAILURE"
	ErrCodeMalformedResponse ErrCode = "MALFORMED_RESPONSE"
)

var (
	// ErrRunInProgress is returned when a run is requested while another is executing
	ErrRunInProgress = errors.New("extraction run already in progress")

	// ErrRunAborted is returned when too many consecutive partitions failed
	ErrRunAborted = errors.New("extraction run aborted")
)

// AppError represents an application error
type AppError struct {
	Code    ErrCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// NewBadRequestError creates a new bad request error
func NewBadRequestError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeBadRequest,
		Message: message,
	}
}

// NewConflictError creates a new conflict error
func NewConflictError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeConflict,
		Message: message,
		Err:     err,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: message,
		Err:     err,
	}
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeNotFound
	}
	return false
}

// FetchFailure is returned when a search page could not be fetched after
// all attempts. It must reach the caller: a swallowed failure looks exactly
// like the end of the result set.
type FetchFailure struct {
	Query     string
	Partition string
	Page      int
	Attempts  int
	Err       error
}

func (e *FetchFailure) Error() string {
	return fmt.Sprintf("%s: partition %s page %d failed after %d attempt(s): %v",
		ErrCodeFetchFailure, e.Partition, e.Page, e.Attempts, e.Err)
}

func (e *FetchFailure) Unwrap() error {
	return e.Err
}

// MalformedResponse is returned when a successful response does not have
// the expected shape. It is never retried.
type MalformedResponse struct {
	Partition string
	Page      int
	Reason    string
	Err       error
}

func (e *MalformedResponse) Error() string {
	msg := fmt.Sprintf("%s: partition %s page %d: %s", ErrCodeMalformedResponse, e.Partition, e.Page, e.Reason)
	if e.Err != nil {
		msg += fmt.Sprintf(" (%v)", e.Err)
	}
	return msg
}

func (e *MalformedResponse) Unwrap() error {
	return e.Err
}

// IsFetchFailure checks if the error is a fetch failure
func IsFetchFailure(err error) bool {
	var ff *FetchFailure
	return errors.As(err, &ff)
}

// IsMalformedResponse checks if the error is a malformed response
func IsMalformedResponse(err error) bool {
	var mr *MalformedResponse
	return errors.As(err, &mr)
}
