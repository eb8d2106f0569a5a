package pkg

import (
	"errors"
	"fmt"
	"strings"

	cn "github.com/lunamall/seckill/pkg/constant"
)

// EntityNotFoundError records an error indicating an entity was not found in any case that caused it.
// You can use it to representing a Database not found, cache not found or any other repository.
type EntityNotFoundError struct {
	EntityType string
	Title      string
	Message    string
	Code       string
	Err        error
}

// NewEntityNotFoundError creates an instance of EntityNotFoundError.
func NewEntityNotFoundError(entityType string) EntityNotFoundError {
	return EntityNotFoundError{
		EntityType: entityType,
	}
}

// WrapEntityNotFoundError creates an instance of EntityNotFoundError wrapping the original error.
func WrapEntityNotFoundError(entityType string, err error) EntityNotFoundError {
	return EntityNotFoundError{
		EntityType: entityType,
		Err:        err,
	}
}

// Error implements the error interface.
func (e EntityNotFoundError) Error() string {
	if strings.TrimSpace(e.Message) == "" {
		if strings.TrimSpace(e.EntityType) != "" {
			return fmt.Sprintf("Entity %s not found", e.EntityType)
		}

		if e.Err != nil {
			return e.Err.Error()
		}

		return "entity not found"
	}

	return e.Message
}

// Unwrap implements the error interface introduced in Go 1.13 to unwrap the internal error.
func (e EntityNotFoundError) Unwrap() error {
	return e.Err
}

// ValidationError records an error indicating an input failed a local validation rule.
// Validation errors are rejected at the edge and never retried.
type ValidationError struct {
	EntityType string
	Title      string
	Message    string
	Code       string
	Err        error
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if strings.TrimSpace(e.Code) != "" {
		return fmt.Sprintf("%s - %s", e.Code, e.Message)
	}

	return e.Message
}

// Unwrap implements the error interface introduced in Go 1.13 to unwrap the internal error.
func (e ValidationError) Unwrap() error {
	return e.Err
}

// EntityConflictError records an error indicating an entity already exists in some repository.
type EntityConflictError struct {
	EntityType string
	Title      string
	Message    string
	Code       string
	Err        error
}

// Error implements the error interface.
func (e EntityConflictError) Error() string {
	if e.Err != nil && strings.TrimSpace(e.Message) == "" {
		return e.Err.Error()
	}

	return e.Message
}

// Unwrap implements the error interface introduced in Go 1.13 to unwrap the internal error.
func (e EntityConflictError) Unwrap() error {
	return e.Err
}

// UnprocessableOperationError indicates an operation that couldn't be performant because a
// business precondition does not hold (inactive activity, out of stock, limit exceeded).
type UnprocessableOperationError struct {
	EntityType string
	Title      string
	Message    string
	Code       string
	Err        error
}

func (e UnprocessableOperationError) Error() string {
	return e.Message
}

// Unwrap implements the error interface introduced in Go 1.13 to unwrap the internal error.
func (e UnprocessableOperationError) Unwrap() error {
	return e.Err
}

// FailedPreconditionError indicates a precondition failed during an operation.
type FailedPreconditionError struct {
	EntityType string `json:"entityType,omitempty"`
	Title      string `json:"title,omitempty"`
	Message    string `json:"message,omitempty"`
	Code       string `json:"code,omitempty"`
	Err        error  `json:"err,omitempty"`
}

func (e FailedPreconditionError) Error() string {
	return e.Message
}

// InternalServerError indicates an unexpected infrastructure failure during an operation.
type InternalServerError struct {
	EntityType string `json:"entityType,omitempty"`
	Title      string `json:"title,omitempty"`
	Message    string `json:"message,omitempty"`
	Code       string `json:"code,omitempty"`
	Err        error  `json:"err,omitempty"`
}

func (e InternalServerError) Error() string {
	return e.Message
}

// Unwrap implements the error interface introduced in Go 1.13 to unwrap the internal error.
func (e InternalServerError) Unwrap() error {
	return e.Err
}

// ResponseError is a struct used to return errors to the client.
type ResponseError struct {
	Code    int    `json:"code,omitempty"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message,omitempty"`
}

// Error returns the message of the ResponseError.
func (r ResponseError) Error() string {
	return r.Message
}

// ValidateInternalError validates the error and returns an appropriate InternalServerError.
func ValidateInternalError(err error, entityType string) error {
	return InternalServerError{
		EntityType: entityType,
		Code:       cn.ErrInternalServer.Error(),
		Title:      "Internal Server Error",
		Message:    "The server encountered an unexpected error. Please try again later or contact support.",
		Err:        err,
	}
}

// ValidateBusinessError validates the error and returns the appropriate business error code, title, and message.
//
//nolint:gocyclo
func ValidateBusinessError(err error, entityType string, args ...any) error {
	switch {
	case errors.Is(err, cn.ErrActivityNotFound):
		return EntityNotFoundError{
			EntityType: entityType,
			Code:       cn.ErrActivityNotFound.Error(),
			Title:      "Activity Not Found",
			Message:    "No activity was found for the given ID. Please make sure to use the correct ID for the activity you are trying to reach.",
		}
	case errors.Is(err, cn.ErrActivityNotActive):
		return UnprocessableOperationError{
			EntityType: entityType,
			Code:       cn.ErrActivityNotActive.Error(),
			Title:      "Activity Not Active",
			Message:    "The activity is not accepting admissions at this moment. Please verify the activity status and try again.",
		}
	case errors.Is(err, cn.ErrActivityNotStarted):
		return UnprocessableOperationError{
			EntityType: entityType,
			Code:       cn.ErrActivityNotStarted.Error(),
			Title:      "Activity Not Started",
			Message:    "The activity has not started yet. Please wait for the start time and try again.",
		}
	case errors.Is(err, cn.ErrActivityEnded):
		return UnprocessableOperationError{
			EntityType: entityType,
			Code:       cn.ErrActivityEnded.Error(),
			Title:      "Activity Ended",
			Message:    "The activity has already ended and no further admissions are accepted.",
		}
	case errors.Is(err, cn.ErrInsufficientStock):
		return UnprocessableOperationError{
			EntityType: entityType,
			Code:       cn.ErrInsufficientStock.Error(),
			Title:      "Insufficient Stock",
			Message:    "There is not enough stock remaining to satisfy the requested quantity.",
		}
	case errors.Is(err, cn.ErrUserLimitExceeded):
		return UnprocessableOperationError{
			EntityType: entityType,
			Code:       cn.ErrUserLimitExceeded.Error(),
			Title:      "User Limit Exceeded",
			Message:    "The requested quantity would exceed the per-user purchase limit for this activity.",
		}
	case errors.Is(err, cn.ErrDuplicateAdmission):
		return EntityConflictError{
			EntityType: entityType,
			Code:       cn.ErrDuplicateAdmission.Error(),
			Title:      "Duplicate Admission",
			Message:    "An admission with the same client nonce was already processed. The previous result was returned.",
		}
	case errors.Is(err, cn.ErrInvalidQuantity):
		return ValidationError{
			EntityType: entityType,
			Code:       cn.ErrInvalidQuantity.Error(),
			Title:      "Invalid Quantity",
			Message:    "The requested quantity must be a positive integer within the activity purchase limit.",
		}
	case errors.Is(err, cn.ErrMissingFieldsInRequest):
		return ValidationError{
			EntityType: entityType,
			Code:       cn.ErrMissingFieldsInRequest.Error(),
			Title:      "Missing Fields in Request",
			Message:    "Your request is missing one or more required fields. Please refer to the documentation to ensure all necessary fields are included in your request.",
		}
	case errors.Is(err, cn.ErrCommitNotFound):
		return EntityNotFoundError{
			EntityType: entityType,
			Code:       cn.ErrCommitNotFound.Error(),
			Title:      "Commit Not Found",
			Message:    "No commit was found for the given token. Please make sure to use the token returned by a successful admission.",
		}
	case errors.Is(err, cn.ErrCommitAlreadyReversed):
		return EntityConflictError{
			EntityType: entityType,
			Code:       cn.ErrCommitAlreadyReversed.Error(),
			Title:      "Commit Already Reversed",
			Message:    "The commit identified by the given token was already rolled back.",
		}
	case errors.Is(err, cn.ErrMessageAlreadyDead):
		return UnprocessableOperationError{
			EntityType: entityType,
			Code:       cn.ErrMessageAlreadyDead.Error(),
			Title:      "Message Already Dead",
			Message:    "The outbox message exhausted its retries and was moved to the dead letter queue. Dead messages cannot be redispatched.",
		}
	case errors.Is(err, cn.ErrStockVersionConflict):
		return EntityConflictError{
			EntityType: entityType,
			Code:       cn.ErrStockVersionConflict.Error(),
			Title:      "Stock Version Conflict",
			Message:    "The stock record changed while it was being synchronized. The synchronization was retried with the latest version.",
		}
	case errors.Is(err, cn.ErrInvalidStatusTransition):
		return ValidationError{
			EntityType: entityType,
			Code:       cn.ErrInvalidStatusTransition.Error(),
			Title:      "Invalid Status Transition",
			Message:    "The requested status transition is not permitted from the current activity status.",
		}
	case errors.Is(err, cn.ErrBadRequest):
		return ValidationError{
			EntityType: entityType,
			Code:       cn.ErrBadRequest.Error(),
			Title:      "Bad Request",
			Message:    "The server could not understand the request due to malformed syntax. Please check the listed fields and try again.",
		}
	default:
		return err
	}
}
