package core

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
)

type ErrorCode string

const (
	ErrInvalidArgument    ErrorCode = "BRIDGE_INVALID_ARGUMENT"
	ErrNotFound           ErrorCode = "BRIDGE_NOT_FOUND"
	ErrAlreadyExists      ErrorCode = "BRIDGE_ALREADY_EXISTS"
	ErrFailedPrecondition ErrorCode = "BRIDGE_FAILED_PRECONDITION"
	ErrUnavailable        ErrorCode = "BRIDGE_UNAVAILABLE"
	ErrInternal           ErrorCode = "BRIDGE_INTERNAL"
)

// HTTPStatus returns the HTTP status code for this error code.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	case ErrInvalidArgument:
		return 400
	case ErrNotFound:
		return 404
	case ErrAlreadyExists:
		return 409
	case ErrFailedPrecondition:
		return 412
	case ErrUnavailable:
		return 503
	default:
		return 500
	}
}

// GRPCCode returns the gRPC status code for this error code.
func (e ErrorCode) GRPCCode() codes.Code {
	switch e {
	case ErrInvalidArgument:
		return codes.InvalidArgument
	case ErrNotFound:
		return codes.NotFound
	case ErrAlreadyExists:
		return codes.AlreadyExists
	case ErrFailedPrecondition:
		return codes.FailedPrecondition
	case ErrUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// CodeFromGRPC is the inverse of GRPCCode; unknown codes map to ErrInternal.
func CodeFromGRPC(c codes.Code) ErrorCode {
	switch c {
	case codes.InvalidArgument:
		return ErrInvalidArgument
	case codes.NotFound:
		return ErrNotFound
	case codes.AlreadyExists:
		return ErrAlreadyExists
	case codes.FailedPrecondition:
		return ErrFailedPrecondition
	case codes.Unavailable:
		return ErrUnavailable
	default:
		return ErrInternal
	}
}

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAppError(code ErrorCode, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

func Errorf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsAppError unwraps err into an AppError, wrapping anything else as ErrInternal.
func AsAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewAppError(ErrInternal, err.Error())
}

// IsCode reports whether err is an AppError carrying code.
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}
