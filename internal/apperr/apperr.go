// Package apperr defines the error taxonomy shared by the state machine,
// the indexer and the scheduler. Action-triggered errors surface to HTTP
// callers as structured codes; background errors stay contained to their
// unit of work.
package apperr

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

type Code string

const (
	CodeValidation   Code = "validation_error"
	CodeUnauthorized Code = "unauthorized"
	CodeSequence     Code = "sequence_error"
	CodeConflict     Code = "conflict"
	CodeNotFound     Code = "not_found"
	CodeChainRPC     Code = "chain_rpc_error"
	CodeDecode       Code = "decode_error"
)

type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap keeps the cause reachable through errors.Unwrap.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

func Validation(format string, args ...any) *Error   { return New(CodeValidation, format, args...) }
func Unauthorized(format string, args ...any) *Error { return New(CodeUnauthorized, format, args...) }
func Sequence(format string, args ...any) *Error     { return New(CodeSequence, format, args...) }
func Conflict(format string, args ...any) *Error     { return New(CodeConflict, format, args...) }
func NotFound(format string, args ...any) *Error     { return New(CodeNotFound, format, args...) }

// CodeOf extracts the taxonomy code from anywhere in the error chain.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

func IsCode(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// HTTPStatus maps a taxonomy code to the HTTP status the API returns.
// Unclassified errors map to 500.
func HTTPStatus(err error) int {
	code, ok := CodeOf(err)
	if !ok {
		return fiber.StatusInternalServerError
	}
	switch code {
	case CodeValidation, CodeDecode:
		return fiber.StatusBadRequest
	case CodeUnauthorized:
		return fiber.StatusForbidden
	case CodeSequence:
		return fiber.StatusUnprocessableEntity
	case CodeConflict:
		return fiber.StatusConflict
	case CodeNotFound:
		return fiber.StatusNotFound
	case CodeChainRPC:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}
