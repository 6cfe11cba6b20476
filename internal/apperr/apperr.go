// Package apperr classifies failures so the HTTP layer can choose a status
// code without knowing where the error came from.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindValidation Kind = iota + 1
	KindNotFound
	KindConflict
	KindPersistence
	KindUnauthorized
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindPersistence:
		return "persistence"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// HTTPStatus maps a kind to the response status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

const (
	CodeInvalidRequest    = "invalid_request"
	CodeEmptyCart         = "empty_cart"
	CodeMissingShipping   = "missing_shipping_info"
	CodeInvalidPayment    = "invalid_payment_method"
	CodeProductNotFound   = "product_not_found"
	CodeCategoryNotFound  = "category_not_found"
	CodeOrderNotFound     = "order_not_found"
	CodeInsufficientStock = "insufficient_stock"
	CodeOutOfStock        = "out_of_stock"
	CodeInvalidStatus     = "invalid_status"
	CodeInvalidTransition = "invalid_transition"
	CodeCategoryCycle     = "category_cycle"
	CodeUnauthorized      = "unauthorized"
	CodeForbidden         = "forbidden"
	CodeInternal          = "internal_error"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by code, so sentinels built with New can be
// compared with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Validation(code, format string, args ...interface{}) *Error {
	return New(KindValidation, code, fmt.Sprintf(format, args...))
}

func NotFound(code, format string, args ...interface{}) *Error {
	return New(KindNotFound, code, fmt.Sprintf(format, args...))
}

func Conflict(code, format string, args ...interface{}) *Error {
	return New(KindConflict, code, fmt.Sprintf(format, args...))
}

// Persistence wraps a storage failure. The cause is kept for logging but the
// message never carries it.
func Persistence(err error) *Error {
	return &Error{Kind: KindPersistence, Code: CodeInternal, Message: "internal error", Err: err}
}

// From returns err as an *Error, classifying anything unknown as a
// persistence failure.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Persistence(err)
}

func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindPersistence
}
