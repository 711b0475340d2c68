// Package apperr defines the tagged error type shared by the cart and order
// core. Callers branch on Code, never on message text.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind groups codes into the four failure families surfaced to callers.
type Kind string

const (
	KindValidation Kind = "VALIDATION_ERROR"
	KindNotFound   Kind = "NOT_FOUND"
	KindConflict   Kind = "CONFLICT"
	KindInternal   Kind = "INTERNAL"
)

// Code identifies a specific failure.
type Code string

const (
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeCartNotFound       Code = "CART_NOT_FOUND"
	CodeProductNotFound    Code = "PRODUCT_NOT_FOUND"
	CodeOrderNotFound      Code = "ORDER_NOT_FOUND"
	CodeProductUnavailable Code = "PRODUCT_UNAVAILABLE"
	CodeInsufficientStock  Code = "INSUFFICIENT_STOCK"
	CodeCouponInvalid      Code = "COUPON_INVALID"
	CodeInvalidStatus      Code = "INVALID_STATUS"
	CodeInvalidTransition  Code = "INVALID_TRANSITION"
	CodeDuplicateRequest   Code = "DUPLICATE_REQUEST"
	CodeInternal           Code = "INTERNAL"
)

var codeKinds = map[Code]Kind{
	CodeValidation:         KindValidation,
	CodeInvalidStatus:      KindValidation,
	CodeCouponInvalid:      KindValidation,
	CodeCartNotFound:       KindNotFound,
	CodeProductNotFound:    KindNotFound,
	CodeOrderNotFound:      KindNotFound,
	CodeProductUnavailable: KindConflict,
	CodeInsufficientStock:  KindConflict,
	CodeInvalidTransition:  KindConflict,
	CodeDuplicateRequest:   KindConflict,
	CodeInternal:           KindInternal,
}

// StockShortage describes one line that could not be served from stock.
type StockShortage struct {
	ProductID int64 `json:"product_id"`
	Requested int   `json:"requested"`
	Available int   `json:"available"`
}

// Error is the single error type raised by the core.
type Error struct {
	Code      Code
	Message   string
	ProductID int64
	Shortages []StockShortage
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on code so errors.Is(err, apperr.ErrOrderNotFound) works for
// any order-not-found error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func (e *Error) Kind() Kind {
	if k, ok := codeKinds[e.Code]; ok {
		return k
	}
	return KindInternal
}

// HTTPStatus maps the error onto the status code returned at the boundary.
func (e *Error) HTTPStatus() int {
	switch e.Kind() {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		if e.Code == CodeInvalidTransition || e.Code == CodeDuplicateRequest {
			return http.StatusConflict
		}
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation         = &Error{Code: CodeValidation}
	ErrCartNotFound       = &Error{Code: CodeCartNotFound}
	ErrProductNotFound    = &Error{Code: CodeProductNotFound}
	ErrOrderNotFound      = &Error{Code: CodeOrderNotFound}
	ErrProductUnavailable = &Error{Code: CodeProductUnavailable}
	ErrInsufficientStock  = &Error{Code: CodeInsufficientStock}
	ErrCouponInvalid      = &Error{Code: CodeCouponInvalid}
	ErrInvalidStatus      = &Error{Code: CodeInvalidStatus}
	ErrInvalidTransition  = &Error{Code: CodeInvalidTransition}
)

func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return New(CodeValidation, format, args...)
}

func CartNotFound(userID int64) *Error {
	return New(CodeCartNotFound, "cart not found for user %d", userID)
}

func ProductNotFound(productID int64) *Error {
	e := New(CodeProductNotFound, "product %d not found", productID)
	e.ProductID = productID
	return e
}

func ProductUnavailable(productID int64) *Error {
	e := New(CodeProductUnavailable, "product %d is unavailable", productID)
	e.ProductID = productID
	return e
}

func OrderNotFound(orderID int64) *Error {
	return New(CodeOrderNotFound, "order %d not found", orderID)
}

func InsufficientStock(shortages ...StockShortage) *Error {
	e := &Error{Code: CodeInsufficientStock, Shortages: shortages}
	if len(shortages) == 1 {
		s := shortages[0]
		e.ProductID = s.ProductID
		e.Message = fmt.Sprintf("insufficient stock for product %d: requested %d, available %d",
			s.ProductID, s.Requested, s.Available)
	} else {
		e.Message = fmt.Sprintf("insufficient stock for %d products", len(shortages))
	}
	return e
}

// Internal wraps an unexpected failure. The message is what callers see.
func Internal(err error, format string, args ...any) *Error {
	e := New(CodeInternal, format, args...)
	e.Err = err
	return e
}

// From returns err as *Error, wrapping anything untyped as INTERNAL.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err, "internal error")
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
