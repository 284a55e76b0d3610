// Package apperr описывает таксономию ошибок движка заказов.
package apperr

import (
	"errors"
	"fmt"
)

// Kind определяет класс ошибки, по которому клиент и HTTP-слой принимают решения.
type Kind string

const (
	KindValidation        Kind = "VALIDATION_ERROR"
	KindNotFound          Kind = "NOT_FOUND"
	KindForbidden         Kind = "FORBIDDEN"
	KindStateConflict     Kind = "STATE_CONFLICT"
	KindInsufficientStock Kind = "INSUFFICIENT_STOCK"
	KindDuplicateAction   Kind = "DUPLICATE_ACTION"
)

// Error содержит класс ошибки, уточняющий код и человекочитаемую причину.
type Error struct {
	Kind   Kind   `json:"kind"`
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason"`
}

// Error реализует интерфейс error.
func (e *Error) Error() string {
	if e.Reason == "" {
		return string(e.Kind)
	}
	return e.Reason
}

// Is сравнивает ошибку с эталоном: эталон с кодом совпадает только по коду, без кода по классу.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" {
		return t.Code == e.Code
	}
	return t.Kind == e.Kind
}

// Эталонные ошибки по классам.
var (
	ErrValidation        = &Error{Kind: KindValidation, Reason: "invalid input"}
	ErrNotFound          = &Error{Kind: KindNotFound, Reason: "not found"}
	ErrForbidden         = &Error{Kind: KindForbidden, Reason: "forbidden"}
	ErrStateConflict     = &Error{Kind: KindStateConflict, Reason: "operation not allowed in current state"}
	ErrInsufficientStock = &Error{Kind: KindInsufficientStock, Reason: "insufficient stock"}
	ErrDuplicateAction   = &Error{Kind: KindDuplicateAction, Reason: "duplicate action"}
)

// Эталонные ошибки с уточняющим кодом.
var (
	ErrOrderNotFound   = &Error{Kind: KindNotFound, Code: "ORDER_NOT_FOUND", Reason: "order not found"}
	ErrProductNotFound = &Error{Kind: KindNotFound, Code: "PRODUCT_NOT_FOUND", Reason: "product not found"}
	ErrProductInactive = &Error{Kind: KindStateConflict, Code: "PRODUCT_INACTIVE", Reason: "product is inactive"}
	ErrInvalidQuantity = &Error{Kind: KindValidation, Code: "INVALID_QUANTITY", Reason: "invalid quantity"}
	// ErrConcurrentUpdate возвращается при конфликте сериализации транзакций; повтор остаётся за клиентом.
	ErrConcurrentUpdate = &Error{Kind: KindStateConflict, Code: "CONCURRENT_UPDATE", Reason: "concurrent modification, resubmit the request"}
)

// New создаёт ошибку указанного класса.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Newf создаёт ошибку указанного класса с форматированной причиной.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Wrap копирует класс и код эталона, подставляя собственную причину.
func Wrap(base *Error, format string, args ...any) *Error {
	return &Error{Kind: base.Kind, Code: base.Code, Reason: fmt.Sprintf(format, args...)}
}

// KindOf возвращает класс ошибки или пустую строку для ошибок вне таксономии.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// As извлекает *Error из цепочки ошибок.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
