package entity

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

// NotFound reports a missing record of kind.
func NotFound(kind, id string) error {
	return goerrors.New(fmt.Sprintf("%s %s not found", kind, id), goerrors.CategoryNotFound)
}

// Invalid reports a rejected request.
func Invalid(err error, message string) error {
	return goerrors.Wrap(err, goerrors.CategoryValidation, message)
}

// wrapSource classifies an error returned by the data source.
func wrapSource(err error, kind, op, id string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return NotFound(kind, id)
	}
	var categorized *goerrors.Error
	if errors.As(err, &categorized) {
		return err
	}
	return goerrors.Wrap(err, goerrors.CategoryExternal, fmt.Sprintf("%s %s failed", kind, op))
}

// Category returns the go-errors category of err, or "" when it has none.
func Category(err error) string {
	var categorized *goerrors.Error
	if errors.As(err, &categorized) {
		return fmt.Sprint(categorized.Category)
	}
	return ""
}

// IsNotFound reports whether err is a not found error.
func IsNotFound(err error) bool {
	var categorized *goerrors.Error
	return errors.As(err, &categorized) && categorized.Category == goerrors.CategoryNotFound
}

// HTTPStatus maps err to a response status.
func HTTPStatus(err error) int {
	var categorized *goerrors.Error
	if !errors.As(err, &categorized) {
		return http.StatusInternalServerError
	}
	switch categorized.Category {
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrorBody is the error half of the response envelope.
type ErrorBody struct {
	Message  string `json:"message"`
	Category string `json:"category,omitempty"`
}

// Response is the envelope every entity operation answers with.
type Response[T any] struct {
	Data    T          `json:"data"`
	Error   *ErrorBody `json:"error"`
	Success bool       `json:"success"`
	Stale   bool       `json:"stale,omitempty"`
}

// OK wraps a successful result.
func OK[T any](data T, stale bool) Response[T] {
	return Response[T]{Data: data, Success: true, Stale: stale}
}

// Fail wraps err.
func Fail[T any](err error) Response[T] {
	return Response[T]{
		Error: &ErrorBody{
			Message:  err.Error(),
			Category: Category(err),
		},
	}
}
