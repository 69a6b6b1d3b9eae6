// Package apperr classifies failures so the HTTP layer can pick a status code
// without inspecting error strings.
package apperr

import (
	"errors"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindInput
	KindModelUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindModelUnavailable:
		return "model_unavailable"
	default:
		return "internal"
	}
}

// Error carries a Kind, the operation that failed and a client-safe message.
// Err keeps the underlying cause for server-side logs.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Op != "":
		return e.Op + ": " + e.Msg + ": " + e.Err.Error()
	case e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Op != "":
		return e.Op + ": " + e.Msg
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func Input(op, msg string, err error) *Error {
	return &Error{Kind: KindInput, Op: op, Msg: msg, Err: err}
}

func ModelUnavailable(op, msg string, err error) *Error {
	return &Error{Kind: KindModelUnavailable, Op: op, Msg: msg, Err: err}
}

func Internal(op, msg string, err error) *Error {
	return &Error{Kind: KindInternal, Op: op, Msg: msg, Err: err}
}

// KindOf returns the kind of the first *Error in the chain, KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the client-facing message of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return "internal server error"
}

func Status(k Kind) int {
	if k == KindInput {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
