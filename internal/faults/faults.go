// Package faults carries the error taxonomy for the order workflow.
// A Fault is tagged with its Kind once, where the failure originates;
// downstream layers branch on the tag instead of matching message text.
package faults

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindNotFound         Kind = "NOT_FOUND"
	KindAlreadyCommitted Kind = "ALREADY_COMMITTED"
	KindValidation       Kind = "VALIDATION_ERROR"
	KindGateway          Kind = "GATEWAY_ERROR"
	KindUpdateFailed     Kind = "UPDATE_FAILED"
	KindUnauthorized     Kind = "UNAUTHORIZED"
	KindConflict         Kind = "CONFLICT"
)

// GatewayDetail subdivides KindGateway by failure class.
type GatewayDetail string

const (
	GatewayNone    GatewayDetail = ""
	GatewayNetwork GatewayDetail = "network"
	GatewayTimeout GatewayDetail = "timeout"
	GatewayClient  GatewayDetail = "client" // 4xx from the remote
	GatewayServer  GatewayDetail = "server" // 5xx from the remote
)

type Fault struct {
	Kind   Kind
	Detail GatewayDetail
	Msg    string
	Err    error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Msg, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Msg)
}

func (f *Fault) Unwrap() error { return f.Err }

func New(kind Kind, msg string) error {
	return &Fault{Kind: kind, Msg: msg}
}

func Newf(kind Kind, format string, args ...any) error {
	return &Fault{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, msg string, err error) error {
	return &Fault{Kind: kind, Msg: msg, Err: err}
}

func Gateway(detail GatewayDetail, msg string, err error) error {
	return &Fault{Kind: KindGateway, Detail: detail, Msg: msg, Err: err}
}

// KindOf reports the tag of err, or empty when err is not a Fault.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

func Is(err error, kind Kind) bool { return KindOf(err) == kind }

// Message returns the user-facing message of a Fault, falling back to
// err.Error() for untagged errors.
func Message(err error) string {
	var f *Fault
	if errors.As(err, &f) {
		return f.Msg
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// HTTPStatus maps a Kind to the response status the API surface uses.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyCommitted, KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindGateway:
		return http.StatusBadGateway
	case KindUpdateFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
