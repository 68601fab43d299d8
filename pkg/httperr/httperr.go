package httperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindBadRequest         Kind = "bad_request"
	KindCollectionNotFound Kind = "collection_not_found"
	KindFieldNotFound      Kind = "field_not_found"
	KindUnauthorized       Kind = "unauthorized"
	KindSystemCollection   Kind = "system_collection"
	KindOperation          Kind = "operation"
)

// Error is the classified error shared by the field controller and the schema
// service. Target names the collection or field the error is about.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Target  string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	base := e.Message
	if e.Target != "" {
		base = fmt.Sprintf("%s (%s)", base, e.Target)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", base, e.Cause)
	}
	return base
}

func (e *Error) Unwrap() error { return e.Cause }

func NewBadRequest(msg string) error {
	return &Error{Kind: KindBadRequest, Code: "invalid_payload", Message: msg}
}

func NewCollectionNotFound(collection string) error {
	return &Error{Kind: KindCollectionNotFound, Code: "collection_not_found", Message: "collection not found", Target: collection}
}

func NewFieldNotFound(collection, field string) error {
	return &Error{Kind: KindFieldNotFound, Code: "field_not_found", Message: "field not found", Target: collection + "." + field}
}

func NewUnauthorized(msg string) error {
	return &Error{Kind: KindUnauthorized, Code: "unauthorized", Message: msg}
}

func NewSystemCollection(collection string) error {
	return &Error{Kind: KindSystemCollection, Code: "system_collection_forbidden", Message: "system collection cannot be batch updated", Target: collection}
}

// NewOperation classifies any other downstream failure. An empty code falls
// back to field_operation_failed.
func NewOperation(code string, msg string, cause error) error {
	if code == "" {
		code = "field_operation_failed"
	}
	return &Error{Kind: KindOperation, Code: code, Message: msg, Cause: cause}
}

func IsKind(err error, kind Kind) bool {
	e, ok := errors.AsType[*Error](err)
	return ok && e.Kind == kind
}

func IsBadRequest(err error) bool { return IsKind(err, KindBadRequest) }

// Status maps a classified error to its HTTP status. Unclassified errors are
// internal errors.
func Status(err error) int {
	e, ok := errors.AsType[*Error](err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindCollectionNotFound, KindFieldNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindSystemCollection:
		return http.StatusForbidden
	case KindOperation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func Code(err error) string {
	if e, ok := errors.AsType[*Error](err); ok && e.Code != "" {
		return e.Code
	}
	return "internal_error"
}

// Message returns a client-safe message; causes of unclassified errors are not
// exposed.
func Message(err error) string {
	if e, ok := errors.AsType[*Error](err); ok {
		if e.Target != "" {
			return e.Message + ": " + e.Target
		}
		return e.Message
	}
	return "internal error"
}
