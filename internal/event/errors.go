package event

import (
	"errors"

	"github.com/samber/oops"
)

// Error codes returned by the registry.
const (
	CodeAlreadyExists = "EVENT_ALREADY_EXISTS"
	CodeDoesNotExist  = "EVENT_DOES_NOT_EXIST"
	CodeTypeError     = "EVENT_TYPE_ERROR"
	CodeCallbackError = "EVENT_CALLBACK_ERROR"
)

// ErrRejected is returned by a subscriber that chose not to handle an event.
// It is not a failure: Fire logs it at debug level and moves on, but the
// subscriber does not count towards the accepted result.
var ErrRejected = errors.New("event rejected by subscriber")

func errAlreadyExists(name string) error {
	return oops.In("event").
		Code(CodeAlreadyExists).
		With("event", name).
		Errorf("event %s already exists", name)
}

func errDoesNotExist(name string) error {
	return oops.In("event").
		Code(CodeDoesNotExist).
		With("event", name).
		Errorf("event %s does not exist", name)
}

func errArity(name string, arity int) error {
	return oops.In("event").
		Code(CodeTypeError).
		With("event", name).
		With("arity", arity).
		Errorf("event %s: arity must be a non-negative integer, got %d", name, arity)
}

func errCallback(name, format string, args ...any) error {
	return oops.In("event").
		Code(CodeCallbackError).
		With("event", name).
		Errorf(format, args...)
}

// HasCode reports whether err is an oops error carrying code.
func HasCode(err error, code string) bool {
	oopsErr, ok := oops.AsOops(err)
	return ok && oopsErr.Code() == code
}
