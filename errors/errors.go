package errors

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

type ErrorCode int

const (
	ParseError = iota + 1000
	StatementError
	PlanBuildError
	TypeError
	EvaluationError
	SerializationError
	StoreError  = iota + 2000
	Unavailable = iota + 3000
	InvalidConfiguration
	InternalError = iota + 5000
)

type MatViewError struct {
	Code ErrorCode
	Msg  string
}

func (m MatViewError) Error() string {
	return m.Msg
}

func NewMatViewError(errorCode ErrorCode, msg string) MatViewError {
	return MatViewError{Code: errorCode, Msg: msg}
}

func NewMatViewErrorf(errorCode ErrorCode, msgFormat string, args ...interface{}) MatViewError {
	return MatViewError{Code: errorCode, Msg: fmt.Sprintf(msgFormat, args...)}
}

func NewParseError(msg string) error {
	return NewMatViewError(ParseError, msg)
}

func NewStatementErrorf(msgFormat string, args ...interface{}) error {
	return NewMatViewErrorf(StatementError, msgFormat, args...)
}

func NewPlanBuildErrorf(msgFormat string, args ...interface{}) error {
	return NewMatViewErrorf(PlanBuildError, msgFormat, args...)
}

func NewTypeErrorf(msgFormat string, args ...interface{}) error {
	return NewMatViewErrorf(TypeError, msgFormat, args...)
}

func NewInvalidConfigurationError(msg string) error {
	return NewMatViewErrorf(InvalidConfiguration, "invalid configuration: %s", msg)
}

func ErrorCodeOf(err error) (ErrorCode, bool) {
	var merr MatViewError
	if As(err, &merr) {
		return merr.Code, true
	}
	return 0, false
}

// The helpers below delegate to pkg/errors so callers get stack traces
// attached at the point of creation or first wrap.

func New(msg string) error {
	return pkgerrors.New(msg)
}

func Error(msg string) error {
	return pkgerrors.New(msg)
}

func Errorf(msgFormat string, args ...interface{}) error {
	return pkgerrors.Errorf(msgFormat, args...)
}

func WithStack(err error) error {
	return pkgerrors.WithStack(err)
}

func Wrap(err error, msg string) error {
	return pkgerrors.Wrap(err, msg)
}

func Wrapf(err error, msgFormat string, args ...interface{}) error {
	return pkgerrors.Wrapf(err, msgFormat, args...)
}

func Is(err error, target error) bool {
	return pkgerrors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return pkgerrors.As(err, target)
}
