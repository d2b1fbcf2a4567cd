package errs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

const (
	ServerInternalError = 500

	HandshakeError        = 1001
	NotConnectedError     = 1002
	TransportDroppedError = 1003
	ProtocolError         = 1004
	SessionClosedError    = 1005
	SupersededError       = 1006
)

var (
	ErrHandshake        = NewCodeError(HandshakeError, "handshake failed")
	ErrNotConnected     = NewCodeError(NotConnectedError, "not connected to hub")
	ErrTransportDropped = NewCodeError(TransportDroppedError, "transport dropped")
	ErrProtocol         = NewCodeError(ProtocolError, "protocol error")
	ErrSessionClosed    = NewCodeError(SessionClosedError, "session closed")
	ErrSuperseded       = NewCodeError(SupersededError, "connect attempt superseded")
)

type CodeErrorI interface {
	ECode() int
	EMsg() string
	DDetail() string
	error
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{
		Code: code,
		Msg:  msg,
	}
}

// CodeError is a classified failure. Two CodeErrors match under errors.Is
// when their codes are equal, whatever their detail.
type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func (e *CodeError) ECode() int      { return e.Code }
func (e *CodeError) EMsg() string    { return e.Msg }
func (e *CodeError) DDetail() string { return e.Detail }

func (e *CodeError) clone() *CodeError {
	return &CodeError{
		Code:   e.Code,
		Msg:    e.Msg,
		Detail: e.Detail,
	}
}

// Wrap returns a copy of e carrying a stack trace.
func (e *CodeError) Wrap() error {
	return pkgerrors.WithStack(e.clone())
}

// WrapMsg returns a copy of e whose detail is extended with msg and the
// key/value pairs, carrying a stack trace.
func (e *CodeError) WrapMsg(msg string, kv ...any) error {
	retErr := e.clone()
	if msg != "" || len(kv) > 0 {
		detail := toString(msg, kv)
		if retErr.Detail == "" {
			retErr.Detail = detail
		} else {
			retErr.Detail += ", " + detail
		}
	}
	return pkgerrors.WithStack(retErr)
}

// WrapErr classifies cause under e, keeping the cause reachable through errors.Unwrap.
func (e *CodeError) WrapErr(cause error) error {
	if cause == nil {
		return nil
	}
	retErr := e.clone()
	retErr.Detail = cause.Error()
	return pkgerrors.WithStack(&causeError{CodeError: retErr, cause: cause})
}

func (e *CodeError) Is(target error) bool {
	var codeErr *CodeError
	if !errors.As(target, &codeErr) || codeErr == nil {
		return false
	}
	return e.Code == codeErr.Code
}

const initialCapacity = 3

func (e *CodeError) Error() string {
	v := make([]string, 0, initialCapacity)
	v = append(v, strconv.Itoa(e.Code), e.Msg)

	if e.Detail != "" {
		v = append(v, e.Detail)
	}

	return strings.Join(v, " ")
}

type causeError struct {
	*CodeError
	cause error
}

func (e *causeError) Unwrap() error { return e.cause }

func (e *causeError) Is(target error) bool { return e.CodeError.Is(target) }

func (e *causeError) As(target any) bool {
	if p, ok := target.(**CodeError); ok {
		*p = e.CodeError
		return true
	}
	return false
}

// Code returns the code of the first CodeError in err's chain, or 0.
func Code(err error) int {
	var codeErr *CodeError
	if errors.As(err, &codeErr) {
		return codeErr.Code
	}
	return 0
}

// Reason is the human-readable part of err, as shown in status lines:
// the detail of a CodeError when present, its message otherwise.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var codeErr *CodeError
	if !errors.As(err, &codeErr) {
		return err.Error()
	}
	if codeErr.Detail != "" {
		return codeErr.Detail
	}
	return codeErr.Msg
}

func New(msg string, kv ...any) error {
	return pkgerrors.New(toString(msg, kv))
}

func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return pkgerrors.WithStack(err)
}

func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(err, toString(msg, kv))
}

func toString(msg string, kv []any) string {
	if len(kv) == 0 {
		return msg
	}
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if sb.Len() > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprint(kv[i]))
		sb.WriteString("=")
		if i+1 < len(kv) {
			sb.WriteString(fmt.Sprint(kv[i+1]))
		} else {
			sb.WriteString("MISSING")
		}
	}
	return sb.String()
}
