package gerr

import (
	"errors"
	"fmt"
)

// Kind 错误分类。同一输入总是得到同一 Kind，没有可重试的错误。
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindOutOfRange 偏移或长度超出底层缓冲区容量。
	KindOutOfRange
	// KindUnknownProtocol 协议号不在已知协议表中。
	KindUnknownProtocol
	// KindInvalidState 结构性前置条件不满足，例如未扩展头长度就写 options。
	KindInvalidState
	// KindMalformedInput 十六进制等输入格式非法。
	KindMalformedInput
	// KindNoSuchField 数据包不包含所请求的头。
	KindNoSuchField
	// KindExternal 外部协作方（抓包句柄、校验和助手）失败。
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindOutOfRange:
		return "out of range"
	case KindUnknownProtocol:
		return "unknown protocol"
	case KindInvalidState:
		return "invalid state"
	case KindMalformedInput:
		return "malformed input"
	case KindNoSuchField:
		return "no such field"
	case KindExternal:
		return "external"
	default:
		return "unknown"
	}
}

var (
	ErrOutOfRange      = &Err{Kind: KindOutOfRange}
	ErrUnknownProtocol = &Err{Kind: KindUnknownProtocol}
	ErrInvalidState    = &Err{Kind: KindInvalidState}
	ErrMalformedInput  = &Err{Kind: KindMalformedInput}
	ErrNoSuchField     = &Err{Kind: KindNoSuchField}
	ErrExternal        = &Err{Kind: KindExternal}
)

// Err 是本模块所有错误的统一载体。
type Err struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Err) Error() string {
	msg := e.Kind.String()
	if e.Msg != "" {
		msg = e.Msg
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Err) Unwrap() error {
	return e.Err
}

// Is 按 Kind 匹配，使 errors.Is(err, gerr.ErrOutOfRange) 对任意越界错误成立。
func (e *Err) Is(target error) bool {
	var t *Err
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func newErr(kind Kind, op, format string, args ...interface{}) *Err {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Err{Kind: kind, Op: op, Msg: msg}
}

func OutOfRange(op, format string, args ...interface{}) error {
	return newErr(KindOutOfRange, op, format, args...)
}

func UnknownProtocol(op string, value int) error {
	return newErr(KindUnknownProtocol, op, "protocol %d is not recognized", value)
}

func InvalidState(op, format string, args ...interface{}) error {
	return newErr(KindInvalidState, op, format, args...)
}

func MalformedInput(op, format string, args ...interface{}) error {
	return newErr(KindMalformedInput, op, format, args...)
}

func NoSuchField(op, format string, args ...interface{}) error {
	return newErr(KindNoSuchField, op, format, args...)
}

// External 包装外部协作方返回的错误。
func External(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Err{Kind: KindExternal, Op: op, Err: err}
}

// KindOf 返回 err 链上第一个 *Err 的 Kind。
func KindOf(err error) Kind {
	var e *Err
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
