package apperr

import (
	"errors"
	"net/http"
)

// Kind 错误分类
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindNetwork       Kind = "network"
	KindExchange      Kind = "exchange"
	KindCipherFormat  Kind = "cipher_format"
	KindNotFound      Kind = "not_found"
)

var (
	ErrUnknownExchange      = &Error{Kind: KindConfiguration, Msg: "unknown exchange"}
	ErrUnsupportedOperation = &Error{Kind: KindConfiguration, Msg: "unsupported operation"}
	ErrNoAccount            = &Error{Kind: KindNotFound, Msg: "no account available"}
	ErrCipherFormat         = &Error{Kind: KindCipherFormat, Msg: "malformed ciphertext"}
	ErrNetwork              = &Error{Kind: KindNetwork, Msg: "network error"}
	ErrExchange             = &Error{Kind: KindExchange, Msg: "exchange error"}
)

// Error 领域错误，errors.Is 按 Kind+Msg 匹配哨兵
type Error struct {
	Kind     Kind
	Msg      string
	Exchange string
	Op       string
	Status   int // 上游 HTTP 状态码（如有）
	Err      error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Exchange != "" {
		msg = e.Exchange + " " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

// UnknownExchange 构造未知交易所错误
func UnknownExchange(name string) error {
	return &Error{Kind: KindConfiguration, Msg: ErrUnknownExchange.Msg, Exchange: name}
}

// UnsupportedOperation 构造能力缺失错误
func UnsupportedOperation(exchange, op string) error {
	return &Error{Kind: KindConfiguration, Msg: ErrUnsupportedOperation.Msg, Exchange: exchange, Op: op}
}

// NoAccount 构造无可用账户错误
func NoAccount(exchange string) error {
	return &Error{Kind: KindNotFound, Msg: ErrNoAccount.Msg, Exchange: exchange}
}

// CipherFormat 构造密文格式错误
func CipherFormat(reason string) error {
	return &Error{Kind: KindCipherFormat, Msg: ErrCipherFormat.Msg, Err: errors.New(reason)}
}

// Network 包装网络层错误
func Network(exchange string, err error) error {
	return &Error{Kind: KindNetwork, Msg: ErrNetwork.Msg, Exchange: exchange, Err: err}
}

// Exchange 包装交易所业务错误
func Exchange(exchange string, status int, err error) error {
	return &Error{Kind: KindExchange, Msg: ErrExchange.Msg, Exchange: exchange, Status: status, Err: err}
}

// KindOf 返回错误分类，非领域错误返回空串
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HTTPStatus 映射为 REST 响应码
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindConfiguration:
		if e.Msg == ErrUnsupportedOperation.Msg {
			return http.StatusNotImplemented
		}
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindNetwork:
		return http.StatusServiceUnavailable
	case KindExchange:
		if e.Status >= 500 {
			return http.StatusBadGateway
		}
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
