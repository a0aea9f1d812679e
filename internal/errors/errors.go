package errors

import (
	"errors"
	"net/http"
)

type ErrorCode int

const (
	ErrInvalidConfig ErrorCode = iota + 1
	ErrBind
	ErrMalformedRequest
	ErrPathTraversal
	ErrNotFound
	ErrMethodNotAllowed
	ErrIO
	ErrBackendUnreachable
	ErrBackendTimeout
	ErrUpstreamProtocol
	ErrCompression
	ErrTunnelRejected
)

// String 返回错误码名称，用于日志与指标标签
func (c ErrorCode) String() string {
	switch c {
	case ErrInvalidConfig:
		return "invalid_config"
	case ErrBind:
		return "bind"
	case ErrMalformedRequest:
		return "malformed_request"
	case ErrPathTraversal:
		return "path_traversal"
	case ErrNotFound:
		return "not_found"
	case ErrMethodNotAllowed:
		return "method_not_allowed"
	case ErrIO:
		return "io"
	case ErrBackendUnreachable:
		return "backend_unreachable"
	case ErrBackendTimeout:
		return "backend_timeout"
	case ErrUpstreamProtocol:
		return "upstream_protocol"
	case ErrCompression:
		return "compression"
	case ErrTunnelRejected:
		return "tunnel_rejected"
	}
	return "unknown"
}

// GatewayError 网关错误，Message 只用于日志，不会写入响应体
type GatewayError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func New(code ErrorCode, message string, err error) *GatewayError {
	return &GatewayError{Code: code, Message: message, Err: err}
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Status 将错误码映射为返回给客户端的HTTP状态码
func (e *GatewayError) Status() int {
	switch e.Code {
	case ErrMalformedRequest:
		return http.StatusBadRequest
	case ErrPathTraversal:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case ErrBackendUnreachable, ErrUpstreamProtocol:
		return http.StatusBadGateway
	case ErrBackendTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// CodeOf 取出错误链中的错误码，非网关错误返回0
func CodeOf(err error) ErrorCode {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Code
	}
	return 0
}

// StatusOf 取出错误链对应的状态码，非网关错误按500处理
func StatusOf(err error) int {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Status()
	}
	return http.StatusInternalServerError
}

// WriteHTTP 只写出标准状态文本，避免泄露路径等内部信息
func WriteHTTP(w http.ResponseWriter, err error) {
	status := StatusOf(err)
	http.Error(w, http.StatusText(status), status)
}
