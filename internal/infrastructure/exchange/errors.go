package exchange

import (
	"errors"
	"io"
	"net"
	"net/url"

	"github.com/gorilla/websocket"

	"xhub/internal/application/port"
	"xhub/internal/domain/apperr"
)

// InterpretError 将适配器错误归类为 NetworkError / ExchangeError，其他错误原样返回
func InterpretError(err error, exchange string) error {
	if err == nil {
		return nil
	}

	var de *apperr.Error
	if errors.As(err, &de) {
		return err
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apperr.Exchange(exchange, apiErr.Status, err)
	}

	if isNetworkError(err) {
		return apperr.Network(exchange, err)
	}
	return err
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, websocket.ErrBadHandshake) ||
		errors.Is(err, ErrStreamClosed)
}

// Require 调用前检查能力表
func Require(a port.ExchangeAdapter, m port.Method) error {
	if a == nil || !a.Has(m) {
		id := ""
		if a != nil {
			id = a.ID()
		}
		return apperr.UnsupportedOperation(id, string(m))
	}
	return nil
}
