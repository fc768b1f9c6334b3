package websocket

import (
	"context"
	"fmt"
	"io"
	"net"

	"exchange_core/internal/models"

	gws "github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// ErrorKind: категория ошибки, по которой цикл фида выбирает стратегию переподключения.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNetwork
	KindTimeout
	KindAbruptClose
	KindBadRequest
	KindNotSupported
	KindClosedByUser
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindAbruptClose:
		return "abrupt_close"
	case KindBadRequest:
		return "bad_request"
	case KindNotSupported:
		return "not_supported"
	case KindClosedByUser:
		return "closed_by_user"
	}
	return "unknown"
}

type Error struct {
	Kind ErrorKind
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("websocket %s (code %s): %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("websocket %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var (
	ErrClosedByUser    = &Error{Kind: KindClosedByUser, Err: errors.New("connection closed by user")}
	ErrClientClosed    = &Error{Kind: KindClosedByUser, Err: errors.New("client closed")}
	errAckTimeout      = &Error{Kind: KindTimeout, Err: errors.New("no acknowledgement from exchange")}
	errUnexpectedReply = &Error{Kind: KindUnknown, Err: errors.New("unexpected control reply")}
)

// Classify раскладывает ошибку по категориям.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var wsErr *Error
	if errors.As(err, &wsErr) {
		return wsErr.Kind
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, models.ErrRequestTimeout):
		return KindTimeout
	case errors.Is(err, models.ErrAuthentication), errors.Is(err, models.ErrInvalidOrder):
		return KindBadRequest
	case errors.Is(err, models.ErrNotSupported):
		return KindNotSupported
	case errors.Is(err, models.ErrNetwork):
		return KindNetwork
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return KindAbruptClose
	}

	var closeErr *gws.CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Code == gws.CloseAbnormalClosure {
			return KindAbruptClose
		}
		return KindNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	if errors.Is(err, gws.ErrBadHandshake) {
		return KindNetwork
	}
	return KindUnknown
}
