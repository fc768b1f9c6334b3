package models

import "github.com/pkg/errors"

// Типизированные ошибки ядра. Конкретные причины оборачиваются через errors.Wrap.
var (
	ErrNetwork           = errors.New("network error")
	ErrRequestTimeout    = errors.New("request timeout")
	ErrAuthentication    = errors.New("authentication failed")
	ErrNotSupported      = errors.New("not supported")
	ErrInvalidOrder      = errors.New("invalid order")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrParse             = errors.New("parse error")
	ErrInvalidState      = errors.New("invalid state")
	ErrOrderNotFound     = errors.New("order not found")
	ErrOrderUnreachable  = errors.New("order unreachable")
)
