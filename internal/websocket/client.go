package websocket

import (
	"context"
	"time"

	"exchange_core/internal/models"
)

// Client: потоковый клиент в стиле генераторов. Каждый вызов Watch блокируется до
// следующего обновления подписки.
type Client interface {
	Watch(ctx context.Context, sub Subscription) ([]models.Record, error)
	Ping(ctx context.Context) error
	// Reconnect рвёт текущие соединения; ожидающие Watch получают ErrClosedByUser,
	// следующий Watch переподключается.
	Reconnect() error
	// Close закрывает клиента насовсем.
	Close() error
}

type ClientFactory func() Client

type MessageKind int

const (
	MessageData MessageKind = iota
	MessageSubscribed
	MessageLogin
	MessageError
	MessagePong
)

type Message struct {
	Kind    MessageKind
	Route   string
	Records []models.Record
	Err     error
}

// Dialect: протокол конкретной биржи (сообщения подписки, логин, разбор кадров).
type Dialect interface {
	Name() string
	RouteKey(sub Subscription) string
	SubscribeMessage(sub Subscription) ([]byte, error)
	LoginMessage(creds Credentials, now time.Time) ([]byte, error)
	PingMessage() []byte
	Parse(frame []byte) ([]Message, error)
}
