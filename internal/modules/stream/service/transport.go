package service

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// Conn — минимум, который нужен стейт-машине от транспорта.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v any) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	_, msg, err := w.c.ReadMessage()
	return msg, err
}

func (w *wsConn) WriteJSON(v any) error { return w.c.WriteJSON(v) }
func (w *wsConn) Close() error          { return w.c.Close() }

type wsDialer struct {
	d *websocket.Dialer
}

// NewWSDialer — боевой транспорт. Таймаут хендшейка ограничивает Connecting.
func NewWSDialer() Dialer {
	return &wsDialer{d: &websocket.Dialer{HandshakeTimeout: 10 * time.Second}}
}

func (w *wsDialer) Dial(ctx context.Context, url string) (Conn, error) {
	c, _, err := w.d.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{c: c}, nil
}

// isServerClose — сервер сам завершил сессию (отказ в подписке).
// Такой дисконнект терминален, ретраи бессмысленны.
func isServerClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.ClosePolicyViolation,
	)
}
