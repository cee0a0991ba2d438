// Package ws реализует транспорт синхронизации поверх WebSocket.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MaxMessageSize ограничение на размер входящего кадра
const MaxMessageSize = 16 << 20

const closeTimeout = time.Second

// Conn соединение с пиром поверх WebSocket
type Conn struct {
	ws      *websocket.Conn
	remote  string
	writeMu sync.Mutex
	once    sync.Once
}

// NewConn оборачивает установленное WebSocket соединение
func NewConn(c *websocket.Conn) *Conn {
	c.SetReadLimit(MaxMessageSize)
	return &Conn{ws: c, remote: c.RemoteAddr().String()}
}

// Send пишет один бинарный кадр. Дедлайн берется из ctx.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}

	if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Receive блокируется до следующего кадра
func (c *Conn) Receive() ([]byte, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.BinaryMessage || kind == websocket.TextMessage {
			return data, nil
		}
	}
}

// Close отправляет close-кадр и закрывает соединение
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeTimeout))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

// RemoteAddr адрес пира host:port
func (c *Conn) RemoteAddr() string {
	return c.remote
}
