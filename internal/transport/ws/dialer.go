package ws

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iudanet/peersync/internal/models"
	"github.com/iudanet/peersync/internal/orchestrator"
)

// Path путь WebSocket эндпоинта синхронизации
const Path = "/ws"

// Dialer открывает исходящие соединения к пирам
type Dialer struct {
	dialer *websocket.Dialer
}

// NewDialer создает Dialer с таймаутом рукопожатия
func NewDialer(handshakeTimeout time.Duration) *Dialer {
	return &Dialer{
		dialer: &websocket.Dialer{
			Proxy:            nil,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

// URL адрес эндпоинта пира
func URL(desc models.DeviceDescriptor) string {
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(desc.Address, strconv.Itoa(desc.Port)),
		Path:   Path,
	}
	return u.String()
}

// Dial подключается к пиру по адресу из descriptor
func (d *Dialer) Dial(ctx context.Context, desc models.DeviceDescriptor) (orchestrator.Connection, error) {
	if desc.Address == "" || desc.Port <= 0 {
		return nil, fmt.Errorf("device %s has no address", desc.DeviceID)
	}

	c, resp, err := d.dialer.DialContext(ctx, URL(desc), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", URL(desc), err)
	}
	return NewConn(c), nil
}
