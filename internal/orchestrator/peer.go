package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// peer подключенный пир: соединение, outbox и горутины чтения/записи
type peer struct {
	conn     Connection
	ctx      context.Context
	cancel   context.CancelFunc
	outbox   chan []byte
	id       string
	dialedBy string // device_id инициатора соединения
	lastSeen atomic.Int64
	syncing  atomic.Bool
	once     sync.Once
}

func newPeer(parent context.Context, id, dialedBy string, conn Connection, outboxSize int) *peer {
	ctx, cancel := context.WithCancel(parent)
	p := &peer{
		conn:     conn,
		ctx:      ctx,
		cancel:   cancel,
		outbox:   make(chan []byte, outboxSize),
		id:       id,
		dialedBy: dialedBy,
	}
	p.touch()
	return p
}

func (p *peer) touch() {
	p.lastSeen.Store(time.Now().UnixNano())
}

func (p *peer) seen() time.Time {
	return time.Unix(0, p.lastSeen.Load())
}

// close отменяет горутины пира и закрывает соединение. Повторные вызовы ничего не делают.
func (p *peer) close() {
	p.once.Do(func() {
		p.cancel()
		_ = p.conn.Close()
	})
}
