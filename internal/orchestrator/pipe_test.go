package orchestrator

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/iudanet/peersync/internal/models"
)

// pipeConn in-memory соединение для тестов движка
type pipeConn struct {
	in         <-chan []byte
	out        chan<- []byte
	closed     chan struct{}
	peerClosed <-chan struct{}
	addr       string
	once       sync.Once
}

func newPipe() (*pipeConn, *pipeConn) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	ca := make(chan struct{})
	cb := make(chan struct{})

	a := &pipeConn{in: ba, out: ab, closed: ca, peerClosed: cb, addr: "10.0.0.2:40001"}
	b := &pipeConn{in: ab, out: ba, closed: cb, peerClosed: ca, addr: "10.0.0.1:40002"}
	return a, b
}

func (c *pipeConn) Send(ctx context.Context, data []byte) error {
	msg := append([]byte(nil), data...)
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	case <-c.peerClosed:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	case c.out <- msg:
		return nil
	}
}

func (c *pipeConn) Receive() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, io.EOF
	case <-c.peerClosed:
		return nil, io.EOF
	}
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *pipeConn) RemoteAddr() string {
	return c.addr
}

// pipeDialer соединяет движки напрямую через pipeConn
type pipeDialer struct {
	targets map[string]*Engine
	mu      sync.Mutex
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{targets: make(map[string]*Engine)}
}

func (d *pipeDialer) add(id string, e *Engine) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.targets[id] = e
}

func (d *pipeDialer) Dial(ctx context.Context, desc models.DeviceDescriptor) (Connection, error) {
	d.mu.Lock()
	target := d.targets[desc.DeviceID]
	d.mu.Unlock()
	if target == nil {
		return nil, errors.New("no route to device")
	}

	client, server := newPipe()
	go func() {
		_ = target.Accept(context.Background(), server)
	}()
	return client, nil
}

// stubDiscovery отдает устройства из канала. Первые failures вызовов и все вызовы,
// пока установлен failing, завершаются ошибкой.
type stubDiscovery struct {
	found    chan models.DeviceDescriptor
	failures int
	calls    int
	failing  bool
	mu       sync.Mutex
}

func (s *stubDiscovery) Discover(ctx context.Context) (<-chan models.DeviceDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failing || s.calls <= s.failures {
		return nil, errors.New("multicast unavailable")
	}
	return s.found, nil
}

func (s *stubDiscovery) setFailing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = v
}
