//go:build linux

package ws

import (
	"fmt"
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Epoll multiplexes read readiness for every WebSocket connection over a
// single kernel epoll instance, so the server carries no per-connection read
// goroutine. Registration is level-triggered; the connection's processing
// flag in handleConn absorbs duplicate wakeups for the same fd.
type Epoll struct {
	fd     int
	mu     sync.RWMutex
	conns  map[int]net.Conn  // fd -> connection
	events []unix.EpollEvent // reused across Wait calls
}

// NewEpoll creates the epoll instance. eventBuffer bounds how many ready
// connections a single Wait call can hand to the worker pool.
func NewEpoll(eventBuffer int) (*Epoll, error) {
	if eventBuffer <= 0 {
		eventBuffer = DefaultServerConfig().EventBufferSize
	}

	fd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, fmt.Errorf("ws: epoll_create1: %w", err)
	}
	return &Epoll{
		fd:     fd,
		conns:  make(map[int]net.Conn),
		events: make([]unix.EpollEvent, eventBuffer),
	}, nil
}

// Add puts a connection's fd on the epoll interest list, watching for
// readable data and hangups.
func (e *Epoll) Add(conn net.Conn) error {
	fd := socketFD(conn)
	err := unix.EpollCtl(e.fd, syscall.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLHUP,
		Fd:     int32(fd),
	})
	if err != nil {
		return fmt.Errorf("ws: epoll add fd=%d: %w", fd, err)
	}

	e.mu.Lock()
	e.conns[fd] = conn
	e.mu.Unlock()
	return nil
}

// Remove takes a connection's fd off the interest list and forgets it.
func (e *Epoll) Remove(conn net.Conn) error {
	fd := socketFD(conn)
	if err := unix.EpollCtl(e.fd, syscall.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("ws: epoll remove fd=%d: %w", fd, err)
	}

	e.mu.Lock()
	delete(e.conns, fd)
	e.mu.Unlock()
	return nil
}

// Wait blocks until at least one registered connection is readable and
// returns the ready connections. An fd that was removed between the kernel
// wakeup and the map lookup is skipped.
func (e *Epoll) Wait() ([]net.Conn, error) {
	n, err := unix.EpollWait(e.fd, e.events, -1)
	if err != nil {
		return nil, fmt.Errorf("ws: epoll wait: %w", err)
	}

	e.mu.RLock()
	conns := make([]net.Conn, 0, n)
	for i := 0; i < n; i++ {
		if conn, ok := e.conns[int(e.events[i].Fd)]; ok {
			conns = append(conns, conn)
		}
	}
	e.mu.RUnlock()
	return conns, nil
}

// Close releases the epoll file descriptor.
func (e *Epoll) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conns = nil
	if err := unix.Close(e.fd); err != nil {
		return fmt.Errorf("ws: epoll close: %w", err)
	}
	return nil
}

// socketFD returns the connection's file descriptor without duplicating it
// (File() would dup, leaving epoll watching a different fd than the one the
// connection reads on). Returns -1 for connections that expose no descriptor.
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}

	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}

	fd := -1
	_ = raw.Control(func(sfd uintptr) {
		fd = int(sfd)
	})
	return fd
}
