package ws

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
)

func TestFrameSizeCap(t *testing.T) {
	config := DefaultServerConfig()
	config.MaxFrameBytes = 1024
	s := NewServer(config, nil)

	cases := []struct {
		name     string
		length   int64
		tooLarge bool
	}{
		{"small", 10, false},
		{"at limit", 1024, false},
		{"over limit", 1025, true},
		{"huge", 1 << 40, true},
	}
	for _, tc := range cases {
		if got := s.frameTooLarge(tc.length); got != tc.tooLarge {
			t.Errorf("%s: frameTooLarge(%d) = %v, want %v", tc.name, tc.length, got, tc.tooLarge)
		}
	}
}

func TestNewServerFillsConfigDefaults(t *testing.T) {
	// Callers that build a ServerConfig by hand leave the newer fields zero;
	// the constructor must not end up with an unbounded frame cap.
	s := NewServer(ServerConfig{ListenAddr: ":0", WorkerPoolSize: 4}, nil)

	defaults := DefaultServerConfig()
	if s.config.MaxFrameBytes != defaults.MaxFrameBytes {
		t.Errorf("expected MaxFrameBytes default %d, got %d", defaults.MaxFrameBytes, s.config.MaxFrameBytes)
	}
	if s.config.EventBufferSize != defaults.EventBufferSize {
		t.Errorf("expected EventBufferSize default %d, got %d", defaults.EventBufferSize, s.config.EventBufferSize)
	}
}

func TestIsEINTR(t *testing.T) {
	if !isEINTR(syscall.EINTR) {
		t.Error("expected bare EINTR to match")
	}
	if !isEINTR(fmt.Errorf("ws: epoll wait: %w", syscall.EINTR)) {
		t.Error("expected wrapped EINTR to match")
	}
	if isEINTR(errors.New("interrupted system call")) {
		t.Error("expected plain string error not to match")
	}
	if isEINTR(nil) {
		t.Error("expected nil not to match")
	}
}
