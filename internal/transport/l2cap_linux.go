//go:build linux

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// L2CAP is a Transport over two BlueZ L2CAP sockets.
type L2CAP struct {
	mu        sync.Mutex
	interrupt *os.File
	control   *os.File
	closed    bool
}

// NewL2CAP returns an unconnected L2CAP transport.
func NewL2CAP() *L2CAP {
	return &L2CAP{}
}

// Compile-time check that L2CAP implements Transport.
var _ Transport = (*L2CAP)(nil)

func (t *L2CAP) Connect(ctx context.Context, address string) error {
	addr, err := ParseAddress(address)
	if err != nil {
		return err
	}
	enableAdapter()

	interrupt, err := dial(ctx, addr, PSMInterrupt)
	if err != nil {
		return fmt.Errorf("transport: interrupt channel: %w", err)
	}
	control, err := dial(ctx, addr, PSMControl)
	if err != nil {
		interrupt.Close()
		return fmt.Errorf("transport: control channel: %w", err)
	}

	t.mu.Lock()
	t.interrupt = interrupt
	t.control = control
	t.closed = false
	t.mu.Unlock()

	slog.Debug("[L2CAP] connected", "address", address)
	return nil
}

// Socket calls replaced in tests.
var (
	sockShutdown = unix.Shutdown
	sockClose    = unix.Close
)

// dial opens one L2CAP channel. The socket is switched to non-blocking after
// connecting so the runtime poller can interrupt a pending read on Close.
func dial(ctx context.Context, addr [6]byte, psm uint16) (*os.File, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_SEQPACKET, unix.BTPROTO_L2CAP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}

	sa := &unix.SockaddrL2{PSM: psm, Addr: addr}
	if err := connectFD(ctx, fd, func() error { return unix.Connect(fd, sa) }); err != nil {
		return nil, fmt.Errorf("connect psm 0x%02x: %w", psm, err)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		sockClose(fd)
		return nil, fmt.Errorf("set nonblock: %w", err)
	}
	return os.NewFile(uintptr(fd), fmt.Sprintf("l2cap-psm-0x%02x", psm)), nil
}

// connectFD runs the blocking connect for fd and returns early when ctx is
// done. On failure fd is closed, but never while connect still holds it:
// cancellation shuts the socket down to abort the attempt and the connecting
// goroutine closes fd once connect has returned.
func connectFD(ctx context.Context, fd int, connect func() error) error {
	ch := make(chan error, 1)
	go func() {
		ch <- connect()
	}()

	select {
	case err := <-ch:
		if err != nil {
			sockClose(fd)
		}
		return err
	case <-ctx.Done():
		if err := sockShutdown(fd, unix.SHUT_RDWR); err != nil {
			slog.Debug("[L2CAP] shutdown aborted socket", "error", err)
		}
		go func() {
			<-ch
			sockClose(fd)
		}()
		return ctx.Err()
	}
}

func (t *L2CAP) Send(b []byte) error {
	t.mu.Lock()
	control := t.control
	t.mu.Unlock()
	if control == nil {
		return ErrNotConnected
	}
	if _, err := control.Write(b); err != nil {
		if errors.Is(err, os.ErrClosed) {
			return ErrNotConnected
		}
		return fmt.Errorf("transport: send: %w", err)
	}
	return nil
}

func (t *L2CAP) Receive(max int) ([]byte, error) {
	t.mu.Lock()
	interrupt, closed := t.interrupt, t.closed
	t.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if interrupt == nil {
		return nil, ErrNotConnected
	}
	if max <= 0 {
		max = DefaultReceiveSize
	}

	buf := make([]byte, max)
	n, err := interrupt.Read(buf)
	switch {
	case errors.Is(err, os.ErrClosed):
		return nil, ErrClosed
	case errors.Is(err, io.EOF):
		return nil, fmt.Errorf("transport: peer closed interrupt channel: %w", io.EOF)
	case err != nil:
		return nil, fmt.Errorf("transport: receive: %w", err)
	}
	return buf[:n], nil
}

// Close is idempotent.
func (t *L2CAP) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	var errs []error
	for _, f := range []*os.File{t.interrupt, t.control} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	t.interrupt, t.control = nil, nil
	return errors.Join(errs...)
}
