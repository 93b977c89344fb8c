// Package transport carries the board's two HID channels: the control channel
// commands are written to and the interrupt channel reports arrive on.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tinygo.org/x/bluetooth"
)

// HID L2CAP channels.
const (
	PSMControl   = 0x11
	PSMInterrupt = 0x13
)

// DefaultReceiveSize is large enough for any input report the board sends.
const DefaultReceiveSize = 25

var (
	// ErrNotConnected is returned by Send and Receive when no connection is
	// open.
	ErrNotConnected = errors.New("transport: not connected")
	// ErrClosed is returned by Receive once Close has been called.
	ErrClosed = errors.New("transport: closed")
	// ErrUnsupported is returned by Connect on platforms without L2CAP sockets.
	ErrUnsupported = errors.New("transport: L2CAP not supported on this platform")
)

// Transport is a pair of reliable, ordered channels to one peer.
type Transport interface {
	// Connect opens the interrupt and control channels to address.
	Connect(ctx context.Context, address string) error
	// Send writes one frame to the control channel.
	Send(b []byte) error
	// Receive blocks until a frame of at most max bytes arrives on the
	// interrupt channel or the transport is closed.
	Receive(max int) ([]byte, error)
	// Close shuts both channels and unblocks a pending Receive.
	Close() error
}

// ParseAddress validates a colon-separated Bluetooth address and returns its
// bytes most significant first.
func ParseAddress(address string) ([6]byte, error) {
	mac, err := bluetooth.ParseMAC(address)
	if err != nil {
		return [6]byte{}, fmt.Errorf("transport: parse address %q: %w", address, err)
	}
	// bluetooth.MAC is little endian
	var out [6]byte
	for i := range mac {
		out[i] = mac[len(mac)-1-i]
	}
	return out, nil
}

// enableAdapter powers on the default adapter. Failure is not fatal: the
// adapter is often already up and the socket connect reports the real error.
func enableAdapter() {
	if err := bluetooth.DefaultAdapter.Enable(); err != nil {
		slog.Debug("[L2CAP] enable adapter", "error", err)
	}
}
