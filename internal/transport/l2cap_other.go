//go:build !linux

package transport

import "context"

// L2CAP is unavailable outside Linux; every method reports ErrUnsupported
// or ErrNotConnected.
type L2CAP struct{}

// NewL2CAP returns a transport whose Connect always fails.
func NewL2CAP() *L2CAP {
	return &L2CAP{}
}

var _ Transport = (*L2CAP)(nil)

func (t *L2CAP) Connect(_ context.Context, address string) error {
	if _, err := ParseAddress(address); err != nil {
		return err
	}
	return ErrUnsupported
}

func (t *L2CAP) Send([]byte) error { return ErrNotConnected }

func (t *L2CAP) Receive(int) ([]byte, error) { return nil, ErrNotConnected }

func (t *L2CAP) Close() error { return nil }
