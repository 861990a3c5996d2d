//go:build !linux

package divert

import (
	"context"

	"github.com/sofiworker/gdivert/gerr"
	"github.com/sofiworker/gdivert/gnet/packet"
)

// RawHandle 只在 linux 上可用。
type RawHandle struct {
	state
}

var _ Handle = (*RawHandle)(nil)

func NewRawHandle(opts ...Option) (*RawHandle, error) {
	return nil, gerr.InvalidState("divert.NewRawHandle", "raw handle is only supported on linux")
}

func (h *RawHandle) Open(ctx context.Context) error {
	return gerr.InvalidState("divert.RawHandle.Open", "raw handle is only supported on linux")
}

func (h *RawHandle) Recv(ctx context.Context) (*packet.Packet, error) {
	return nil, gerr.InvalidState("divert.RawHandle.Recv", "handle is not open")
}

func (h *RawHandle) Send(ctx context.Context, p *packet.Packet) (int, error) {
	return 0, gerr.InvalidState("divert.RawHandle.Send", "handle is not open")
}

func (h *RawHandle) Close() error {
	return nil
}
