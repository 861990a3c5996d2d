//go:build linux

package divert

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/vishvananda/netlink"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"

	"github.com/sofiworker/gdivert/gerr"
	"github.com/sofiworker/gdivert/glog"
	"github.com/sofiworker/gdivert/gnet/packet"
)

const rawPollInterval = 200 * time.Millisecond

// RawHandle 用 AF_PACKET 抓取网络层数据包，用 IPPROTO_RAW 套接字注入。
// 内核不会把数据包交给用户态决定去留，因此句柄总是带 FlagSniff，DROP 不受支持。
// 经 Send 注入的数据包不会再从 Recv 返回。
type RawHandle struct {
	state

	recvFd  int
	send4Fd int
	send6Fd int
	ifIndex int
	buf     []byte
	sent    *sentFilter
	log     glog.GLogger
}

var _ Handle = (*RawHandle)(nil)

func NewRawHandle(opts ...Option) (*RawHandle, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	if o.Flags.Has(FlagDrop) {
		return nil, gerr.InvalidState("divert.NewRawHandle", "flag DROP is not supported by raw sockets")
	}
	if !o.Flags.Has(FlagSniff) {
		o.Logger.Warn("raw sockets cannot hold packets back, switching to SNIFF", "flags", o.Flags.String())
		o.Flags |= FlagSniff
	}
	h := &RawHandle{recvFd: -1, send4Fd: -1, send6Fd: -1}
	h.state.init(o)
	h.log = o.Logger.With("handle", "raw")
	return h, nil
}

func htons(v uint16) uint16 {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return binary.NativeEndian.Uint16(b[:])
}

func (h *RawHandle) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := h.markOpen("divert.RawHandle.Open"); err != nil {
		return err
	}
	if err := h.open(); err != nil {
		h.markClosed()
		h.closeFds()
		return err
	}
	if h.opts.Layer == LayerNetworkForward {
		h.log.Warn("raw sockets do not separate forwarded traffic, NETWORK_FORWARD behaves like NETWORK")
	}
	h.log.Info("raw handle opened", "interface", h.opts.Interface, "ifindex", h.ifIndex, "flags", h.opts.Flags.String())
	return nil
}

func (h *RawHandle) open() error {
	const op = "divert.RawHandle.Open"
	var err error

	if h.opts.Interface != "" {
		link, err := netlink.LinkByName(h.opts.Interface)
		if err != nil {
			return gerr.External(op, err)
		}
		h.ifIndex = link.Attrs().Index
	}

	proto := htons(unix.ETH_P_ALL)
	if h.recvFd, err = unix.Socket(unix.AF_PACKET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, int(proto)); err != nil {
		return gerr.External(op, err)
	}
	if err = unix.Bind(h.recvFd, &unix.SockaddrLinklayer{Protocol: proto, Ifindex: h.ifIndex}); err != nil {
		return gerr.External(op, err)
	}
	if h.opts.Filter != nil {
		if err = attachFilter(h.recvFd, h.opts.Filter); err != nil {
			return err
		}
	}
	tv := unix.NsecToTimeval(rawPollInterval.Nanoseconds())
	if err = unix.SetsockoptTimeval(h.recvFd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return gerr.External(op, err)
	}
	if err = h.applyQueueLen(ParamQueueLen.Default()); err != nil {
		return err
	}

	if h.send4Fd, err = unix.Socket(unix.AF_INET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.IPPROTO_RAW); err != nil {
		return gerr.External(op, err)
	}
	if h.send6Fd, err = unix.Socket(unix.AF_INET6, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.IPPROTO_RAW); err != nil {
		return gerr.External(op, err)
	}
	h.buf = make([]byte, h.opts.RecvBufferSize)
	h.sent = newSentFilter(sentTTL)
	return nil
}

func attachFilter(fd int, prog []bpf.Instruction) error {
	raw, err := bpf.Assemble(prog)
	if err != nil {
		return gerr.InvalidState("divert.attachFilter", "%v", err)
	}
	filters := make([]unix.SockFilter, len(raw))
	for i, ins := range raw {
		filters[i] = unix.SockFilter{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	fprog := unix.SockFprog{Len: uint16(len(filters)), Filter: &filters[0]}
	return gerr.External("divert.attachFilter", unix.SetsockoptSockFprog(fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &fprog))
}

// applyQueueLen 把队列长度换算为接收缓冲区字节数。
func (h *RawHandle) applyQueueLen(n uint64) error {
	size := int(n) * h.opts.RecvBufferSize
	return gerr.External("divert.RawHandle.applyQueueLen", unix.SetsockoptInt(h.recvFd, unix.SOL_SOCKET, unix.SO_RCVBUF, size))
}

// SetParam 在记录参数的同时把 QUEUE_LEN 应用到套接字。
func (h *RawHandle) SetParam(p Param, v uint64) error {
	if err := h.state.SetParam(p, v); err != nil {
		return err
	}
	if p == ParamQueueLen {
		return h.applyQueueLen(v)
	}
	return nil
}

func (h *RawHandle) Recv(ctx context.Context) (*packet.Packet, error) {
	const op = "divert.RawHandle.Recv"
	ipv4, ipv6 := htons(unix.ETH_P_IP), htons(unix.ETH_P_IPV6)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := h.requireOpen(op); err != nil {
			return nil, err
		}

		n, from, err := unix.Recvfrom(h.recvFd, h.buf, unix.MSG_TRUNC)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			return nil, gerr.External(op, err)
		}
		sll, ok := from.(*unix.SockaddrLinklayer)
		if !ok || (sll.Protocol != ipv4 && sll.Protocol != ipv6) {
			continue
		}
		if n > len(h.buf) {
			return nil, gerr.OutOfRange(op, "packet of %d bytes exceeds buffer size %d", n, len(h.buf))
		}

		if h.sent.seen(h.buf[:n]) {
			continue
		}

		dir := packet.Inbound
		if sll.Pkttype == unix.PACKET_OUTGOING {
			dir = packet.Outbound
		}
		p, err := packet.New(append([]byte(nil), h.buf[:n]...), uint32(sll.Ifindex), 0, dir)
		if err != nil {
			h.log.Debug("skip undecodable packet", "len", n, "error", err)
			continue
		}
		return p, nil
	}
}

// Send 按目的地址族选择注入套接字，由内核路由。
func (h *RawHandle) Send(ctx context.Context, p *packet.Packet) (int, error) {
	const op = "divert.RawHandle.Send"
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := h.requireOpen(op); err != nil {
		return 0, err
	}
	if p == nil {
		return 0, gerr.InvalidState(op, "packet is nil")
	}

	raw := p.Raw()
	var err error
	switch {
	case p.IsIPv4():
		err = unix.Sendto(h.send4Fd, raw, 0, &unix.SockaddrInet4{Addr: p.DstAddr().As4()})
	case p.IsIPv6():
		err = unix.Sendto(h.send6Fd, raw, 0, &unix.SockaddrInet6{Addr: p.DstAddr().As16()})
	default:
		return 0, gerr.InvalidState(op, "unsupported network header")
	}
	if err != nil {
		return 0, gerr.External(op, err)
	}
	h.sent.mark(raw)
	return len(raw), nil
}

func (h *RawHandle) Close() error {
	if !h.markClosed() {
		return nil
	}
	err := h.closeFds()
	h.log.Info("raw handle closed")
	return err
}

func (h *RawHandle) closeFds() error {
	if h.sent != nil {
		h.sent.close()
	}
	var errs []error
	for _, fd := range []*int{&h.recvFd, &h.send4Fd, &h.send6Fd} {
		if *fd >= 0 {
			if err := unix.Close(*fd); err != nil {
				errs = append(errs, err)
			}
			*fd = -1
		}
	}
	return gerr.External("divert.RawHandle.Close", errors.Join(errs...))
}
