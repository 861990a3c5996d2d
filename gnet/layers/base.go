package layers

import (
	"bytes"
	"net/netip"

	"github.com/cespare/xxhash/v2"
)

type LayerType int

const (
	LayerTypeIPv4 LayerType = iota + 1
	LayerTypeIPv6
	LayerTypeTCP
	LayerTypeUDP
	LayerTypeICMPv4
	LayerTypeICMPv6
)

func (t LayerType) String() string {
	switch t {
	case LayerTypeIPv4:
		return "IPv4"
	case LayerTypeIPv6:
		return "IPv6"
	case LayerTypeTCP:
		return "TCP"
	case LayerTypeUDP:
		return "UDP"
	case LayerTypeICMPv4:
		return "ICMPv4"
	case LayerTypeICMPv6:
		return "ICMPv6"
	default:
		return "Unknown"
	}
}

// Header 是共享 Buffer 上 [Start, Start+HeaderLength) 区间的一个协议头视图。
// HeaderLength 每次都从当前字节计算，从不缓存。
type Header interface {
	LayerType() LayerType
	Start() int
	HeaderLength() int
	// RawHeaderBytes 返回头区间的拷贝。
	RawHeaderBytes() ([]byte, error)
	// Equal 比较类型与头区间字节，不比较对象身份。
	Equal(other Header) bool
	Hash() uint64
	String() string
}

// NetworkHeader 由 IPv4 和 IPv6 实现。
type NetworkHeader interface {
	Header
	Version() uint8
	SetVersion(version uint8)
	SrcAddr() netip.Addr
	SetSrcAddr(addr netip.Addr) error
	DstAddr() netip.Addr
	SetDstAddr(addr netip.Addr) error
	// NextHeaderProtocol 按协议表解释下一层协议号，未知值返回 UnknownProtocol。
	NextHeaderProtocol() (Protocol, error)
	// NextHeaderNumber 返回未经解释的下一层协议号。
	NextHeaderNumber() uint8

	networkHeader()
}

// NextHeader 是网络层之后的第二个头：TCP、UDP、ICMPv4 或 ICMPv6。
type NextHeader interface {
	Header
	Checksum() uint16
	SetChecksum(cksum uint16)

	nextHeader()
}

// TransportHeader 由 TCP 和 UDP 实现。
type TransportHeader interface {
	NextHeader
	SrcPort() uint16
	SetSrcPort(port uint16)
	DstPort() uint16
	SetDstPort(port uint16)

	transportHeader()
}

// ControlHeader 由 ICMPv4 和 ICMPv6 实现。
type ControlHeader interface {
	NextHeader
	Type() uint8
	SetType(typ uint8)
	Code() uint8
	SetCode(code uint8)

	controlHeader()
}

type base struct {
	view ByteView
}

func (b *base) Start() int {
	return b.view.start
}

// View 返回该头使用的视图。
func (b *base) View() ByteView {
	return b.view
}

func (b *base) at(offset int) int {
	return b.view.start + offset
}

func rawHeader(h Header) []byte {
	raw, err := h.RawHeaderBytes()
	if err != nil {
		return nil
	}
	return raw
}

func equalHeaders(a, b Header) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.LayerType() != b.LayerType() {
		return false
	}
	// 头长度越界时读不出字节，同一区间上的两个视图仍然相等。
	if sameRegion(a, b) {
		return true
	}
	ra, errA := a.RawHeaderBytes()
	rb, errB := b.RawHeaderBytes()
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ra, rb)
}

func sameRegion(a, b Header) bool {
	va, okA := a.(interface{ View() ByteView })
	vb, okB := b.(interface{ View() ByteView })
	if !okA || !okB {
		return false
	}
	return va.View() == vb.View()
}

func hashHeader(h Header) uint64 {
	d := xxhash.New()
	_, _ = d.Write([]byte{byte(h.LayerType())})
	_, _ = d.Write(rawHeader(h))
	return d.Sum64()
}
