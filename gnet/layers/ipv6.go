package layers

import (
	"fmt"
	"net/netip"

	"github.com/sofiworker/gdivert/gerr"
)

const IPv6HeaderLen = 40

type IPv6 struct {
	base
}

var _ NetworkHeader = (*IPv6)(nil)

func NewIPv6(buf *Buffer, start int) (*IPv6, error) {
	v := buf.View(start)
	if err := v.check("layers.NewIPv6", start, IPv6HeaderLen); err != nil {
		return nil, err
	}
	return &IPv6{base{view: v}}, nil
}

func (ip *IPv6) LayerType() LayerType { return LayerTypeIPv6 }
func (ip *IPv6) networkHeader()       {}

func (ip *IPv6) HeaderLength() int {
	return IPv6HeaderLen
}

func (ip *IPv6) RawHeaderBytes() ([]byte, error) {
	return ip.view.Bytes(ip.Start(), IPv6HeaderLen)
}

func (ip *IPv6) Equal(other Header) bool { return equalHeaders(ip, other) }
func (ip *IPv6) Hash() uint64            { return hashHeader(ip) }

func (ip *IPv6) Version() uint8 {
	return ip.view.u8(ip.at(0)) >> 4
}

// SetVersion 只改写高 4 位，traffic class 的高半字节保持不变。
func (ip *IPv6) SetVersion(version uint8) {
	ip.view.update(ip.at(0), func(b uint8) uint8 {
		return version<<4 | b&0x0F
	})
}

func (ip *IPv6) TrafficClass() uint8 {
	return uint8(ip.view.u16(ip.at(0)) >> 4)
}

func (ip *IPv6) SetTrafficClass(tc uint8) {
	off := ip.at(0)
	ip.view.putU16(off, ip.view.u16(off)&0xF00F|uint16(tc)<<4)
}

func (ip *IPv6) FlowLabel() uint32 {
	return ip.view.u32(ip.at(0)) & 0x000FFFFF
}

func (ip *IPv6) SetFlowLabel(label uint32) {
	off := ip.at(0)
	ip.view.putU32(off, ip.view.u32(off)&0xFFF00000|label&0x000FFFFF)
}

// PayloadLength 是本头之后的字节数，不含这 40 字节。
func (ip *IPv6) PayloadLength() uint16 {
	return ip.view.u16(ip.at(4))
}

func (ip *IPv6) SetPayloadLength(length uint16) {
	ip.view.putU16(ip.at(4), length)
}

func (ip *IPv6) NextHeaderProtocol() (Protocol, error) {
	return ParseProtocol(ip.view.u8(ip.at(6)))
}

func (ip *IPv6) NextHeaderNumber() uint8 {
	return ip.view.u8(ip.at(6))
}

func (ip *IPv6) SetNextHeader(p Protocol) {
	ip.view.putU8(ip.at(6), uint8(p))
}

func (ip *IPv6) HopLimit() uint8 {
	return ip.view.u8(ip.at(7))
}

func (ip *IPv6) SetHopLimit(limit uint8) {
	ip.view.putU8(ip.at(7), limit)
}

func (ip *IPv6) SrcAddr() netip.Addr {
	return ip.addrAt(8)
}

func (ip *IPv6) SetSrcAddr(addr netip.Addr) error {
	return ip.setAddrAt(8, addr)
}

func (ip *IPv6) DstAddr() netip.Addr {
	return ip.addrAt(24)
}

func (ip *IPv6) SetDstAddr(addr netip.Addr) error {
	return ip.setAddrAt(24, addr)
}

func (ip *IPv6) addrAt(offset int) netip.Addr {
	raw, err := ip.view.Bytes(ip.at(offset), 16)
	if err != nil {
		return netip.Addr{}
	}
	return netip.AddrFrom16([16]byte(raw))
}

func (ip *IPv6) setAddrAt(offset int, addr netip.Addr) error {
	if !addr.Is6() {
		return gerr.InvalidState("layers.IPv6.SetAddr", "%s is not an IPv6 address", addr)
	}
	a := addr.As16()
	return ip.view.SetBytes(ip.at(offset), 16, a[:])
}

func (ip *IPv6) String() string {
	return fmt.Sprintf("IPv6 %v -> %v tc=%d flow=%#05x plen=%d next=%v hlim=%d",
		ip.SrcAddr(), ip.DstAddr(), ip.TrafficClass(), ip.FlowLabel(), ip.PayloadLength(),
		Protocol(ip.NextHeaderNumber()), ip.HopLimit())
}
