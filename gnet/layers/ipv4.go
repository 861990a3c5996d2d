package layers

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/sofiworker/gdivert/gerr"
)

const (
	IPv4MinHeaderLen = 20
	IPv4MaxHeaderLen = 60
)

// IPv4Flag 是 offset 6 处 16 位字段最高 3 位中的一位。
type IPv4Flag uint8

const (
	IPv4FlagMF       IPv4Flag = 1 << 0
	IPv4FlagDF       IPv4Flag = 1 << 1
	IPv4FlagReserved IPv4Flag = 1 << 2
)

var ipv4FlagNames = []struct {
	flag IPv4Flag
	name string
}{
	{IPv4FlagReserved, "RESERVED"},
	{IPv4FlagDF, "DF"},
	{IPv4FlagMF, "MF"},
}

type IPv4 struct {
	base
}

var _ NetworkHeader = (*IPv4)(nil)

// NewIPv4 在 buf 的 start 处构造 IPv4 头视图。
// 缓冲区必须容纳 IHL 声明的整个头，且 IHL 不小于 5。
func NewIPv4(buf *Buffer, start int) (*IPv4, error) {
	v := buf.View(start)
	if err := v.check("layers.NewIPv4", start, IPv4MinHeaderLen); err != nil {
		return nil, err
	}
	ip := &IPv4{base{view: v}}
	hl := ip.HeaderLength()
	if hl < IPv4MinHeaderLen {
		return nil, gerr.InvalidState("layers.NewIPv4", "header length %d below minimum %d", hl, IPv4MinHeaderLen)
	}
	if err := v.check("layers.NewIPv4", start, hl); err != nil {
		return nil, err
	}
	return ip, nil
}

func (ip *IPv4) LayerType() LayerType { return LayerTypeIPv4 }
func (ip *IPv4) networkHeader()       {}

func (ip *IPv4) HeaderLength() int {
	return int(ip.IHL()) * 4
}

func (ip *IPv4) RawHeaderBytes() ([]byte, error) {
	return ip.view.Bytes(ip.Start(), ip.HeaderLength())
}

func (ip *IPv4) Equal(other Header) bool { return equalHeaders(ip, other) }
func (ip *IPv4) Hash() uint64            { return hashHeader(ip) }

func (ip *IPv4) Version() uint8 {
	return ip.view.u8(ip.at(0)) >> 4
}

// SetVersion 只改写高 4 位，IHL 保持不变。
func (ip *IPv4) SetVersion(version uint8) {
	ip.view.update(ip.at(0), func(b uint8) uint8 {
		return version<<4 | b&0x0F
	})
}

func (ip *IPv4) IHL() uint8 {
	return ip.view.u8(ip.at(0)) & 0x0F
}

// SetIHL 不做下限检查，小于 5 的值会让头处于不一致状态。
func (ip *IPv4) SetIHL(ihl uint8) {
	ip.view.update(ip.at(0), func(b uint8) uint8 {
		return b&0xF0 | ihl&0x0F
	})
}

func (ip *IPv4) TOS() uint8 {
	return ip.view.u8(ip.at(1))
}

func (ip *IPv4) SetTOS(tos uint8) {
	ip.view.putU8(ip.at(1), tos)
}

func (ip *IPv4) DSCP() uint8 {
	return ip.TOS() >> 2
}

func (ip *IPv4) SetDSCP(dscp uint8) {
	ip.view.update(ip.at(1), func(b uint8) uint8 {
		return dscp<<2 | b&0x03
	})
}

func (ip *IPv4) ECN() uint8 {
	return ip.TOS() & 0x03
}

func (ip *IPv4) SetECN(ecn uint8) {
	ip.view.update(ip.at(1), func(b uint8) uint8 {
		return b&0xFC | ecn&0x03
	})
}

func (ip *IPv4) TotalLength() uint16 {
	return ip.view.u16(ip.at(2))
}

func (ip *IPv4) SetTotalLength(length uint16) {
	ip.view.putU16(ip.at(2), length)
}

func (ip *IPv4) ID() uint16 {
	return ip.view.u16(ip.at(4))
}

func (ip *IPv4) SetID(id uint16) {
	ip.view.putU16(ip.at(4), id)
}

// Flags 返回 3 位标志：RESERVED=4, DF=2, MF=1。
func (ip *IPv4) Flags() IPv4Flag {
	return IPv4Flag(ip.view.u16(ip.at(6)) >> 13)
}

func (ip *IPv4) SetFlags(flags IPv4Flag) {
	off := ip.at(6)
	ip.view.putU16(off, uint16(flags&0x07)<<13|ip.view.u16(off)&0x1FFF)
}

func (ip *IPv4) HasFlag(flag IPv4Flag) bool {
	return ip.Flags()&flag != 0
}

func (ip *IPv4) SetFlag(flag IPv4Flag, on bool) {
	flags := ip.Flags()
	if on {
		flags |= flag
	} else {
		flags &^= flag
	}
	ip.SetFlags(flags)
}

func (ip *IPv4) FragmentOffset() uint16 {
	return ip.view.u16(ip.at(6)) & 0x1FFF
}

func (ip *IPv4) SetFragmentOffset(fragOff uint16) {
	off := ip.at(6)
	ip.view.putU16(off, ip.view.u16(off)&0xE000|fragOff&0x1FFF)
}

func (ip *IPv4) TTL() uint8 {
	return ip.view.u8(ip.at(8))
}

func (ip *IPv4) SetTTL(ttl uint8) {
	ip.view.putU8(ip.at(8), ttl)
}

func (ip *IPv4) Protocol() (Protocol, error) {
	return ParseProtocol(ip.view.u8(ip.at(9)))
}

func (ip *IPv4) SetProtocol(p Protocol) {
	ip.view.putU8(ip.at(9), uint8(p))
}

func (ip *IPv4) NextHeaderProtocol() (Protocol, error) {
	return ip.Protocol()
}

func (ip *IPv4) NextHeaderNumber() uint8 {
	return ip.view.u8(ip.at(9))
}

func (ip *IPv4) Checksum() uint16 {
	return ip.view.u16(ip.at(10))
}

func (ip *IPv4) SetChecksum(cksum uint16) {
	ip.view.putU16(ip.at(10), cksum)
}

func (ip *IPv4) SrcAddr() netip.Addr {
	return ip.addrAt(12)
}

func (ip *IPv4) SetSrcAddr(addr netip.Addr) error {
	return ip.setAddrAt(12, addr)
}

func (ip *IPv4) DstAddr() netip.Addr {
	return ip.addrAt(16)
}

func (ip *IPv4) SetDstAddr(addr netip.Addr) error {
	return ip.setAddrAt(16, addr)
}

func (ip *IPv4) addrAt(offset int) netip.Addr {
	raw, err := ip.view.Bytes(ip.at(offset), 4)
	if err != nil {
		return netip.Addr{}
	}
	return netip.AddrFrom4([4]byte(raw))
}

func (ip *IPv4) setAddrAt(offset int, addr netip.Addr) error {
	addr = addr.Unmap()
	if !addr.Is4() {
		return gerr.InvalidState("layers.IPv4.SetAddr", "%s is not an IPv4 address", addr)
	}
	a := addr.As4()
	return ip.view.SetBytes(ip.at(offset), 4, a[:])
}

// Options 返回 [20, HeaderLength) 的拷贝，没有选项时返回 nil。
func (ip *IPv4) Options() ([]byte, error) {
	n := ip.HeaderLength() - IPv4MinHeaderLen
	if n <= 0 {
		return nil, nil
	}
	return ip.view.Bytes(ip.at(IPv4MinHeaderLen), n)
}

// SetOptions 写入选项区，不足补零、超出截断。
// 必须先用 SetIHL 为选项留出空间。
func (ip *IPv4) SetOptions(options []byte) error {
	n := ip.HeaderLength() - IPv4MinHeaderLen
	if n <= 0 {
		return gerr.InvalidState("layers.IPv4.SetOptions", "header is too short for options")
	}
	return ip.view.SetBytes(ip.at(IPv4MinHeaderLen), n, zeroPad(options, n))
}

func (ip *IPv4) String() string {
	var flags []string
	for _, f := range ipv4FlagNames {
		if ip.HasFlag(f.flag) {
			flags = append(flags, f.name)
		}
	}
	return fmt.Sprintf("IPv4 %v -> %v ihl=%d dscp=%d ecn=%d len=%d id=%#04x flags=[%s] fragOff=%d ttl=%d proto=%v cksum=%#04x",
		ip.SrcAddr(), ip.DstAddr(), ip.IHL(), ip.DSCP(), ip.ECN(), ip.TotalLength(), ip.ID(),
		strings.Join(flags, " "), ip.FragmentOffset(), ip.TTL(), Protocol(ip.NextHeaderNumber()), ip.Checksum())
}

// zeroPad 返回长度恰为 size 的拷贝。
func zeroPad(src []byte, size int) []byte {
	out := make([]byte, size)
	copy(out, src)
	return out
}
