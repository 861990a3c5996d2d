package packet

import (
	"bytes"
	"fmt"
	"net/netip"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/sofiworker/gdivert/gcodec"
	"github.com/sofiworker/gdivert/gerr"
	"github.com/sofiworker/gdivert/gnet/layers"
	"github.com/sofiworker/gdivert/gnet/pcap"
)

// Packet 把一段原始 IP 数据包与抓包元数据组合在一起。
// 所有头都是同一缓冲区上的视图，通过头修改字段会直接改动 Raw 的结果。
// Packet 接管传入的切片，调用方之后不应再修改它。
type Packet struct {
	buf     *layers.Buffer
	headers layers.Headers
	addr    Address
}

// New 从原始字节和接口/方向信息构造 Packet。
func New(raw []byte, ifIdx, subIfIdx uint32, dir Direction) (*Packet, error) {
	return FromAddress(raw, Address{IfIdx: ifIdx, SubIfIdx: subIfIdx, Direction: dir})
}

func FromAddress(raw []byte, addr Address) (*Packet, error) {
	buf := layers.NewBuffer(raw)
	headers, err := layers.BuildHeaders(buf)
	if err != nil {
		return nil, err
	}
	return &Packet{buf: buf, headers: headers, addr: addr}, nil
}

// FromPCAP 按链路类型剥离链路层后构造 Packet。
func FromPCAP(pkt *pcap.Packet, link pcap.LinkType, addr Address) (*Packet, error) {
	if pkt == nil {
		return nil, gerr.InvalidState("packet.FromPCAP", "packet is nil")
	}
	return FromLink(pkt.Data, link, addr)
}

// FromLink 从任意捕获格式的一帧构造 Packet，data 会被复制。
func FromLink(data []byte, link pcap.LinkType, addr Address) (*Packet, error) {
	raw := data
	switch link {
	case pcap.LinkTypeRaw, pcap.LinkTypeIPv4, pcap.LinkTypeIPv6:
	case pcap.LinkTypeEthernet:
		ip, err := layers.StripEthernet(raw)
		if err != nil {
			return nil, err
		}
		raw = ip
	default:
		return nil, gerr.InvalidState("packet.FromLink", "unsupported link type %d", link)
	}
	return FromAddress(append([]byte(nil), raw...), addr)
}

func (p *Packet) Address() Address     { return p.addr }
func (p *Packet) Direction() Direction { return p.addr.Direction }
func (p *Packet) IfIdx() uint32        { return p.addr.IfIdx }
func (p *Packet) SubIfIdx() uint32     { return p.addr.SubIfIdx }

// SetAddress 替换注入时使用的元数据，例如把入向包改为出向重新注入。
func (p *Packet) SetAddress(addr Address) {
	p.addr = addr
}

func (p *Packet) IsLoopback() bool { return p.addr.IsLoopback() }
func (p *Packet) IsInbound() bool  { return p.addr.Direction == Inbound }
func (p *Packet) IsOutbound() bool { return p.addr.Direction == Outbound }

func (p *Packet) networkType() layers.LayerType {
	return p.headers.Network.LayerType()
}

func (p *Packet) nextType() layers.LayerType {
	if p.headers.Next == nil {
		return 0
	}
	return p.headers.Next.LayerType()
}

func (p *Packet) IsIPv4() bool   { return p.networkType() == layers.LayerTypeIPv4 }
func (p *Packet) IsIPv6() bool   { return p.networkType() == layers.LayerTypeIPv6 }
func (p *Packet) IsTCP() bool    { return p.nextType() == layers.LayerTypeTCP }
func (p *Packet) IsUDP() bool    { return p.nextType() == layers.LayerTypeUDP }
func (p *Packet) IsICMPv4() bool { return p.nextType() == layers.LayerTypeICMPv4 }
func (p *Packet) IsICMPv6() bool { return p.nextType() == layers.LayerTypeICMPv6 }

// Headers 返回解码得到的头对。
func (p *Packet) Headers() layers.Headers {
	return p.headers
}

func (p *Packet) NetworkHeader() layers.NetworkHeader {
	return p.headers.Network
}

// NextHeader 在下一层协议未识别时返回 nil。
func (p *Packet) NextHeader() layers.NextHeader {
	return p.headers.Next
}

func (p *Packet) IPv4() (*layers.IPv4, error) {
	if ip, ok := p.headers.Network.(*layers.IPv4); ok {
		return ip, nil
	}
	return nil, gerr.NoSuchField("packet.IPv4", "packet has no IPv4 header")
}

func (p *Packet) IPv6() (*layers.IPv6, error) {
	if ip, ok := p.headers.Network.(*layers.IPv6); ok {
		return ip, nil
	}
	return nil, gerr.NoSuchField("packet.IPv6", "packet has no IPv6 header")
}

func (p *Packet) TCP() (*layers.TCP, error) {
	if t, ok := p.headers.Next.(*layers.TCP); ok {
		return t, nil
	}
	return nil, gerr.NoSuchField("packet.TCP", "packet has no TCP header")
}

func (p *Packet) UDP() (*layers.UDP, error) {
	if u, ok := p.headers.Next.(*layers.UDP); ok {
		return u, nil
	}
	return nil, gerr.NoSuchField("packet.UDP", "packet has no UDP header")
}

func (p *Packet) ICMPv4() (*layers.ICMPv4, error) {
	if c, ok := p.headers.Next.(*layers.ICMPv4); ok {
		return c, nil
	}
	return nil, gerr.NoSuchField("packet.ICMPv4", "packet has no ICMPv4 header")
}

func (p *Packet) ICMPv6() (*layers.ICMPv6, error) {
	if c, ok := p.headers.Next.(*layers.ICMPv6); ok {
		return c, nil
	}
	return nil, gerr.NoSuchField("packet.ICMPv6", "packet has no ICMPv6 header")
}

func (p *Packet) Transport() (layers.TransportHeader, error) {
	if t, ok := p.headers.Transport(); ok {
		return t, nil
	}
	return nil, gerr.NoSuchField("packet.Transport", "packet has no transport header")
}

func (p *Packet) Control() (layers.ControlHeader, error) {
	if c, ok := p.headers.Control(); ok {
		return c, nil
	}
	return nil, gerr.NoSuchField("packet.Control", "packet has no ICMP header")
}

func (p *Packet) SrcAddr() netip.Addr { return p.headers.Network.SrcAddr() }
func (p *Packet) DstAddr() netip.Addr { return p.headers.Network.DstAddr() }

func (p *Packet) SrcAddrString() string { return p.SrcAddr().String() }
func (p *Packet) DstAddrString() string { return p.DstAddr().String() }

// SetSrcAddr 解析文本地址并写入网络层头，地址族必须与头一致。
func (p *Packet) SetSrcAddr(s string) error {
	addr, err := parseAddr("packet.SetSrcAddr", s)
	if err != nil {
		return err
	}
	return p.headers.Network.SetSrcAddr(addr)
}

func (p *Packet) SetDstAddr(s string) error {
	addr, err := parseAddr("packet.SetDstAddr", s)
	if err != nil {
		return err
	}
	return p.headers.Network.SetDstAddr(addr)
}

func parseAddr(op, s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, gerr.MalformedInput(op, "invalid address %q", s)
	}
	return addr, nil
}

// SrcPort 在没有 TCP/UDP 头时返回 NoSuchField。
func (p *Packet) SrcPort() (uint16, error) {
	t, err := p.Transport()
	if err != nil {
		return 0, err
	}
	return t.SrcPort(), nil
}

func (p *Packet) DstPort() (uint16, error) {
	t, err := p.Transport()
	if err != nil {
		return 0, err
	}
	return t.DstPort(), nil
}

// SetSrcPort 在没有 TCP/UDP 头时返回 InvalidState。
func (p *Packet) SetSrcPort(port uint16) error {
	t, ok := p.headers.Transport()
	if !ok {
		return gerr.InvalidState("packet.SetSrcPort", "packet has no transport header")
	}
	t.SetSrcPort(port)
	return nil
}

func (p *Packet) SetDstPort(port uint16) error {
	t, ok := p.headers.Transport()
	if !ok {
		return gerr.InvalidState("packet.SetDstPort", "packet has no transport header")
	}
	t.SetDstPort(port)
	return nil
}

// HeadersLength 按当前字节重新计算两个头的总长度。
func (p *Packet) HeadersLength() int {
	return p.headers.Length()
}

// Payload 返回头之后直到缓冲区末尾的拷贝。
func (p *Packet) Payload() ([]byte, error) {
	off := p.HeadersLength()
	n := p.buf.Len() - off
	if n < 0 {
		return nil, gerr.OutOfRange("packet.Payload", "headers length %d exceeds packet size %d", off, p.buf.Len())
	}
	return p.buf.View(0).Bytes(off, n)
}

// SetPayload 从载荷起点覆盖写入 payload。
// 缓冲区大小与 IP/UDP 长度字段都不会改变，需要调用方自行维护。
func (p *Packet) SetPayload(payload []byte) error {
	return p.buf.View(0).SetBytes(p.HeadersLength(), len(payload), payload)
}

// Raw 返回当前缓冲区内容的拷贝。
func (p *Packet) Raw() []byte {
	return p.buf.Bytes()
}

func (p *Packet) Len() int {
	return p.buf.Len()
}

// Equal 比较原始字节与元数据。
func (p *Packet) Equal(other *Packet) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.addr == other.addr && bytes.Equal(p.Raw(), other.Raw())
}

func (p *Packet) Hash() uint64 {
	d := xxhash.New()
	_, _ = d.Write(p.Raw())
	_, _ = fmt.Fprintf(d, "%d/%d/%d", p.addr.IfIdx, p.addr.SubIfIdx, p.addr.Direction)
	return d.Sum64()
}

func (p *Packet) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Packet{%s, %s", p.addr, p.headers.Network)
	if p.headers.Next != nil {
		fmt.Fprintf(&sb, ", %s", p.headers.Next)
	}
	fmt.Fprintf(&sb, ", raw=%s}", gcodec.PrintHex(p.Raw()))
	return sb.String()
}
