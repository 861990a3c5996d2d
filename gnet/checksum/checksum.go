// Package checksum 借助 gopacket 的序列化为数据包重算 TCP/UDP/ICMP 校验和，
// IPv4 头与过短的 ICMPv4 报文直接按 RFC 1071 求和。
package checksum

import (
	"encoding/binary"
	"fmt"

	"github.com/google/gopacket"
	gplayers "github.com/google/gopacket/layers"

	"github.com/sofiworker/gdivert/gerr"
	"github.com/sofiworker/gdivert/gnet/layers"
	"github.com/sofiworker/gdivert/gnet/packet"
)

const op = "checksum.Recalculate"

// 校验和字段在各自头内的偏移。
const (
	ipv4ChecksumOffset = 10
	tcpChecksumOffset  = 16
	udpChecksumOffset  = 6
	icmpChecksumOffset = 2
)

const icmpv4MinLen = 8

// Helper 实现 packet.ChecksumHelper。零值可用，并发安全。
type Helper struct{}

var _ packet.ChecksumHelper = (*Helper)(nil)

func New() *Helper {
	return &Helper{}
}

type pseudoHeaderLayer interface {
	gopacket.SerializableLayer
	SetNetworkLayerForChecksum(gopacket.NetworkLayer) error
}

// Recalculate 返回重算后的拷贝，raw 本身不会被修改。
// 每个头只有校验和字段会被改写，其余字节保持原样。
// IPv4 分片只修正 IP 头校验和：传输层校验和覆盖整个数据报，单个分片无法计算。
func (h *Helper) Recalculate(raw []byte, opts packet.ChecksumOption) ([]byte, error) {
	out := append([]byte(nil), raw...)
	buf := layers.NewBuffer(out)

	if len(out) > 0 && out[0]>>4 == 4 {
		ip4, err := layers.NewIPv4(buf, 0)
		if err != nil {
			return nil, gerr.External(op, err)
		}
		if !opts.Has(packet.NoIPChecksum) {
			if err := fixIPv4(ip4); err != nil {
				return nil, err
			}
		}
		if ip4.HasFlag(layers.IPv4FlagMF) || ip4.FragmentOffset() != 0 {
			return out, nil
		}
	}

	hdrs, err := layers.BuildHeaders(buf)
	if err != nil {
		return nil, gerr.External(op, err)
	}
	if hdrs.Next == nil || skipped(hdrs.Next.LayerType(), opts) {
		return out, nil
	}

	// 不足 8 字节的 ICMPv4 gopacket 不解码；它没有伪首部，直接对报文求和。
	if hdrs.Next.LayerType() == layers.LayerTypeICMPv4 && len(out)-hdrs.Next.Start() < icmpv4MinLen {
		msg := append([]byte(nil), out[hdrs.Next.Start():]...)
		msg[icmpChecksumOffset], msg[icmpChecksumOffset+1] = 0, 0
		hdrs.Next.SetChecksum(internetChecksum(msg))
		return out, nil
	}

	first := gplayers.LayerTypeIPv4
	if hdrs.Network.LayerType() == layers.LayerTypeIPv6 {
		first = gplayers.LayerTypeIPv6
	}
	pkt := gopacket.NewPacket(raw, first, gopacket.Default)
	network := pkt.NetworkLayer()
	if network == nil {
		return nil, gerr.External(op, decodeFailure(pkt))
	}

	var (
		layer  gopacket.SerializableLayer
		offset int
	)
	switch hdrs.Next.LayerType() {
	case layers.LayerTypeTCP:
		layer, offset = asSerializable(pkt.Layer(gplayers.LayerTypeTCP)), tcpChecksumOffset
	case layers.LayerTypeUDP:
		layer, offset = asSerializable(pkt.Layer(gplayers.LayerTypeUDP)), udpChecksumOffset
	case layers.LayerTypeICMPv4:
		layer, offset = asSerializable(pkt.Layer(gplayers.LayerTypeICMPv4)), icmpChecksumOffset
	case layers.LayerTypeICMPv6:
		layer, offset = asSerializable(pkt.Layer(gplayers.LayerTypeICMPv6)), icmpChecksumOffset
	}
	if layer == nil {
		return nil, gerr.External(op, fmt.Errorf("%v layer not decoded: %w", hdrs.Next.LayerType(), decodeFailure(pkt)))
	}
	if ph, ok := layer.(pseudoHeaderLayer); ok {
		if err := ph.SetNetworkLayerForChecksum(network); err != nil {
			return nil, gerr.External(op, err)
		}
	}
	payload := layer.(gopacket.Layer).LayerPayload()
	sum, err := serializedChecksum(layer, payload, offset)
	if err != nil {
		return nil, err
	}
	hdrs.Next.SetChecksum(sum)
	return out, nil
}

// fixIPv4 只对头区间求和，不依赖后面的传输层能否解码。
func fixIPv4(ip4 *layers.IPv4) error {
	hdr, err := ip4.RawHeaderBytes()
	if err != nil {
		return gerr.External(op, err)
	}
	hdr[ipv4ChecksumOffset], hdr[ipv4ChecksumOffset+1] = 0, 0
	ip4.SetChecksum(internetChecksum(hdr))
	return nil
}

// internetChecksum 是 RFC 1071 的反码和。
func internetChecksum(b []byte) uint16 {
	var sum uint32
	for len(b) >= 2 {
		sum += uint32(b[0])<<8 | uint32(b[1])
		b = b[2:]
	}
	if len(b) == 1 {
		sum += uint32(b[0]) << 8
	}
	for sum>>16 != 0 {
		sum = sum&0xFFFF + sum>>16
	}
	return ^uint16(sum)
}

func asSerializable(l gopacket.Layer) gopacket.SerializableLayer {
	s, _ := l.(gopacket.SerializableLayer)
	return s
}

func skipped(t layers.LayerType, opts packet.ChecksumOption) bool {
	switch t {
	case layers.LayerTypeTCP:
		return opts.Has(packet.NoTCPChecksum)
	case layers.LayerTypeUDP:
		return opts.Has(packet.NoUDPChecksum)
	case layers.LayerTypeICMPv4:
		return opts.Has(packet.NoICMPChecksum)
	case layers.LayerTypeICMPv6:
		return opts.Has(packet.NoICMPv6Checksum)
	}
	return true
}

// serializedChecksum 重新编码 layer（后接 payload），返回 offset 处的校验和。
func serializedChecksum(layer gopacket.SerializableLayer, payload []byte, offset int) (uint16, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, layer, gopacket.Payload(payload)); err != nil {
		return 0, gerr.External(op, err)
	}
	b := buf.Bytes()
	if len(b) < offset+2 {
		return 0, gerr.External(op, fmt.Errorf("%v encoded to %d bytes", layer.LayerType(), len(b)))
	}
	return binary.BigEndian.Uint16(b[offset:]), nil
}

func decodeFailure(pkt gopacket.Packet) error {
	if el := pkt.ErrorLayer(); el != nil {
		return el.Error()
	}
	return fmt.Errorf("no decodable layer")
}
