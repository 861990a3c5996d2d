package layers

import (
	"github.com/sofiworker/gdivert/gerr"
)

// Headers 是一次解码的结果：一个网络层头和至多一个后继头。
// Next 为 nil 表示下一层协议不是 TCP/UDP/ICMP/ICMPv6。
type Headers struct {
	Network NetworkHeader
	Next    NextHeader
}

// Transport 在后继头是 TCP 或 UDP 时返回它。
func (h Headers) Transport() (TransportHeader, bool) {
	t, ok := h.Next.(TransportHeader)
	return t, ok
}

// Control 在后继头是 ICMPv4 或 ICMPv6 时返回它。
func (h Headers) Control() (ControlHeader, bool) {
	c, ok := h.Next.(ControlHeader)
	return c, ok
}

// Length 返回两个头的当前总长度。
func (h Headers) Length() int {
	if h.Network == nil {
		return 0
	}
	n := h.Network.HeaderLength()
	if h.Next != nil {
		n += h.Next.HeaderLength()
	}
	return n
}

// Decode 在 data 上构造头视图，data 不会被拷贝。
func Decode(data []byte) (Headers, error) {
	return BuildHeaders(NewBuffer(data))
}

// BuildHeaders 读取版本号构造网络层头，再按下一层协议号在其后构造第二个头。
// 未识别的下一层协议不是错误，只是 Next 为空。
func BuildHeaders(buf *Buffer) (Headers, error) {
	var h Headers
	version, err := buf.View(0).Get(0, 1)
	if err != nil {
		return h, err
	}
	switch version >> 4 {
	case 4:
		ip, err := NewIPv4(buf, 0)
		if err != nil {
			return h, err
		}
		h.Network = ip
	case 6:
		ip, err := NewIPv6(buf, 0)
		if err != nil {
			return h, err
		}
		h.Network = ip
	default:
		return h, gerr.InvalidState("layers.BuildHeaders", "unsupported ip version %d", version>>4)
	}

	start := h.Network.HeaderLength()
	switch Protocol(h.Network.NextHeaderNumber()) {
	case ProtocolTCP:
		t, err := NewTCP(buf, start)
		if err != nil {
			return h, err
		}
		h.Next = t
	case ProtocolUDP:
		u, err := NewUDP(buf, start)
		if err != nil {
			return h, err
		}
		h.Next = u
	case ProtocolICMP:
		c, err := NewICMPv4(buf, start)
		if err != nil {
			return h, err
		}
		h.Next = c
	case ProtocolICMPv6:
		c, err := NewICMPv6(buf, start)
		if err != nil {
			return h, err
		}
		h.Next = c
	}
	return h, nil
}
