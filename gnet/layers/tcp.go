package layers

import (
	"fmt"
	"strings"

	"github.com/sofiworker/gdivert/gerr"
)

const (
	TCPMinHeaderLen = 20
	TCPMaxHeaderLen = 60
)

// TCP 标志位掩码，对应 offset 12-13 的低 9 位。
const (
	TCPFlagFIN uint16 = 1 << 0
	TCPFlagSYN uint16 = 1 << 1
	TCPFlagRST uint16 = 1 << 2
	TCPFlagPSH uint16 = 1 << 3
	TCPFlagACK uint16 = 1 << 4
	TCPFlagURG uint16 = 1 << 5
	TCPFlagECE uint16 = 1 << 6
	TCPFlagCWR uint16 = 1 << 7
	TCPFlagNS  uint16 = 1 << 8
)

var tcpFlagNames = [...]string{"FIN", "SYN", "RST", "PSH", "ACK", "URG", "ECE", "CWR", "NS"}

// ports 是 TCP 与 UDP 共用的前 4 字节。
type ports struct {
	base
}

func (p *ports) SrcPort() uint16 {
	return p.view.u16(p.at(0))
}

func (p *ports) SetSrcPort(port uint16) {
	p.view.putU16(p.at(0), port)
}

func (p *ports) DstPort() uint16 {
	return p.view.u16(p.at(2))
}

func (p *ports) SetDstPort(port uint16) {
	p.view.putU16(p.at(2), port)
}

func (p *ports) nextHeader()      {}
func (p *ports) transportHeader() {}

type TCP struct {
	ports
}

var _ TransportHeader = (*TCP)(nil)

// NewTCP 校验缓冲区能容纳 data offset 声明的整个头。
func NewTCP(buf *Buffer, start int) (*TCP, error) {
	v := buf.View(start)
	if err := v.check("layers.NewTCP", start, TCPMinHeaderLen); err != nil {
		return nil, err
	}
	t := &TCP{ports{base{view: v}}}
	hl := t.HeaderLength()
	if hl < TCPMinHeaderLen {
		return nil, gerr.InvalidState("layers.NewTCP", "header length %d below minimum %d", hl, TCPMinHeaderLen)
	}
	if err := v.check("layers.NewTCP", start, hl); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *TCP) LayerType() LayerType { return LayerTypeTCP }

func (t *TCP) HeaderLength() int {
	return int(t.DataOffset()) * 4
}

func (t *TCP) RawHeaderBytes() ([]byte, error) {
	return t.view.Bytes(t.Start(), t.HeaderLength())
}

func (t *TCP) Equal(other Header) bool { return equalHeaders(t, other) }
func (t *TCP) Hash() uint64            { return hashHeader(t) }

// Seq 以有符号 32 位返回序列号，需要无符号语义时用 SeqNumber。
func (t *TCP) Seq() int32 {
	return int32(t.SeqNumber())
}

func (t *TCP) SeqNumber() uint32 {
	return t.view.u32(t.at(4))
}

func (t *TCP) SetSeq(seq uint32) {
	t.view.putU32(t.at(4), seq)
}

func (t *TCP) Ack() int32 {
	return int32(t.AckNumber())
}

func (t *TCP) AckNumber() uint32 {
	return t.view.u32(t.at(8))
}

func (t *TCP) SetAck(ack uint32) {
	t.view.putU32(t.at(8), ack)
}

func (t *TCP) DataOffset() uint8 {
	return t.view.u8(t.at(12)) >> 4
}

// SetDataOffset 保留 byte 12 的低 4 位（含 NS）。
func (t *TCP) SetDataOffset(off uint8) {
	t.view.update(t.at(12), func(b uint8) uint8 {
		return off<<4 | b&0x0F
	})
}

// Flags 返回 9 位标志掩码，见 TCPFlag* 常量。
func (t *TCP) Flags() uint16 {
	return t.view.u16(t.at(12)) & 0x01FF
}

func (t *TCP) SetFlags(flags uint16) {
	off := t.at(12)
	t.view.putU16(off, t.view.u16(off)&0xFE00|flags&0x01FF)
}

func (t *TCP) HasFlag(flag uint16) bool {
	return t.Flags()&flag != 0
}

// SetFlag 置位或清除 flag 中的每一位，可以一次传入多个 TCPFlag* 的组合。
// 掩码中超出 9 位标志的部分被忽略，其余位保持不变。
func (t *TCP) SetFlag(flag uint16, on bool) {
	flags := t.Flags()
	if on {
		flags |= flag
	} else {
		flags &^= flag
	}
	t.SetFlags(flags)
}

func (t *TCP) Window() uint16 {
	return t.view.u16(t.at(14))
}

func (t *TCP) SetWindow(window uint16) {
	t.view.putU16(t.at(14), window)
}

func (t *TCP) Checksum() uint16 {
	return t.view.u16(t.at(16))
}

func (t *TCP) SetChecksum(cksum uint16) {
	t.view.putU16(t.at(16), cksum)
}

func (t *TCP) Urgent() uint16 {
	return t.view.u16(t.at(18))
}

func (t *TCP) SetUrgent(urg uint16) {
	t.view.putU16(t.at(18), urg)
}

// Options 返回 [20, HeaderLength) 的拷贝，没有选项时返回 nil。
func (t *TCP) Options() ([]byte, error) {
	n := t.HeaderLength() - TCPMinHeaderLen
	if n <= 0 {
		return nil, nil
	}
	return t.view.Bytes(t.at(TCPMinHeaderLen), n)
}

// SetOptions 写入选项区，不足补零、超出截断。需要先用 SetDataOffset 扩展头长度。
func (t *TCP) SetOptions(options []byte) error {
	n := t.HeaderLength() - TCPMinHeaderLen
	if n <= 0 {
		return gerr.InvalidState("layers.TCP.SetOptions", "header is too short for options")
	}
	return t.view.SetBytes(t.at(TCPMinHeaderLen), n, zeroPad(options, n))
}

func (t *TCP) flagString() string {
	var names []string
	flags := t.Flags()
	for i := len(tcpFlagNames) - 1; i >= 0; i-- {
		if flags&(1<<i) != 0 {
			names = append(names, tcpFlagNames[i])
		}
	}
	return strings.Join(names, " ")
}

func (t *TCP) String() string {
	return fmt.Sprintf("TCP %d -> %d seq=%d ack=%d doff=%d flags=[%s] win=%d cksum=%#04x urg=%d",
		t.SrcPort(), t.DstPort(), t.SeqNumber(), t.AckNumber(), t.DataOffset(),
		t.flagString(), t.Window(), t.Checksum(), t.Urgent())
}
