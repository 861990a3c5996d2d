package layers

import (
	"fmt"
)

const UDPHeaderLen = 8

type UDP struct {
	ports
}

var _ TransportHeader = (*UDP)(nil)

func NewUDP(buf *Buffer, start int) (*UDP, error) {
	v := buf.View(start)
	if err := v.check("layers.NewUDP", start, UDPHeaderLen); err != nil {
		return nil, err
	}
	return &UDP{ports{base{view: v}}}, nil
}

func (u *UDP) LayerType() LayerType { return LayerTypeUDP }

func (u *UDP) HeaderLength() int {
	return UDPHeaderLen
}

func (u *UDP) RawHeaderBytes() ([]byte, error) {
	return u.view.Bytes(u.Start(), UDPHeaderLen)
}

func (u *UDP) Equal(other Header) bool { return equalHeaders(u, other) }
func (u *UDP) Hash() uint64            { return hashHeader(u) }

// Length 覆盖头和数据。
func (u *UDP) Length() uint16 {
	return u.view.u16(u.at(4))
}

func (u *UDP) SetLength(length uint16) {
	u.view.putU16(u.at(4), length)
}

func (u *UDP) Checksum() uint16 {
	return u.view.u16(u.at(6))
}

func (u *UDP) SetChecksum(cksum uint16) {
	u.view.putU16(u.at(6), cksum)
}

func (u *UDP) dataLength() int {
	n := int(u.Length()) - UDPHeaderLen
	if n < 0 {
		return 0
	}
	return n
}

// Data 返回 [8, Length) 的拷贝。
func (u *UDP) Data() ([]byte, error) {
	return u.view.Bytes(u.at(UDPHeaderLen), u.dataLength())
}

// SetData 按 Length 字段写入数据，data 必须至少有 Length-8 字节。
// 改变数据长度前需要先调用 SetLength。
func (u *UDP) SetData(data []byte) error {
	return u.view.SetBytes(u.at(UDPHeaderLen), u.dataLength(), data)
}

func (u *UDP) String() string {
	return fmt.Sprintf("UDP %d -> %d len=%d cksum=%#04x",
		u.SrcPort(), u.DstPort(), u.Length(), u.Checksum())
}
