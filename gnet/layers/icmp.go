package layers

import (
	"fmt"
)

const (
	ICMPHeaderLen = 4
	// ICMPRestLen 是紧跟固定头的 4 字节不透明区域。
	ICMPRestLen = 4
)

// control 是 ICMPv4 与 ICMPv6 共用的 type/code/checksum 布局。
type control struct {
	base
}

func (c *control) HeaderLength() int {
	return ICMPHeaderLen
}

func (c *control) RawHeaderBytes() ([]byte, error) {
	return c.view.Bytes(c.Start(), ICMPHeaderLen)
}

func (c *control) Type() uint8 {
	return c.view.u8(c.at(0))
}

func (c *control) SetType(typ uint8) {
	c.view.putU8(c.at(0), typ)
}

func (c *control) Code() uint8 {
	return c.view.u8(c.at(1))
}

func (c *control) SetCode(code uint8) {
	c.view.putU8(c.at(1), code)
}

func (c *control) Checksum() uint16 {
	return c.view.u16(c.at(2))
}

func (c *control) SetChecksum(cksum uint16) {
	c.view.putU16(c.at(2), cksum)
}

func (c *control) rest() ([]byte, error) {
	return c.view.Bytes(c.at(ICMPHeaderLen), ICMPRestLen)
}

func (c *control) setRest(data []byte) error {
	return c.view.SetBytes(c.at(ICMPHeaderLen), ICMPRestLen, zeroPad(data, ICMPRestLen))
}

func (c *control) nextHeader()    {}
func (c *control) controlHeader() {}

type ICMPv4 struct {
	control
}

var _ ControlHeader = (*ICMPv4)(nil)

func NewICMPv4(buf *Buffer, start int) (*ICMPv4, error) {
	v := buf.View(start)
	if err := v.check("layers.NewICMPv4", start, ICMPHeaderLen); err != nil {
		return nil, err
	}
	return &ICMPv4{control{base{view: v}}}, nil
}

func (i *ICMPv4) LayerType() LayerType    { return LayerTypeICMPv4 }
func (i *ICMPv4) Equal(other Header) bool { return equalHeaders(i, other) }
func (i *ICMPv4) Hash() uint64            { return hashHeader(i) }

// RestOfHeader 返回 bytes 4-7，缓冲区不足时返回 OutOfRange。
func (i *ICMPv4) RestOfHeader() ([]byte, error) {
	return i.rest()
}

func (i *ICMPv4) SetRestOfHeader(data []byte) error {
	return i.setRest(data)
}

func (i *ICMPv4) String() string {
	return fmt.Sprintf("ICMPv4 type=%d code=%d cksum=%#04x", i.Type(), i.Code(), i.Checksum())
}

type ICMPv6 struct {
	control
}

var _ ControlHeader = (*ICMPv6)(nil)

func NewICMPv6(buf *Buffer, start int) (*ICMPv6, error) {
	v := buf.View(start)
	if err := v.check("layers.NewICMPv6", start, ICMPHeaderLen); err != nil {
		return nil, err
	}
	return &ICMPv6{control{base{view: v}}}, nil
}

func (i *ICMPv6) LayerType() LayerType    { return LayerTypeICMPv6 }
func (i *ICMPv6) Equal(other Header) bool { return equalHeaders(i, other) }
func (i *ICMPv6) Hash() uint64            { return hashHeader(i) }

func (i *ICMPv6) MessageBody() ([]byte, error) {
	return i.rest()
}

func (i *ICMPv6) SetMessageBody(data []byte) error {
	return i.setRest(data)
}

func (i *ICMPv6) String() string {
	return fmt.Sprintf("ICMPv6 type=%d code=%d cksum=%#04x", i.Type(), i.Code(), i.Checksum())
}
