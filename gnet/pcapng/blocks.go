// Package pcapng 读写 pcapng 抓包文件：SHB、IDB、EPB 与 SPB。
// 每个 EPB 带接口编号，方向记录在 epb_flags 选项里。
package pcapng

import (
	"encoding/binary"
	"time"
)

type BlockType uint32

const (
	SectionHeaderBlockType        BlockType = 0x0A0D0D0A
	InterfaceDescriptionBlockType BlockType = 0x00000001
	SimplePacketBlockType         BlockType = 0x00000003
	EnhancedPacketBlockType       BlockType = 0x00000006
)

// ByteOrderMagic 按 Section 的字节序写出，读者据此判断字节序。
const ByteOrderMagic uint32 = 0x1A2B3C4D

// 选项编码。
const (
	optIfName      uint16 = 2
	optIfTsResol   uint16 = 9
	optEPBFlags    uint16 = 2
	optSHBUserAppl uint16 = 4
)

const (
	epbInbound  uint32 = 1
	epbOutbound uint32 = 2
	epbDirMask  uint32 = 0x3
)

type Option struct {
	Code  uint16
	Value []byte
}

type Block interface {
	BlockType() BlockType
}

type BlockHeader struct {
	Type        BlockType
	TotalLength uint32
}

func (h BlockHeader) BlockType() BlockType {
	return h.Type
}

type SectionHeaderBlock struct {
	BlockHeader
	ByteOrder     binary.ByteOrder
	MajorVersion  uint16
	MinorVersion  uint16
	SectionLength int64
	Options       []Option
}

// Application 返回 shb_userappl 选项，没有时为空。
func (b *SectionHeaderBlock) Application() string {
	for _, opt := range b.Options {
		if opt.Code == optSHBUserAppl {
			return string(opt.Value)
		}
	}
	return ""
}

type InterfaceDescriptionBlock struct {
	BlockHeader
	ID       uint32
	LinkType uint16
	Reserved uint16
	SnapLen  uint32
	Options  []Option
}

// Name 返回 if_name 选项，没有时为空。
func (b *InterfaceDescriptionBlock) Name() string {
	for _, opt := range b.Options {
		if opt.Code == optIfName {
			return string(opt.Value)
		}
	}
	return ""
}

type EnhancedPacketBlock struct {
	BlockHeader
	InterfaceID   uint32
	TimestampHigh uint32
	TimestampLow  uint32
	CapturedLen   uint32
	OriginalLen   uint32
	PacketData    []byte
	Options       []Option
}

func (b *EnhancedPacketBlock) Timestamp(resolution time.Duration) time.Time {
	combined := (uint64(b.TimestampHigh) << 32) | uint64(b.TimestampLow)
	switch resolution {
	case time.Nanosecond:
		return time.Unix(int64(combined/1_000_000_000), int64(combined%1_000_000_000)).UTC()
	case time.Microsecond:
		return time.Unix(int64(combined/1_000_000), int64(combined%1_000_000)*1000).UTC()
	}
	per := uint64(time.Second / resolution)
	if per == 0 {
		per = 1
	}
	secs := combined / per
	frac := time.Duration(combined%per) * resolution
	return time.Unix(int64(secs), int64(frac)).UTC()
}

// SimplePacketBlock 没有时间戳与接口编号，总是属于接口 0。
type SimplePacketBlock struct {
	BlockHeader
	OriginalLen uint32
	PacketData  []byte
}

// RawBlock 是读到但不解析的块，例如名称解析块和统计块。
type RawBlock struct {
	BlockHeader
	Body []byte
}

// Direction 是 epb_flags 低两位记录的方向。
type Direction uint8

const (
	DirectionUnknown  Direction = 0
	DirectionInbound  Direction = 1
	DirectionOutbound Direction = 2
)

func (d Direction) String() string {
	switch d {
	case DirectionInbound:
		return "inbound"
	case DirectionOutbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// FlagsOption 构造只带方向位的 epb_flags 选项。
func FlagsOption(order binary.ByteOrder, dir Direction) Option {
	v := make([]byte, 4)
	order.PutUint32(v, uint32(dir)&epbDirMask)
	return Option{Code: optEPBFlags, Value: v}
}

func directionOf(order binary.ByteOrder, opts []Option) Direction {
	for _, opt := range opts {
		if opt.Code == optEPBFlags && len(opt.Value) >= 4 {
			switch order.Uint32(opt.Value) & epbDirMask {
			case epbInbound:
				return DirectionInbound
			case epbOutbound:
				return DirectionOutbound
			}
		}
	}
	return DirectionUnknown
}
