package pcap

import (
	"encoding/binary"
	"time"
)

const (
	MagicNumberMicroseconds        uint32 = 0xa1b2c3d4
	MagicNumberMicrosecondsSwapped uint32 = 0xd4c3b2a1
	MagicNumberNanoseconds         uint32 = 0xa1b23c4d
	MagicNumberNanosecondsSwapped  uint32 = 0x4d3cb2a1
)

// LinkType 是文件头中的 network 字段。
type LinkType uint32

const (
	LinkTypeEthernet LinkType = 1
	LinkTypeRaw      LinkType = 101
	LinkTypeIPv4     LinkType = 228
	LinkTypeIPv6     LinkType = 229
)

func (l LinkType) String() string {
	switch l {
	case LinkTypeEthernet:
		return "EN10MB"
	case LinkTypeRaw:
		return "RAW"
	case LinkTypeIPv4:
		return "IPV4"
	case LinkTypeIPv6:
		return "IPV6"
	default:
		return "UNKNOWN"
	}
}

type FileHeader struct {
	MagicNumber  uint32
	VersionMajor uint16
	VersionMinor uint16
	ThisZone     int32
	SigFigs      uint32
	SnapLen      uint32
	Network      LinkType
}

type PacketHeader struct {
	TsSec   uint32
	TsFrac  uint32
	InclLen uint32
	OrigLen uint32
}

type Packet struct {
	Header    PacketHeader
	Data      []byte
	Timestamp time.Time
}

// ByteOrder 由魔数的存储顺序决定。
func (h *FileHeader) ByteOrder() binary.ByteOrder {
	switch h.MagicNumber {
	case MagicNumberMicrosecondsSwapped, MagicNumberNanosecondsSwapped:
		return binary.LittleEndian
	}
	return binary.BigEndian
}

func (h *FileHeader) TimestampResolution() time.Duration {
	switch h.MagicNumber {
	case MagicNumberNanoseconds, MagicNumberNanosecondsSwapped:
		return time.Nanosecond
	}
	return time.Microsecond
}

func (h *PacketHeader) timestamp(unit time.Duration) time.Time {
	return time.Unix(int64(h.TsSec), int64(h.TsFrac)*int64(unit)).UTC()
}

func (h *PacketHeader) setTimestamp(ts time.Time, unit time.Duration) {
	h.TsSec = uint32(ts.Unix())
	h.TsFrac = uint32(int64(ts.Nanosecond()) / int64(unit))
}

func (p *Packet) CaptureLength() int {
	return len(p.Data)
}

func (p *Packet) OriginalLength() int {
	if p.Header.OrigLen == 0 {
		return len(p.Data)
	}
	return int(p.Header.OrigLen)
}
