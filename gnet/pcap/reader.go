package pcap

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"time"

	"github.com/sofiworker/gdivert/gerr"
)

type Reader struct {
	r      io.Reader
	header FileHeader
	order  binary.ByteOrder
	unit   time.Duration
}

// NewReader 读取并校验 24 字节文件头。
func NewReader(r io.Reader) (*Reader, error) {
	var hdr [24]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, malformed("pcap.NewReader", err)
	}

	header := FileHeader{MagicNumber: binary.BigEndian.Uint32(hdr[0:4])}
	switch header.MagicNumber {
	case MagicNumberMicroseconds, MagicNumberNanoseconds,
		MagicNumberMicrosecondsSwapped, MagicNumberNanosecondsSwapped:
	default:
		return nil, malformed("pcap.NewReader", ErrInvalidMagicNumber)
	}
	order := header.ByteOrder()
	header.VersionMajor = order.Uint16(hdr[4:6])
	header.VersionMinor = order.Uint16(hdr[6:8])
	header.ThisZone = int32(order.Uint32(hdr[8:12]))
	header.SigFigs = order.Uint32(hdr[12:16])
	header.SnapLen = order.Uint32(hdr[16:20])
	header.Network = LinkType(order.Uint32(hdr[20:24]))

	return &Reader{
		r:      r,
		header: header,
		order:  order,
		unit:   header.TimestampResolution(),
	}, nil
}

// OpenFile 打开 pcap 文件，返回的关闭函数负责释放文件。
func OpenFile(path string) (*Reader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, gerr.External("pcap.OpenFile", err)
	}
	r, err := NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return r, f.Close, nil
}

func (r *Reader) Header() FileHeader {
	return r.header
}

func (r *Reader) LinkType() LinkType {
	return r.header.Network
}

// ReadPacket 在文件结束时返回 io.EOF。
func (r *Reader) ReadPacket() (*Packet, error) {
	var hdr [16]byte
	if _, err := io.ReadFull(r.r, hdr[:]); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return nil, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return nil, malformed("pcap.ReadPacket", ErrInvalidPacketHeader)
		}
		return nil, gerr.External("pcap.ReadPacket", err)
	}

	header := PacketHeader{
		TsSec:   r.order.Uint32(hdr[0:4]),
		TsFrac:  r.order.Uint32(hdr[4:8]),
		InclLen: r.order.Uint32(hdr[8:12]),
		OrigLen: r.order.Uint32(hdr[12:16]),
	}
	if r.header.SnapLen > 0 && header.InclLen > r.header.SnapLen {
		return nil, gerr.MalformedInput("pcap.ReadPacket", "captured length %d exceeds snap length %d", header.InclLen, r.header.SnapLen)
	}

	data := make([]byte, header.InclLen)
	if _, err := io.ReadFull(r.r, data); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, malformed("pcap.ReadPacket", ErrInvalidPacketHeader)
		}
		return nil, gerr.External("pcap.ReadPacket", err)
	}

	return &Packet{
		Header:    header,
		Data:      data,
		Timestamp: header.timestamp(r.unit),
	}, nil
}
