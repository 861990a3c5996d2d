package pcap

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sofiworker/gdivert/gerr"
)

type WriterOption func(*writerConfig) error

type writerConfig struct {
	order      binary.ByteOrder
	unit       time.Duration
	snapLen    uint32
	link       LinkType
	bufferSize int
}

// Writer 可以被多个 goroutine 同时写入。
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	buf    *bufio.Writer
	header FileHeader
	order  binary.ByteOrder
	unit   time.Duration
	closer io.Closer
}

// NewWriter 立即写出文件头。默认小端、微秒精度、LinkTypeRaw。
func NewWriter(w io.Writer, opts ...WriterOption) (*Writer, error) {
	cfg := writerConfig{
		order:   binary.LittleEndian,
		unit:    time.Microsecond,
		snapLen: 65535,
		link:    LinkTypeRaw,
	}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	writer := &Writer{
		w: w,
		header: FileHeader{
			MagicNumber:  selectMagic(cfg.order, cfg.unit),
			VersionMajor: 2,
			VersionMinor: 4,
			SnapLen:      cfg.snapLen,
			Network:      cfg.link,
		},
		order: cfg.order,
		unit:  cfg.unit,
	}
	if closer, ok := w.(io.Closer); ok {
		writer.closer = closer
	}
	if cfg.bufferSize > 0 {
		writer.buf = bufio.NewWriterSize(w, cfg.bufferSize)
		writer.w = writer.buf
	}
	if err := writer.writeHeader(); err != nil {
		return nil, err
	}
	return writer, nil
}

// CreateFile 创建 pcap 文件，Close 会一并关闭文件。
func CreateFile(path string, opts ...WriterOption) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, gerr.External("pcap.CreateFile", err)
	}
	w, err := NewWriter(f, opts...)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) Header() FileHeader {
	return w.header
}

func (w *Writer) WritePacket(pkt *Packet) error {
	if pkt == nil {
		return gerr.InvalidState("pcap.WritePacket", "packet is nil")
	}

	header := pkt.Header
	switch {
	case !pkt.Timestamp.IsZero():
		header.setTimestamp(pkt.Timestamp, w.unit)
	case header.TsSec == 0 && header.TsFrac == 0:
		header.setTimestamp(time.Now().UTC(), w.unit)
	}
	if uint32(len(pkt.Data)) < header.InclLen {
		return gerr.InvalidState("pcap.WritePacket", "packet data shorter than captured length")
	}
	if header.InclLen == 0 {
		header.InclLen = uint32(len(pkt.Data))
	}
	if header.InclLen > w.header.SnapLen {
		header.InclLen = w.header.SnapLen
	}
	if header.OrigLen == 0 {
		header.OrigLen = uint32(len(pkt.Data))
	}

	var hdr [16]byte
	w.order.PutUint32(hdr[0:4], header.TsSec)
	w.order.PutUint32(hdr[4:8], header.TsFrac)
	w.order.PutUint32(hdr[8:12], header.InclLen)
	w.order.PutUint32(hdr[12:16], header.OrigLen)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(hdr[:]); err != nil {
		return gerr.External("pcap.WritePacket", err)
	}
	if _, err := w.w.Write(pkt.Data[:header.InclLen]); err != nil {
		return gerr.External("pcap.WritePacket", err)
	}
	return nil
}

func (w *Writer) WritePacketData(data []byte, ts time.Time) error {
	return w.WritePacket(&Packet{Data: data, Timestamp: ts})
}

func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf == nil {
		return nil
	}
	return gerr.External("pcap.Flush", w.buf.Flush())
}

func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	if w.closer != nil {
		return gerr.External("pcap.Close", w.closer.Close())
	}
	return nil
}

func (w *Writer) writeHeader() error {
	var hdr [24]byte
	binary.BigEndian.PutUint32(hdr[0:4], w.header.MagicNumber)
	w.order.PutUint16(hdr[4:6], w.header.VersionMajor)
	w.order.PutUint16(hdr[6:8], w.header.VersionMinor)
	w.order.PutUint32(hdr[8:12], uint32(w.header.ThisZone))
	w.order.PutUint32(hdr[12:16], w.header.SigFigs)
	w.order.PutUint32(hdr[16:20], w.header.SnapLen)
	w.order.PutUint32(hdr[20:24], uint32(w.header.Network))
	_, err := w.w.Write(hdr[:])
	return gerr.External("pcap.NewWriter", err)
}

func selectMagic(order binary.ByteOrder, unit time.Duration) uint32 {
	nano := unit == time.Nanosecond
	switch {
	case order == binary.BigEndian && nano:
		return MagicNumberNanoseconds
	case order == binary.BigEndian:
		return MagicNumberMicroseconds
	case nano:
		return MagicNumberNanosecondsSwapped
	}
	return MagicNumberMicrosecondsSwapped
}

func WithSnapLen(snapLen uint32) WriterOption {
	return func(cfg *writerConfig) error {
		if snapLen == 0 {
			return gerr.InvalidState("pcap.WithSnapLen", "snap length must be positive")
		}
		cfg.snapLen = snapLen
		return nil
	}
}

func WithLinkType(link LinkType) WriterOption {
	return func(cfg *writerConfig) error {
		cfg.link = link
		return nil
	}
}

// WithBuffer 启用带缓冲写入以减少系统调用。
func WithBuffer(size int) WriterOption {
	return func(cfg *writerConfig) error {
		if size <= 0 {
			return gerr.InvalidState("pcap.WithBuffer", "buffer size must be positive")
		}
		cfg.bufferSize = size
		return nil
	}
}

func WithByteOrder(order binary.ByteOrder) WriterOption {
	return func(cfg *writerConfig) error {
		if order != binary.BigEndian && order != binary.LittleEndian {
			return gerr.InvalidState("pcap.WithByteOrder", "unsupported byte order")
		}
		cfg.order = order
		return nil
	}
}

func WithTimestampResolution(unit time.Duration) WriterOption {
	return func(cfg *writerConfig) error {
		switch unit {
		case time.Microsecond, time.Nanosecond:
			cfg.unit = unit
			return nil
		}
		return gerr.InvalidState("pcap.WithTimestampResolution", "unsupported timestamp resolution %s", unit)
	}
}
