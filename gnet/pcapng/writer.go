package pcapng

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sofiworker/gdivert/gerr"
)

type WriterOption func(*writerConfig) error

type writerConfig struct {
	byteOrder     binary.ByteOrder
	major         uint16
	minor         uint16
	sectionLength int64
	sectionOpts   []Option
	defaultRes    time.Duration
	bufferSize    int
}

// Writer 写出单个 Section，可以被多个 goroutine 同时写入。
type Writer struct {
	mu            sync.Mutex
	w             io.Writer
	buf           *bufio.Writer
	order         binary.ByteOrder
	sectionLength int64
	sectionOpts   []Option
	defaultRes    time.Duration
	interfaces    map[uint32]*interfaceWriterInfo
	nextInterface uint32
	closer        io.Closer
	major         uint16
	minor         uint16
}

type interfaceWriterInfo struct {
	linkType uint16
	snapLen  uint32
	tsRes    time.Duration
}

// NewWriter 立即写出 SHB。默认小端、微秒精度。
func NewWriter(w io.Writer, opts ...WriterOption) (*Writer, error) {
	cfg := writerConfig{
		byteOrder:     binary.LittleEndian,
		major:         1,
		minor:         0,
		sectionLength: -1,
		defaultRes:    time.Microsecond,
	}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	writer := &Writer{
		w:             w,
		order:         cfg.byteOrder,
		sectionLength: cfg.sectionLength,
		sectionOpts:   append([]Option(nil), cfg.sectionOpts...),
		defaultRes:    cfg.defaultRes,
		interfaces:    make(map[uint32]*interfaceWriterInfo),
		major:         cfg.major,
		minor:         cfg.minor,
	}
	if closer, ok := w.(io.Closer); ok {
		writer.closer = closer
	}
	if cfg.bufferSize > 0 {
		writer.buf = bufio.NewWriterSize(w, cfg.bufferSize)
		writer.w = writer.buf
	}
	if err := writer.writeSectionHeader(); err != nil {
		return nil, err
	}
	return writer, nil
}

// CreateFile 创建 pcapng 文件，Close 会一并关闭文件。
func CreateFile(path string, opts ...WriterOption) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, gerr.External("pcapng.CreateFile", err)
	}
	w, err := NewWriter(f, opts...)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

// ByteOrder 返回 Section 使用的字节序，构造 FlagsOption 时需要。
func (w *Writer) ByteOrder() binary.ByteOrder {
	return w.order
}

func (w *Writer) writeSectionHeader() error {
	options := encodeOptions(w.sectionOpts, w.order)
	totalLength := uint32(8 + 4 + 2 + 2 + 8 + len(options) + 4)

	var buf bytes.Buffer
	putUint32(&buf, w.order, uint32(SectionHeaderBlockType))
	putUint32(&buf, w.order, totalLength)
	putUint32(&buf, w.order, ByteOrderMagic)
	putUint16(&buf, w.order, w.major)
	putUint16(&buf, w.order, w.minor)

	sectionLength := uint64(0xFFFFFFFFFFFFFFFF)
	if w.sectionLength >= 0 {
		sectionLength = uint64(w.sectionLength)
	}
	putUint64(&buf, w.order, sectionLength)
	buf.Write(options)
	putUint32(&buf, w.order, totalLength)

	_, err := w.w.Write(buf.Bytes())
	return gerr.External("pcapng.NewWriter", err)
}

// AddInterface 写出 IDB 并返回接口编号，编号从 0 开始依次分配。
func (w *Writer) AddInterface(linkType uint16, snapLen uint32, opts ...InterfaceOption) (uint32, error) {
	cfg := interfaceConfig{}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return 0, err
		}
	}

	tsRes := cfg.tsResolution
	if tsRes == 0 {
		tsRes = w.defaultRes
	}
	options := append([]Option(nil), cfg.options...)
	if tsRes != time.Microsecond {
		value, err := encodeTimestampResolution(tsRes)
		if err != nil {
			return 0, err
		}
		options = append(options, Option{Code: optIfTsResol, Value: []byte{value}})
	}

	block := &InterfaceDescriptionBlock{
		BlockHeader: BlockHeader{Type: InterfaceDescriptionBlockType},
		LinkType:    linkType,
		SnapLen:     snapLen,
		Options:     options,
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writeInterfaceBlock(block); err != nil {
		return 0, err
	}
	id := w.nextInterface
	w.nextInterface++
	w.interfaces[id] = &interfaceWriterInfo{linkType: linkType, snapLen: snapLen, tsRes: tsRes}
	return id, nil
}

// Interfaces 返回已经声明的接口数。
func (w *Writer) Interfaces() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextInterface
}

func (w *Writer) writeInterfaceBlock(block *InterfaceDescriptionBlock) error {
	options := encodeOptions(block.Options, w.order)
	totalLength := uint32(8 + 2 + 2 + 4 + len(options) + 4)

	var buf bytes.Buffer
	putUint32(&buf, w.order, uint32(InterfaceDescriptionBlockType))
	putUint32(&buf, w.order, totalLength)
	putUint16(&buf, w.order, block.LinkType)
	putUint16(&buf, w.order, block.Reserved)
	putUint32(&buf, w.order, block.SnapLen)
	buf.Write(options)
	putUint32(&buf, w.order, totalLength)

	_, err := w.w.Write(buf.Bytes())
	return gerr.External("pcapng.AddInterface", err)
}

// WritePacket 写出 EPB。ts 为零时使用当前时间，超过 snaplen 的部分被截断。
func (w *Writer) WritePacket(interfaceID uint32, data []byte, ts time.Time, opts ...Option) error {
	const op = "pcapng.WritePacket"
	w.mu.Lock()
	defer w.mu.Unlock()

	info, ok := w.interfaces[interfaceID]
	if !ok {
		return gerr.InvalidState(op, "%v %d", ErrUnknownInterface, interfaceID)
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	high, low, err := encodeTimestamp(ts.UTC(), info.tsRes)
	if err != nil {
		return err
	}

	origLen := uint32(len(data))
	capturedLen := origLen
	if info.snapLen > 0 && capturedLen > info.snapLen {
		capturedLen = info.snapLen
	}
	padding := (4 - capturedLen%4) % 4
	options := encodeOptions(opts, w.order)
	totalLength := uint32(8+20+len(options)+4) + capturedLen + padding

	var buf bytes.Buffer
	putUint32(&buf, w.order, uint32(EnhancedPacketBlockType))
	putUint32(&buf, w.order, totalLength)
	putUint32(&buf, w.order, interfaceID)
	putUint32(&buf, w.order, high)
	putUint32(&buf, w.order, low)
	putUint32(&buf, w.order, capturedLen)
	putUint32(&buf, w.order, origLen)
	buf.Write(data[:capturedLen])
	buf.Write(make([]byte, padding))
	buf.Write(options)
	putUint32(&buf, w.order, totalLength)

	_, err = w.w.Write(buf.Bytes())
	return gerr.External(op, err)
}

func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf == nil {
		return nil
	}
	return gerr.External("pcapng.Flush", w.buf.Flush())
}

func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	if w.closer != nil {
		return gerr.External("pcapng.Close", w.closer.Close())
	}
	return nil
}

// encodeOptions 在非空选项后追加 opt_endofopt。
func encodeOptions(options []Option, order binary.ByteOrder) []byte {
	if len(options) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, opt := range options {
		putUint16(&buf, order, opt.Code)
		putUint16(&buf, order, uint16(len(opt.Value)))
		buf.Write(opt.Value)
		buf.Write(make([]byte, (4-len(opt.Value)%4)%4))
	}
	putUint16(&buf, order, 0)
	putUint16(&buf, order, 0)
	return buf.Bytes()
}

func encodeTimestampResolution(d time.Duration) (byte, error) {
	switch d {
	case time.Nanosecond:
		return 9, nil
	case time.Microsecond:
		return 6, nil
	}
	return 0, gerr.InvalidState("pcapng.encodeTimestampResolution", "unsupported timestamp resolution %s", d)
}

func encodeTimestamp(ts time.Time, resolution time.Duration) (uint32, uint32, error) {
	var value uint64
	switch resolution {
	case time.Nanosecond:
		value = uint64(ts.Unix())*1_000_000_000 + uint64(ts.Nanosecond())
	case time.Microsecond:
		value = uint64(ts.Unix())*1_000_000 + uint64(ts.Nanosecond()/1000)
	default:
		return 0, 0, gerr.InvalidState("pcapng.WritePacket", "unsupported timestamp resolution %s", resolution)
	}
	return uint32(value >> 32), uint32(value), nil
}

func putUint16(buf *bytes.Buffer, order binary.ByteOrder, value uint16) {
	var tmp [2]byte
	order.PutUint16(tmp[:], value)
	buf.Write(tmp[:])
}

func putUint32(buf *bytes.Buffer, order binary.ByteOrder, value uint32) {
	var tmp [4]byte
	order.PutUint32(tmp[:], value)
	buf.Write(tmp[:])
}

func putUint64(buf *bytes.Buffer, order binary.ByteOrder, value uint64) {
	var tmp [8]byte
	order.PutUint64(tmp[:], value)
	buf.Write(tmp[:])
}

type InterfaceOption func(*interfaceConfig) error

type interfaceConfig struct {
	options      []Option
	tsResolution time.Duration
}

// WithInterfaceName 写入 if_name 选项。
func WithInterfaceName(name string) InterfaceOption {
	return func(cfg *interfaceConfig) error {
		cfg.options = append(cfg.options, Option{Code: optIfName, Value: []byte(name)})
		return nil
	}
}

func WithInterfaceTimestampResolution(res time.Duration) InterfaceOption {
	return func(cfg *interfaceConfig) error {
		if _, err := encodeTimestampResolution(res); err != nil {
			return err
		}
		cfg.tsResolution = res
		return nil
	}
}

func WithByteOrder(order binary.ByteOrder) WriterOption {
	return func(cfg *writerConfig) error {
		if order != binary.BigEndian && order != binary.LittleEndian {
			return gerr.InvalidState("pcapng.WithByteOrder", "unsupported byte order")
		}
		cfg.byteOrder = order
		return nil
	}
}

// WithApplication 在 SHB 中写入 shb_userappl 选项。
func WithApplication(name string) WriterOption {
	return func(cfg *writerConfig) error {
		cfg.sectionOpts = append(cfg.sectionOpts, Option{Code: optSHBUserAppl, Value: []byte(name)})
		return nil
	}
}

func WithDefaultTimestampResolution(res time.Duration) WriterOption {
	return func(cfg *writerConfig) error {
		if _, err := encodeTimestampResolution(res); err != nil {
			return err
		}
		cfg.defaultRes = res
		return nil
	}
}

// WithBuffer 启用带缓冲写入以减少系统调用。
func WithBuffer(size int) WriterOption {
	return func(cfg *writerConfig) error {
		if size <= 0 {
			return gerr.InvalidState("pcapng.WithBuffer", "buffer size must be positive")
		}
		cfg.bufferSize = size
		return nil
	}
}
