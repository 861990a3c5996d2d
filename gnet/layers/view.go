package layers

import (
	"sync"

	"golang.org/x/exp/constraints"

	"github.com/sofiworker/gdivert/gerr"
)

// Buffer 是同一数据包内所有头视图共享的底层存储。
// Buffer 不拷贝传入的切片，也从不改变其长度。
// 单次读写在内部互斥；跨多个字段的读改写需要调用方自行加锁。
type Buffer struct {
	mu   sync.Mutex
	data []byte
}

func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Len 返回物理容量。
func (b *Buffer) Len() int {
	return len(b.data)
}

// Bytes 返回当前内容的拷贝。
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.data...)
}

// View 返回以 start 为起点的视图。
func (b *Buffer) View(start int) ByteView {
	return ByteView{buf: b, start: start}
}

// ByteView 是 Buffer 上的一个大端视图。
// 除特别说明外，所有偏移都是相对整个 Buffer 的绝对偏移；start 只记录头的起点。
type ByteView struct {
	buf   *Buffer
	start int
}

func (v ByteView) Start() int {
	return v.start
}

// Cap 返回底层 Buffer 的物理容量。
func (v ByteView) Cap() int {
	return v.buf.Len()
}

// Duplicate 返回指向同一存储、起点独立的新视图。
func (v ByteView) Duplicate(start int) ByteView {
	return ByteView{buf: v.buf, start: start}
}

func (v ByteView) check(op string, offset, length int) error {
	if offset < 0 || length < 0 || offset+length > len(v.buf.data) {
		return gerr.OutOfRange(op, "offset %d length %d exceeds capacity %d", offset, length, len(v.buf.data))
	}
	return nil
}

func checkWidth(op string, width int) error {
	switch width {
	case 1, 2, 4:
		return nil
	}
	return gerr.InvalidState(op, "unsupported field width %d", width)
}

// Get 读取 offset 处 width(1/2/4) 字节的无符号大端整数。
func (v ByteView) Get(offset, width int) (uint32, error) {
	if err := checkWidth("layers.Get", width); err != nil {
		return 0, err
	}
	if err := v.check("layers.Get", offset, width); err != nil {
		return 0, err
	}
	v.buf.mu.Lock()
	defer v.buf.mu.Unlock()
	return readBE[uint32](v.buf.data[offset : offset+width]), nil
}

// Set 以大端写入 value 的低 width 字节。
func (v ByteView) Set(offset, width int, value uint32) error {
	if err := checkWidth("layers.Set", width); err != nil {
		return err
	}
	if err := v.check("layers.Set", offset, width); err != nil {
		return err
	}
	v.buf.mu.Lock()
	defer v.buf.mu.Unlock()
	writeBE(v.buf.data[offset:offset+width], value)
	return nil
}

// Flag 读取 offset 字节中的第 bit 位，0 为最低位。
func (v ByteView) Flag(offset, bit int) (bool, error) {
	if bit < 0 || bit > 7 {
		return false, gerr.OutOfRange("layers.Flag", "bit position %d", bit)
	}
	if err := v.check("layers.Flag", offset, 1); err != nil {
		return false, err
	}
	return v.bit(offset, bit), nil
}

func (v ByteView) SetFlag(offset, bit int, on bool) error {
	if bit < 0 || bit > 7 {
		return gerr.OutOfRange("layers.SetFlag", "bit position %d", bit)
	}
	if err := v.check("layers.SetFlag", offset, 1); err != nil {
		return err
	}
	v.setBit(offset, bit, on)
	return nil
}

// Bytes 拷贝出 [offset, offset+length)。
func (v ByteView) Bytes(offset, length int) ([]byte, error) {
	if err := v.check("layers.Bytes", offset, length); err != nil {
		return nil, err
	}
	v.buf.mu.Lock()
	defer v.buf.mu.Unlock()
	return append([]byte(nil), v.buf.data[offset:offset+length]...), nil
}

// SetBytes 把 data 的前 length 字节写入 offset。
// 允许越过当前头长度，但不允许越过物理容量。
func (v ByteView) SetBytes(offset, length int, data []byte) error {
	if length > len(data) {
		return gerr.OutOfRange("layers.SetBytes", "length %d exceeds data size %d", length, len(data))
	}
	if err := v.check("layers.SetBytes", offset, length); err != nil {
		return err
	}
	v.buf.mu.Lock()
	defer v.buf.mu.Unlock()
	copy(v.buf.data[offset:offset+length], data[:length])
	return nil
}

// 以下为头内部使用的快速路径，调用方保证偏移在构造时已校验过。

func (v ByteView) u8(offset int) uint8 {
	v.buf.mu.Lock()
	defer v.buf.mu.Unlock()
	return v.buf.data[offset]
}

func (v ByteView) u16(offset int) uint16 {
	v.buf.mu.Lock()
	defer v.buf.mu.Unlock()
	return readBE[uint16](v.buf.data[offset : offset+2])
}

func (v ByteView) u32(offset int) uint32 {
	v.buf.mu.Lock()
	defer v.buf.mu.Unlock()
	return readBE[uint32](v.buf.data[offset : offset+4])
}

func (v ByteView) putU8(offset int, value uint8) {
	v.buf.mu.Lock()
	defer v.buf.mu.Unlock()
	v.buf.data[offset] = value
}

func (v ByteView) putU16(offset int, value uint16) {
	v.buf.mu.Lock()
	defer v.buf.mu.Unlock()
	writeBE(v.buf.data[offset:offset+2], value)
}

func (v ByteView) putU32(offset int, value uint32) {
	v.buf.mu.Lock()
	defer v.buf.mu.Unlock()
	writeBE(v.buf.data[offset:offset+4], value)
}

// update 在一次加锁内对单字节做读改写，用于共享同一字节的位域。
func (v ByteView) update(offset int, fn func(uint8) uint8) {
	v.buf.mu.Lock()
	defer v.buf.mu.Unlock()
	v.buf.data[offset] = fn(v.buf.data[offset])
}

func (v ByteView) bit(offset, bit int) bool {
	return v.u8(offset)&(1<<bit) != 0
}

func (v ByteView) setBit(offset, bit int, on bool) {
	v.update(offset, func(b uint8) uint8 {
		if on {
			return b | 1<<bit
		}
		return b &^ (1 << bit)
	})
}

// readBE/writeBE 在 uint64 上移位，T 为 uint8 时也不会整体移出。
func readBE[T constraints.Unsigned](b []byte) T {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return T(v)
}

func writeBE[T constraints.Unsigned](b []byte, v T) {
	u := uint64(v)
	for i := len(b) - 1; i >= 0; i-- {
		b[i] = byte(u)
		u >>= 8
	}
}
