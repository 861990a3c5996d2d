package pcapng

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"time"

	"github.com/sofiworker/gdivert/gerr"
)

type Reader struct {
	r             io.Reader
	order         binary.ByteOrder
	section       *SectionHeaderBlock
	interfaces    map[uint32]*interfaceInfo
	nextInterface uint32
	defaultRes    time.Duration
}

type interfaceInfo struct {
	block *InterfaceDescriptionBlock
	tsRes time.Duration
}

// Packet 是从 EPB 或 SPB 读出的一条记录。
type Packet struct {
	InterfaceID uint32
	LinkType    uint16
	Direction   Direction
	Data        []byte
	Timestamp   time.Time
	CapturedLen uint32
	OriginalLen uint32
	Options     []Option
}

func NewReader(r io.Reader) *Reader {
	return &Reader{
		r:          r,
		interfaces: make(map[uint32]*interfaceInfo),
		defaultRes: time.Microsecond,
	}
}

// OpenFile 打开 pcapng 文件，返回的关闭函数负责释放文件。
func OpenFile(path string) (*Reader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, gerr.External("pcapng.OpenFile", err)
	}
	return NewReader(f), f.Close, nil
}

func (r *Reader) CurrentSection() *SectionHeaderBlock {
	return r.section
}

// Interface 返回当前 Section 中编号为 id 的接口描述。
func (r *Reader) Interface(id uint32) (*InterfaceDescriptionBlock, bool) {
	info, ok := r.interfaces[id]
	if !ok {
		return nil, false
	}
	return info.block, true
}

// NextBlock 在文件结束时返回 io.EOF。不认识的块以 *RawBlock 返回。
func (r *Reader) NextBlock() (Block, error) {
	const op = "pcapng.NextBlock"
	var hdr [8]byte
	if _, err := io.ReadFull(r.r, hdr[:]); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return nil, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return nil, malformed(op, ErrInvalidBlockLength)
		}
		return nil, gerr.External(op, err)
	}

	// SHB 的类型码是回文，与字节序无关。
	blockType := BlockType(binary.LittleEndian.Uint32(hdr[0:4]))
	if r.order != nil {
		blockType = BlockType(r.order.Uint32(hdr[0:4]))
	}
	if r.order == nil && blockType != SectionHeaderBlockType {
		return nil, malformed(op, ErrInvalidSection)
	}

	switch blockType {
	case SectionHeaderBlockType:
		var bom [4]byte
		if _, err := io.ReadFull(r.r, bom[:]); err != nil {
			return nil, malformed(op, ErrInvalidSection)
		}
		var order binary.ByteOrder
		switch {
		case binary.LittleEndian.Uint32(bom[:]) == ByteOrderMagic:
			order = binary.LittleEndian
		case binary.BigEndian.Uint32(bom[:]) == ByteOrderMagic:
			order = binary.BigEndian
		default:
			return nil, malformed(op, ErrInvalidSection)
		}

		totalLength := order.Uint32(hdr[4:8])
		body, err := r.readBody(totalLength, order, bom[:])
		if err != nil {
			return nil, err
		}
		block, err := parseSectionHeaderBlock(totalLength, order, body)
		if err != nil {
			return nil, err
		}

		r.order = order
		r.section = block
		r.interfaces = make(map[uint32]*interfaceInfo)
		r.nextInterface = 0
		return block, nil

	case InterfaceDescriptionBlockType:
		totalLength := r.order.Uint32(hdr[4:8])
		body, err := r.readBody(totalLength, r.order, nil)
		if err != nil {
			return nil, err
		}
		block, err := parseInterfaceDescriptionBlock(totalLength, r.order, body)
		if err != nil {
			return nil, err
		}

		block.ID = r.nextInterface
		r.nextInterface++
		tsRes := extractTimestampResolution(block.Options)
		if tsRes == 0 {
			tsRes = r.defaultRes
		}
		r.interfaces[block.ID] = &interfaceInfo{block: block, tsRes: tsRes}
		return block, nil

	case EnhancedPacketBlockType:
		totalLength := r.order.Uint32(hdr[4:8])
		body, err := r.readBody(totalLength, r.order, nil)
		if err != nil {
			return nil, err
		}
		return parseEnhancedPacketBlock(totalLength, r.order, body)

	case SimplePacketBlockType:
		totalLength := r.order.Uint32(hdr[4:8])
		body, err := r.readBody(totalLength, r.order, nil)
		if err != nil {
			return nil, err
		}
		return r.parseSimplePacketBlock(totalLength, body)

	default:
		totalLength := r.order.Uint32(hdr[4:8])
		body, err := r.readBody(totalLength, r.order, nil)
		if err != nil {
			return nil, err
		}
		return &RawBlock{
			BlockHeader: BlockHeader{Type: blockType, TotalLength: totalLength},
			Body:        body[:len(body)-4],
		}, nil
	}
}

// ReadPacket 跳过非数据包块，返回下一条记录；文件结束时返回 io.EOF。
func (r *Reader) ReadPacket() (*Packet, error) {
	for {
		block, err := r.NextBlock()
		if err != nil {
			return nil, err
		}

		switch b := block.(type) {
		case *EnhancedPacketBlock:
			info, ok := r.interfaces[b.InterfaceID]
			if !ok {
				return nil, gerr.MalformedInput("pcapng.ReadPacket", "%v %d", ErrUnknownInterface, b.InterfaceID)
			}
			return &Packet{
				InterfaceID: b.InterfaceID,
				LinkType:    info.block.LinkType,
				Direction:   directionOf(r.order, b.Options),
				Data:        b.PacketData,
				Timestamp:   b.Timestamp(info.tsRes),
				CapturedLen: b.CapturedLen,
				OriginalLen: b.OriginalLen,
				Options:     b.Options,
			}, nil
		case *SimplePacketBlock:
			info := r.interfaces[0]
			return &Packet{
				LinkType:    info.block.LinkType,
				Data:        b.PacketData,
				CapturedLen: uint32(len(b.PacketData)),
				OriginalLen: b.OriginalLen,
			}, nil
		}
	}
}

// readBody 读出块头之后的全部内容，包括结尾重复的总长度。
func (r *Reader) readBody(totalLength uint32, order binary.ByteOrder, prefix []byte) ([]byte, error) {
	const op = "pcapng.readBody"
	if totalLength < 12 || totalLength%4 != 0 {
		return nil, malformed(op, ErrInvalidBlockLength)
	}
	bodyLen := int(totalLength) - 8
	if bodyLen < len(prefix) {
		return nil, malformed(op, ErrInvalidBlockLength)
	}
	body := make([]byte, bodyLen)
	copy(body, prefix)
	if _, err := io.ReadFull(r.r, body[len(prefix):]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, malformed(op, ErrInvalidBlockLength)
		}
		return nil, gerr.External(op, err)
	}
	if order.Uint32(body[len(body)-4:]) != totalLength {
		return nil, malformed(op, ErrInvalidBlockLength)
	}
	return body, nil
}

func parseSectionHeaderBlock(totalLength uint32, order binary.ByteOrder, body []byte) (*SectionHeaderBlock, error) {
	const op = "pcapng.parseSectionHeaderBlock"
	if len(body) < 20 {
		return nil, malformed(op, ErrInvalidBlockLength)
	}
	payload := body[:len(body)-4]
	options, err := parseOptions(payload[16:], order)
	if err != nil {
		return nil, err
	}
	return &SectionHeaderBlock{
		BlockHeader:   BlockHeader{Type: SectionHeaderBlockType, TotalLength: totalLength},
		ByteOrder:     order,
		MajorVersion:  order.Uint16(payload[4:6]),
		MinorVersion:  order.Uint16(payload[6:8]),
		SectionLength: int64(order.Uint64(payload[8:16])),
		Options:       options,
	}, nil
}

func parseInterfaceDescriptionBlock(totalLength uint32, order binary.ByteOrder, body []byte) (*InterfaceDescriptionBlock, error) {
	payload := body[:len(body)-4]
	if len(payload) < 8 {
		return nil, malformed("pcapng.parseInterfaceDescriptionBlock", ErrInvalidBlockLength)
	}
	options, err := parseOptions(payload[8:], order)
	if err != nil {
		return nil, err
	}
	return &InterfaceDescriptionBlock{
		BlockHeader: BlockHeader{Type: InterfaceDescriptionBlockType, TotalLength: totalLength},
		LinkType:    order.Uint16(payload[0:2]),
		Reserved:    order.Uint16(payload[2:4]),
		SnapLen:     order.Uint32(payload[4:8]),
		Options:     options,
	}, nil
}

func parseEnhancedPacketBlock(totalLength uint32, order binary.ByteOrder, body []byte) (*EnhancedPacketBlock, error) {
	const op = "pcapng.parseEnhancedPacketBlock"
	payload := body[:len(body)-4]
	if len(payload) < 20 {
		return nil, malformed(op, ErrInvalidBlockLength)
	}

	epb := &EnhancedPacketBlock{
		BlockHeader:   BlockHeader{Type: EnhancedPacketBlockType, TotalLength: totalLength},
		InterfaceID:   order.Uint32(payload[0:4]),
		TimestampHigh: order.Uint32(payload[4:8]),
		TimestampLow:  order.Uint32(payload[8:12]),
		CapturedLen:   order.Uint32(payload[12:16]),
		OriginalLen:   order.Uint32(payload[16:20]),
	}

	offset := 20
	if int(epb.CapturedLen) > len(payload)-offset {
		return nil, malformed(op, ErrInvalidBlockLength)
	}
	epb.PacketData = append([]byte(nil), payload[offset:offset+int(epb.CapturedLen)]...)
	offset += int(epb.CapturedLen)

	padding := int((4 - epb.CapturedLen%4) % 4)
	if offset+padding > len(payload) {
		return nil, malformed(op, ErrInvalidBlockLength)
	}
	offset += padding

	options, err := parseOptions(payload[offset:], order)
	if err != nil {
		return nil, err
	}
	epb.Options = options
	return epb, nil
}

// parseSimplePacketBlock 的捕获长度取原始长度与接口 snaplen 中较小者。
func (r *Reader) parseSimplePacketBlock(totalLength uint32, body []byte) (*SimplePacketBlock, error) {
	const op = "pcapng.parseSimplePacketBlock"
	payload := body[:len(body)-4]
	if len(payload) < 4 {
		return nil, malformed(op, ErrInvalidBlockLength)
	}
	info, ok := r.interfaces[0]
	if !ok {
		return nil, gerr.MalformedInput(op, "%v 0", ErrUnknownInterface)
	}
	orig := r.order.Uint32(payload[0:4])
	captured := int(orig)
	if info.block.SnapLen > 0 && captured > int(info.block.SnapLen) {
		captured = int(info.block.SnapLen)
	}
	if captured > len(payload)-4 {
		return nil, malformed(op, ErrInvalidBlockLength)
	}
	return &SimplePacketBlock{
		BlockHeader: BlockHeader{Type: SimplePacketBlockType, TotalLength: totalLength},
		OriginalLen: orig,
		PacketData:  append([]byte(nil), payload[4:4+captured]...),
	}, nil
}

func parseOptions(data []byte, order binary.ByteOrder) ([]Option, error) {
	const op = "pcapng.parseOptions"
	var options []Option
	for len(data) >= 4 {
		code := order.Uint16(data[0:2])
		length := int(order.Uint16(data[2:4]))
		data = data[4:]
		if code == 0 {
			break
		}
		padded := length + (4-length%4)%4
		if padded > len(data) {
			return nil, malformed(op, ErrInvalidBlockLength)
		}
		options = append(options, Option{Code: code, Value: append([]byte(nil), data[:length]...)})
		data = data[padded:]
	}
	return options, nil
}

func extractTimestampResolution(options []Option) time.Duration {
	for _, opt := range options {
		if opt.Code == optIfTsResol && len(opt.Value) > 0 {
			return parseTimestampResolution(opt.Value[0])
		}
	}
	return 0
}

// parseTimestampResolution 最高位为 0 时是 10 的负幂，否则是 2 的负幂。
func parseTimestampResolution(raw byte) time.Duration {
	if raw&0x80 == 0 {
		power := int(raw)
		if power > 9 {
			return time.Microsecond
		}
		divisor := int64(1)
		for i := 0; i < power; i++ {
			divisor *= 10
		}
		return time.Second / time.Duration(divisor)
	}
	power := int(raw & 0x7f)
	if power > 30 {
		return time.Microsecond
	}
	return time.Second / time.Duration(int64(1)<<power)
}
