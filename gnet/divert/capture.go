package divert

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sofiworker/gdivert/gerr"
	"github.com/sofiworker/gdivert/gnet/packet"
	"github.com/sofiworker/gdivert/gnet/pcap"
	"github.com/sofiworker/gdivert/gnet/pcapng"
)

// captureFormat 是 PcapHandle 读写的文件格式。
type captureFormat int

const (
	formatPcap captureFormat = iota
	formatPcapNG
)

func (f captureFormat) String() string {
	if f == formatPcapNG {
		return "pcapng"
	}
	return "pcap"
}

// maxCaptureInterfaces 限制 pcapng 输出中为接口编号补齐的 IDB 数量。
const maxCaptureInterfaces = 1 << 16

var pcapngMagic = []byte{0x0A, 0x0D, 0x0D, 0x0A}

type captureRecord struct {
	data []byte
	link pcap.LinkType
	ts   time.Time
	addr packet.Address
}

type captureSource interface {
	read(def packet.Address) (*captureRecord, error)
	format() captureFormat
}

type captureSink interface {
	write(raw []byte, addr packet.Address, ts time.Time) error
}

// openCaptureSource 按前四个字节区分 pcap 与 pcapng。
func openCaptureSource(r io.Reader) (captureSource, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(pcapngMagic))
	if err != nil && len(head) == 0 {
		return nil, gerr.MalformedInput("divert.openCaptureSource", "empty capture: %v", err)
	}
	if bytes.Equal(head, pcapngMagic) {
		return &pcapngSource{r: pcapng.NewReader(br)}, nil
	}
	pr, err := pcap.NewReader(br)
	if err != nil {
		return nil, err
	}
	return &pcapSource{r: pr}, nil
}

func openCaptureFile(path string) (captureSource, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, gerr.External("divert.openCaptureFile", err)
	}
	src, err := openCaptureSource(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return src, f.Close, nil
}

// outputFormat 由扩展名决定，其余情况沿用输入格式。
func outputFormat(path string, in captureFormat) captureFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pcapng":
		return formatPcapNG
	case ".pcap":
		return formatPcap
	}
	return in
}

type pcapSource struct {
	r *pcap.Reader
}

func (s *pcapSource) format() captureFormat { return formatPcap }

func (s *pcapSource) read(def packet.Address) (*captureRecord, error) {
	rec, err := s.r.ReadPacket()
	if err != nil {
		return nil, err
	}
	return &captureRecord{data: rec.Data, link: s.r.LinkType(), ts: rec.Timestamp, addr: def}, nil
}

// pcapngSource 把 EPB 的接口编号映射为 IfIdx，epb_flags 的方向映射为 Direction。
type pcapngSource struct {
	r *pcapng.Reader
}

func (s *pcapngSource) format() captureFormat { return formatPcapNG }

func (s *pcapngSource) read(def packet.Address) (*captureRecord, error) {
	rec, err := s.r.ReadPacket()
	if err != nil {
		return nil, err
	}
	addr := def
	addr.IfIdx = rec.InterfaceID
	switch rec.Direction {
	case pcapng.DirectionInbound:
		addr.Direction = packet.Inbound
	case pcapng.DirectionOutbound:
		addr.Direction = packet.Outbound
	}
	return &captureRecord{data: rec.Data, link: pcap.LinkType(rec.LinkType), ts: rec.Timestamp, addr: addr}, nil
}

type pcapSink struct {
	w *pcap.Writer
}

func (s *pcapSink) write(raw []byte, _ packet.Address, ts time.Time) error {
	return s.w.WritePacketData(raw, ts)
}

// pcapngSink 为每个 IfIdx 声明一个 LinkTypeRaw 接口，并记录方向。
type pcapngSink struct {
	w *pcapng.Writer
}

func newPcapNGSink(w io.Writer, opts ...pcapng.WriterOption) (*pcapngSink, error) {
	opts = append([]pcapng.WriterOption{
		pcapng.WithApplication("gdivert"),
		pcapng.WithDefaultTimestampResolution(time.Nanosecond),
	}, opts...)
	nw, err := pcapng.NewWriter(w, opts...)
	if err != nil {
		return nil, err
	}
	return &pcapngSink{w: nw}, nil
}

func (s *pcapngSink) ensureInterface(idx uint32) error {
	if idx >= maxCaptureInterfaces {
		return gerr.OutOfRange("divert.pcapngSink", "interface index %d exceeds %d", idx, maxCaptureInterfaces-1)
	}
	for s.w.Interfaces() <= idx {
		if _, err := s.w.AddInterface(uint16(pcap.LinkTypeRaw), 0); err != nil {
			return err
		}
	}
	return nil
}

func (s *pcapngSink) write(raw []byte, addr packet.Address, ts time.Time) error {
	if err := s.ensureInterface(addr.IfIdx); err != nil {
		return err
	}
	dir := pcapng.DirectionOutbound
	if addr.Direction == packet.Inbound {
		dir = pcapng.DirectionInbound
	}
	return s.w.WritePacket(addr.IfIdx, raw, ts, pcapng.FlagsOption(s.w.ByteOrder(), dir))
}
