package divert

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/sofiworker/gdivert/gerr"
	"github.com/sofiworker/gdivert/glog"
	"github.com/sofiworker/gdivert/gnet/packet"
	"github.com/sofiworker/gdivert/gnet/pcap"
	"github.com/sofiworker/gdivert/gnet/pcapng"
)

// PcapHandle 在 pcap 流上模拟分流语义：
//   - 不匹配过滤器的数据包直接写到输出，相当于放行；
//   - DROP 模式下匹配的数据包被丢弃；
//   - SNIFF 模式下匹配的数据包写到输出，同时交给 Recv；
//   - 默认模式下匹配的数据包只交给 Recv，需要调用方 Send 回去。
//
// 输入可以是 pcap 或 pcapng，链路类型为原始 IP 或以太网；输出总是 LinkTypeRaw。
// pcapng 输入中 EPB 的接口编号与方向会成为数据包的 IfIdx 和 Direction，
// pcapng 输出按 IfIdx 声明接口并写回方向。输出文件以 .pcapng/.pcap 结尾时
// 按扩展名选择格式，否则与输入格式相同。
// 没有输出时 Send 只计数不写出。Close 不能与 Recv/Send 并发调用。
type PcapHandle struct {
	state

	src     io.Reader
	dst     io.Writer
	inPath  string
	outPath string

	source  captureSource
	sink    captureSink
	filter  *pcap.Filter
	closers []func() error
	lastTS  time.Time
	log     glog.GLogger
}

var _ Handle = (*PcapHandle)(nil)

// NewPcapHandle 从已打开的流创建句柄，dst 可以为 nil。
func NewPcapHandle(src io.Reader, dst io.Writer, opts ...Option) (*PcapHandle, error) {
	if src == nil {
		return nil, gerr.InvalidState("divert.NewPcapHandle", "source is nil")
	}
	return newPcapHandle(src, dst, "", "", opts)
}

// NewPcapFileHandle 在 Open 时打开 inPath，并在 outPath 非空时创建输出文件。
func NewPcapFileHandle(inPath, outPath string, opts ...Option) (*PcapHandle, error) {
	if inPath == "" {
		return nil, gerr.InvalidState("divert.NewPcapFileHandle", "input path is empty")
	}
	return newPcapHandle(nil, nil, inPath, outPath, opts)
}

func newPcapHandle(src io.Reader, dst io.Writer, inPath, outPath string, opts []Option) (*PcapHandle, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	h := &PcapHandle{src: src, dst: dst, inPath: inPath, outPath: outPath}
	h.state.init(o)
	h.log = o.Logger.With("handle", "pcap")
	return h, nil
}

func (h *PcapHandle) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := h.markOpen("divert.PcapHandle.Open"); err != nil {
		return err
	}
	if err := h.open(); err != nil {
		h.markClosed()
		_ = h.closeStreams()
		return err
	}
	h.log.Info("pcap handle opened",
		"format", h.source.format().String(),
		"flags", h.opts.Flags.String(),
		"layer", h.opts.Layer.String(),
		"priority", h.opts.Priority,
		"filter", h.opts.Filter != nil,
	)
	return nil
}

func (h *PcapHandle) open() error {
	var err error
	if h.inPath != "" {
		var closeFn func() error
		h.source, closeFn, err = openCaptureFile(h.inPath)
		if err != nil {
			return err
		}
		h.closers = append(h.closers, closeFn)
	} else if h.source, err = openCaptureSource(h.src); err != nil {
		return err
	}

	format := outputFormat(h.outPath, h.source.format())
	switch {
	case h.outPath != "" && format == formatPcapNG:
		f, err := os.Create(h.outPath)
		if err != nil {
			return gerr.External("divert.PcapHandle.Open", err)
		}
		h.closers = append(h.closers, f.Close)
		sink, err := newPcapNGSink(f, pcapng.WithBuffer(64<<10))
		if err != nil {
			return err
		}
		h.sink = sink
		h.closers = append(h.closers, sink.w.Flush)
	case h.outPath != "":
		w, err := pcap.CreateFile(h.outPath, pcap.WithLinkType(pcap.LinkTypeRaw), pcap.WithBuffer(64<<10))
		if err != nil {
			return err
		}
		h.sink = &pcapSink{w: w}
		h.closers = append(h.closers, w.Close)
	case h.dst != nil && format == formatPcapNG:
		sink, err := newPcapNGSink(h.dst)
		if err != nil {
			return err
		}
		h.sink = sink
		h.closers = append(h.closers, sink.w.Flush)
	case h.dst != nil:
		w, err := pcap.NewWriter(h.dst, pcap.WithLinkType(pcap.LinkTypeRaw))
		if err != nil {
			return err
		}
		h.sink = &pcapSink{w: w}
		h.closers = append(h.closers, w.Flush)
	}

	if h.opts.Filter != nil {
		if h.filter, err = pcap.NewFilter(h.opts.Filter); err != nil {
			return err
		}
	}
	return nil
}

// Recv 返回下一个匹配的数据包，输入结束时返回 io.EOF。
// 超过 RecvBufferSize 的数据包被消费并返回 OutOfRange。
func (h *PcapHandle) Recv(ctx context.Context) (*packet.Packet, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := h.requireOpen("divert.PcapHandle.Recv"); err != nil {
			return nil, err
		}

		rec, err := h.source.read(h.opts.Address)
		if err != nil {
			return nil, err
		}
		h.lastTS = rec.ts

		p, err := packet.FromLink(rec.data, rec.link, rec.addr)
		if err != nil {
			h.log.Debug("skip undecodable record", "len", len(rec.data), "link", rec.link.String(), "error", err)
			continue
		}

		match, err := h.filter.Match(p.Raw())
		if err != nil {
			return nil, err
		}
		if !match {
			if err := h.write(p); err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case h.opts.Flags.Has(FlagDrop):
			continue
		case h.opts.Flags.Has(FlagSniff):
			if err := h.write(p); err != nil {
				return nil, err
			}
		}

		if p.Len() > h.opts.RecvBufferSize {
			return nil, gerr.OutOfRange("divert.PcapHandle.Recv", "packet of %d bytes exceeds buffer size %d", p.Len(), h.opts.RecvBufferSize)
		}
		return p, nil
	}
}

// Send 把数据包写到输出，时间戳沿用最近读到的记录。
func (h *PcapHandle) Send(ctx context.Context, p *packet.Packet) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := h.requireOpen("divert.PcapHandle.Send"); err != nil {
		return 0, err
	}
	if p == nil {
		return 0, gerr.InvalidState("divert.PcapHandle.Send", "packet is nil")
	}
	if err := h.write(p); err != nil {
		return 0, err
	}
	return p.Len(), nil
}

func (h *PcapHandle) write(p *packet.Packet) error {
	if h.sink == nil {
		return nil
	}
	ts := h.lastTS
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return h.sink.write(p.Raw(), p.Address(), ts)
}

// Close 对未打开的句柄是空操作。
func (h *PcapHandle) Close() error {
	if !h.markClosed() {
		return nil
	}
	err := h.closeStreams()
	h.log.Info("pcap handle closed")
	return err
}

func (h *PcapHandle) closeStreams() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	h.closers = nil
	h.source, h.sink, h.filter = nil, nil, nil
	return errors.Join(errs...)
}
