package divert

import (
	"context"
	"errors"
	"io"

	"go.opentelemetry.io/otel/metric"

	"github.com/sofiworker/gdivert/gerr"
	"github.com/sofiworker/gdivert/glog"
	"github.com/sofiworker/gdivert/gnet/packet"
)

// Verdict 是处理函数对一个数据包的决定。
type Verdict uint8

const (
	VerdictAccept Verdict = iota
	VerdictDrop
)

func (v Verdict) String() string {
	if v == VerdictDrop {
		return "DROP"
	}
	return "ACCEPT"
}

// HandlerFunc 可以原地修改数据包。返回错误时该数据包被跳过，不会重新注入。
type HandlerFunc func(ctx context.Context, p *packet.Packet) (Verdict, error)

type runConfig struct {
	helper       packet.ChecksumHelper
	checksumOpts []packet.ChecksumOption
	logger       glog.GLogger
	meter        metric.Meter
	stats        *Stats
}

type RunOption func(*runConfig)

// WithChecksums 在重新注入前用 helper 重算校验和。
func WithChecksums(helper packet.ChecksumHelper, opts ...packet.ChecksumOption) RunOption {
	return func(c *runConfig) {
		c.helper = helper
		c.checksumOpts = opts
	}
}

func WithRunLogger(l glog.GLogger) RunOption {
	return func(c *runConfig) { c.logger = l }
}

func WithMeter(m metric.Meter) RunOption {
	return func(c *runConfig) { c.meter = m }
}

// WithStats 让调用方在运行中读取计数。
func WithStats(s *Stats) RunOption {
	return func(c *runConfig) { c.stats = s }
}

// Run 循环接收数据包并交给 fn，接受的数据包重新注入（SNIFF 模式下只观察）。
// 句柄未打开时由 Run 打开并在返回前关闭。ctx 取消或输入结束时返回 nil。
func Run(ctx context.Context, h Handle, fn HandlerFunc, opts ...RunOption) error {
	if h == nil || fn == nil {
		return gerr.InvalidState("divert.Run", "handle and handler are required")
	}
	cfg := runConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = glog.Named("divert")
	}
	if cfg.stats == nil {
		cfg.stats = &Stats{}
	}
	m, err := newMetrics(cfg.meter)
	if err != nil {
		return gerr.External("divert.Run", err)
	}

	if !h.IsOpen() {
		if err := h.Open(ctx); err != nil {
			return err
		}
		defer func() {
			if err := h.Close(); err != nil {
				cfg.logger.Warn("close handle", "error", err)
			}
		}()
	}

	log := cfg.logger
	sniff := h.Options().Flags.Has(FlagSniff)
	defer func() {
		s := cfg.stats.Snapshot()
		log.Info("divert loop stopped",
			"received", s.Received, "accepted", s.Accepted, "dropped", s.Dropped,
			"reinjected", s.Reinjected, "errors", s.Errors)
	}()

	for {
		p, err := h.Recv(ctx)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), ctx.Err() != nil:
			return nil
		case gerr.KindOf(err) == gerr.KindOutOfRange:
			cfg.stats.Errors.Add(1)
			m.addError(ctx, "recv")
			log.WarnContext(ctx, "packet skipped", "error", err)
			continue
		default:
			return err
		}

		cfg.stats.Received.Add(1)
		m.addReceived(ctx, p)

		verdict, err := fn(ctx, p)
		if err != nil {
			cfg.stats.Errors.Add(1)
			m.addError(ctx, "handler")
			log.ErrorContext(ctx, "handler failed", "packet", p.String(), "error", err)
			continue
		}
		if verdict == VerdictDrop {
			cfg.stats.Dropped.Add(1)
			m.addDropped(ctx, p)
			continue
		}
		cfg.stats.Accepted.Add(1)
		if sniff {
			continue
		}

		var n int
		if cfg.helper != nil {
			n, err = SendRecalculated(ctx, h, p, cfg.helper, cfg.checksumOpts...)
		} else {
			n, err = h.Send(ctx, p)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			cfg.stats.Errors.Add(1)
			m.addError(ctx, "send")
			log.ErrorContext(ctx, "reinject failed", "error", err)
			continue
		}
		cfg.stats.Reinjected.Add(1)
		cfg.stats.Bytes.Add(uint64(n))
		m.addReinjected(ctx, p, n)
	}
}
