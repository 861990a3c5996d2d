package divert

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/sofiworker/gdivert/gnet/packet"
)

const instrumentationName = "github.com/sofiworker/gdivert/gnet/divert"

// Stats 是 Run 的进程内计数，可以在运行中并发读取。
type Stats struct {
	Received   atomic.Uint64
	Accepted   atomic.Uint64
	Dropped    atomic.Uint64
	Reinjected atomic.Uint64
	Bytes      atomic.Uint64
	Errors     atomic.Uint64
}

// StatsSnapshot 是 Stats 某一时刻的拷贝。
type StatsSnapshot struct {
	Received   uint64
	Accepted   uint64
	Dropped    uint64
	Reinjected uint64
	Bytes      uint64
	Errors     uint64
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Received:   s.Received.Load(),
		Accepted:   s.Accepted.Load(),
		Dropped:    s.Dropped.Load(),
		Reinjected: s.Reinjected.Load(),
		Bytes:      s.Bytes.Load(),
		Errors:     s.Errors.Load(),
	}
}

type metrics struct {
	received   metric.Int64Counter
	dropped    metric.Int64Counter
	reinjected metric.Int64Counter
	bytes      metric.Int64Counter
	errors     metric.Int64Counter
}

// newMetrics 在 meter 为 nil 时使用全局 MeterProvider，未配置 SDK 时为空操作。
func newMetrics(meter metric.Meter) (*metrics, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	m := &metrics{}
	var err error
	if m.received, err = meter.Int64Counter("divert.packets.received",
		metric.WithDescription("Packets returned by Recv"), metric.WithUnit("{packet}")); err != nil {
		return nil, err
	}
	if m.dropped, err = meter.Int64Counter("divert.packets.dropped",
		metric.WithDescription("Packets the handler decided to drop"), metric.WithUnit("{packet}")); err != nil {
		return nil, err
	}
	if m.reinjected, err = meter.Int64Counter("divert.packets.reinjected",
		metric.WithDescription("Packets sent back through the handle"), metric.WithUnit("{packet}")); err != nil {
		return nil, err
	}
	if m.bytes, err = meter.Int64Counter("divert.bytes.reinjected",
		metric.WithDescription("Bytes sent back through the handle"), metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if m.errors, err = meter.Int64Counter("divert.errors",
		metric.WithDescription("Receive, handler and send failures"), metric.WithUnit("{error}")); err != nil {
		return nil, err
	}
	return m, nil
}

func packetAttrs(p *packet.Packet) metric.MeasurementOption {
	proto := "other"
	if next := p.NextHeader(); next != nil {
		proto = next.LayerType().String()
	}
	return metric.WithAttributes(
		attribute.String("direction", p.Direction().String()),
		attribute.String("network", p.NetworkHeader().LayerType().String()),
		attribute.String("protocol", proto),
	)
}

func stageAttrs(stage string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("stage", stage))
}

func (m *metrics) addReceived(ctx context.Context, p *packet.Packet) {
	m.received.Add(ctx, 1, packetAttrs(p))
}

func (m *metrics) addDropped(ctx context.Context, p *packet.Packet) {
	m.dropped.Add(ctx, 1, packetAttrs(p))
}

func (m *metrics) addReinjected(ctx context.Context, p *packet.Packet, n int) {
	attrs := packetAttrs(p)
	m.reinjected.Add(ctx, 1, attrs)
	m.bytes.Add(ctx, int64(n), attrs)
}

func (m *metrics) addError(ctx context.Context, stage string) {
	m.errors.Add(ctx, 1, stageAttrs(stage))
}
