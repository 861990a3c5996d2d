package divert

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/sofiworker/gdivert/gerr"
	"github.com/sofiworker/gdivert/glog"
	"github.com/sofiworker/gdivert/gnet/checksum"
	"github.com/sofiworker/gdivert/gnet/packet"
	"github.com/sofiworker/gdivert/gnet/pcap"
)

func testLogger(t *testing.T) (glog.GLogger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l, err := glog.NewWithOptions(
		glog.WithStdout(false),
		glog.WithWriter(&buf),
		glog.WithEncoding(glog.JSONEncoding),
		glog.WithLevel(glog.DebugLevel),
	)
	require.NoError(t, err)
	return l, &buf
}

// sum16 是 RFC 1071 的反码求和，正确的校验和使结果为 0xFFFF。
func sum16(parts ...[]byte) uint16 {
	var s uint32
	for _, p := range parts {
		for i := 0; i+1 < len(p); i += 2 {
			s += uint32(p[i])<<8 | uint32(p[i+1])
		}
		if len(p)%2 == 1 {
			s += uint32(p[len(p)-1]) << 8
		}
	}
	for s > 0xFFFF {
		s = s>>16 + s&0xFFFF
	}
	return uint16(s)
}

func TestRunRewritesAndReinjects(t *testing.T) {
	in := buildPcap(t, pcap.LinkTypeRaw, ipv4TCPHex, ipv4UDPHex, ipv4ICMPHex, ipv6UDPHex)
	var out bytes.Buffer
	logger, _ := testLogger(t)
	h, err := NewPcapHandle(in, &out, WithLogger(logger))
	require.NoError(t, err)

	var stats Stats
	handler := func(ctx context.Context, p *packet.Packet) (Verdict, error) {
		switch {
		case p.IsTCP():
			return VerdictAccept, p.SetDstPort(8443)
		case p.IsUDP() && p.IsIPv6():
			return VerdictDrop, nil
		}
		return VerdictAccept, nil
	}

	err = Run(context.Background(), h, handler,
		WithChecksums(checksum.New(), packet.NoUDPChecksum),
		WithStats(&stats),
		WithRunLogger(logger),
		WithMeter(noop.NewMeterProvider().Meter("test")),
	)
	require.NoError(t, err)
	assert.False(t, h.IsOpen(), "Run closes the handle it opened")

	s := stats.Snapshot()
	assert.Equal(t, uint64(4), s.Received)
	assert.Equal(t, uint64(3), s.Accepted)
	assert.Equal(t, uint64(1), s.Dropped)
	assert.Equal(t, uint64(3), s.Reinjected)
	assert.Equal(t, uint64(81+66+84), s.Bytes)
	assert.Zero(t, s.Errors)

	written := readPcap(t, &out)
	require.Len(t, written, 3)
	tcp := written[0]
	assert.Equal(t, []byte{0x20, 0xfb}, tcp[22:24])
	assert.Equal(t, uint16(0xFFFF), sum16(tcp[:20]))
	assert.Equal(t, uint16(0xFFFF), sum16(tcp[12:20], []byte{0, 6, 0, byte(len(tcp) - 20)}, tcp[20:]))
	assert.Equal(t, fixture(ipv4UDPHex)[26:28], written[1][26:28], "UDP checksum left alone")
	assert.Equal(t, uint16(0xFFFF), sum16(written[2][20:]))
}

func TestRunHandlerErrorSkipsPacket(t *testing.T) {
	in := buildPcap(t, pcap.LinkTypeRaw, ipv4TCPHex, ipv4UDPHex)
	var out bytes.Buffer
	logger, logBuf := testLogger(t)
	h, err := NewPcapHandle(in, &out, WithLogger(logger))
	require.NoError(t, err)

	var stats Stats
	handler := func(ctx context.Context, p *packet.Packet) (Verdict, error) {
		if p.IsTCP() {
			return VerdictAccept, errors.New("boom")
		}
		return VerdictAccept, nil
	}
	require.NoError(t, Run(context.Background(), h, handler, WithStats(&stats), WithRunLogger(logger)))

	s := stats.Snapshot()
	assert.Equal(t, uint64(2), s.Received)
	assert.Equal(t, uint64(1), s.Errors)
	assert.Equal(t, uint64(1), s.Reinjected)
	assert.Contains(t, logBuf.String(), "handler failed")

	written := readPcap(t, &out)
	require.Len(t, written, 1)
	assert.Equal(t, fixture(ipv4UDPHex), written[0])
}

func TestRunSniffDoesNotReinject(t *testing.T) {
	in := buildPcap(t, pcap.LinkTypeRaw, ipv4TCPHex, ipv4UDPHex)
	var out bytes.Buffer
	logger, _ := testLogger(t)
	h, err := NewPcapHandle(in, &out, WithFlags(FlagSniff), WithLogger(logger))
	require.NoError(t, err)

	var stats Stats
	var seen int
	handler := func(ctx context.Context, p *packet.Packet) (Verdict, error) {
		seen++
		return VerdictAccept, nil
	}
	require.NoError(t, Run(context.Background(), h, handler, WithStats(&stats), WithRunLogger(logger)))

	assert.Equal(t, 2, seen)
	assert.Zero(t, stats.Snapshot().Reinjected)
	assert.Len(t, readPcap(t, &out), 2, "sniffed packets are passed through exactly once")
}

func TestRunKeepsGoingOnOversizedPackets(t *testing.T) {
	in := buildPcap(t, pcap.LinkTypeRaw, ipv4TCPHex, ipv4UDPHex)
	logger, _ := testLogger(t)
	h, err := NewPcapHandle(in, nil, WithRecvBufferSize(70), WithLogger(logger))
	require.NoError(t, err)

	var stats Stats
	require.NoError(t, Run(context.Background(), h, func(context.Context, *packet.Packet) (Verdict, error) {
		return VerdictAccept, nil
	}, WithStats(&stats), WithRunLogger(logger)))

	s := stats.Snapshot()
	assert.Equal(t, uint64(1), s.Received)
	assert.Equal(t, uint64(1), s.Errors)
}

func TestRunStopsOnCancel(t *testing.T) {
	in := buildPcap(t, pcap.LinkTypeRaw, ipv4TCPHex, ipv4UDPHex)
	logger, _ := testLogger(t)
	h, err := NewPcapHandle(in, nil, WithLogger(logger))
	require.NoError(t, err)
	require.NoError(t, h.Open(context.Background()))
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var seen int
	err = Run(ctx, h, func(context.Context, *packet.Packet) (Verdict, error) {
		seen++
		cancel()
		return VerdictDrop, nil
	}, WithRunLogger(logger))
	require.NoError(t, err)
	assert.Equal(t, 1, seen)
	assert.True(t, h.IsOpen(), "Run leaves a handle it did not open")
}

func TestRunRequiresHandleAndHandler(t *testing.T) {
	err := Run(context.Background(), nil, nil)
	assert.Equal(t, gerr.KindInvalidState, gerr.KindOf(err))
}

func TestVerdictString(t *testing.T) {
	assert.Equal(t, "ACCEPT", VerdictAccept.String())
	assert.Equal(t, "DROP", VerdictDrop.String())
}

func TestRunCompatibilityOptionsAreInert(t *testing.T) {
	run := func(opts ...Option) []byte {
		in := buildPcap(t, pcap.LinkTypeRaw, ipv4TCPHex, ipv4UDPHex, ipv6ICMPHex)
		var out bytes.Buffer
		logger, _ := testLogger(t)
		h, err := NewPcapHandle(in, &out, append(opts, WithLogger(logger))...)
		require.NoError(t, err)
		require.NoError(t, h.Open(context.Background()))
		require.NoError(t, h.SetParam(ParamQueueTime, 2048))
		require.NoError(t, Run(context.Background(), h, func(ctx context.Context, p *packet.Packet) (Verdict, error) {
			return VerdictAccept, nil
		}))
		return out.Bytes()
	}

	plain := run()
	tuned := run(WithFlags(FlagNoChecksum), WithPriority(-1000))
	assert.Equal(t, plain, tuned)
}
