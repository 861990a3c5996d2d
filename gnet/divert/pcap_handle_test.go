package divert

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sofiworker/gdivert/gerr"
	"github.com/sofiworker/gdivert/gnet/layers"
	"github.com/sofiworker/gdivert/gnet/packet"
	"github.com/sofiworker/gdivert/gnet/pcap"
	"github.com/sofiworker/gdivert/gnet/pcapng"
)

func tcpOnly(t *testing.T) Option {
	t.Helper()
	prog, err := FilterProtocols(layers.ProtocolTCP)
	require.NoError(t, err)
	return WithFilter(prog)
}

func openPcap(t *testing.T, in *bytes.Buffer, out *bytes.Buffer, opts ...Option) *PcapHandle {
	t.Helper()
	var dst io.Writer
	if out != nil {
		dst = out
	}
	h, err := NewPcapHandle(in, dst, opts...)
	require.NoError(t, err)
	require.NoError(t, h.Open(context.Background()))
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestPcapHandleLifecycle(t *testing.T) {
	ctx := context.Background()
	in := buildPcap(t, pcap.LinkTypeRaw, ipv4TCPHex)
	h, err := NewPcapHandle(in, nil)
	require.NoError(t, err)

	assert.False(t, h.IsOpen())
	_, err = h.Recv(ctx)
	assert.Equal(t, gerr.KindInvalidState, gerr.KindOf(err))
	_, err = h.Param(ParamQueueLen)
	assert.Equal(t, gerr.KindInvalidState, gerr.KindOf(err))
	assert.Equal(t, gerr.KindInvalidState, gerr.KindOf(h.SetParam(ParamQueueLen, 10)))
	assert.NoError(t, h.Close(), "closing a handle that was never opened is a no-op")

	require.NoError(t, h.Open(ctx))
	assert.True(t, h.IsOpen())
	assert.Equal(t, gerr.KindInvalidState, gerr.KindOf(h.Open(ctx)))

	v, err := h.Param(ParamQueueLen)
	require.NoError(t, err)
	assert.Equal(t, uint64(1024), v)
	v, err = h.Param(ParamQueueTime)
	require.NoError(t, err)
	assert.Equal(t, uint64(512), v)

	require.NoError(t, h.SetParam(ParamQueueTime, 2048))
	v, _ = h.Param(ParamQueueTime)
	assert.Equal(t, uint64(2048), v)
	assert.Equal(t, gerr.KindOutOfRange, gerr.KindOf(h.SetParam(ParamQueueLen, 8193)))
	v, _ = h.Param(ParamQueueLen)
	assert.Equal(t, uint64(1024), v, "rejected value must not be stored")

	require.NoError(t, h.Close())
	assert.False(t, h.IsOpen())
	assert.NoError(t, h.Close())

	p, err := packet.New(fixture(ipv4TCPHex), 2, 0, packet.Outbound)
	require.NoError(t, err)
	_, err = h.Send(ctx, p)
	assert.Equal(t, gerr.KindInvalidState, gerr.KindOf(err))
}

func TestPcapHandleDefaultMode(t *testing.T) {
	ctx := context.Background()
	in := buildPcap(t, pcap.LinkTypeRaw, ipv4TCPHex, ipv4UDPHex, ipv4ICMPHex, ipv6TCPHex)
	var out bytes.Buffer
	addr := packet.Address{IfIdx: 3, SubIfIdx: 1, Direction: packet.Inbound}
	h := openPcap(t, in, &out, tcpOnly(t), WithAddress(addr))

	p, err := h.Recv(ctx)
	require.NoError(t, err)
	assert.True(t, p.IsIPv4())
	assert.True(t, p.IsTCP())
	assert.Equal(t, addr, p.Address())

	require.NoError(t, p.SetDstPort(8443))
	n, err := h.Send(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 81, n)

	p, err = h.Recv(ctx)
	require.NoError(t, err)
	assert.True(t, p.IsIPv6())
	assert.True(t, p.IsTCP())

	_, err = h.Recv(ctx)
	assert.Equal(t, io.EOF, err)

	written := readPcap(t, &out)
	require.Len(t, written, 3, "sent TCP packet plus the two non-matching packets")
	assert.Equal(t, []byte{0x20, 0xfb}, written[0][22:24])
	assert.Equal(t, fixture(ipv4UDPHex), written[1])
	assert.Equal(t, fixture(ipv4ICMPHex), written[2])
}

func TestPcapHandleSniffMode(t *testing.T) {
	ctx := context.Background()
	in := buildPcap(t, pcap.LinkTypeRaw, ipv4TCPHex, ipv4UDPHex)
	var out bytes.Buffer
	h := openPcap(t, in, &out, tcpOnly(t), WithFlags(FlagSniff))

	p, err := h.Recv(ctx)
	require.NoError(t, err)
	assert.True(t, p.IsTCP())
	_, err = h.Recv(ctx)
	assert.Equal(t, io.EOF, err)

	written := readPcap(t, &out)
	require.Len(t, written, 2)
	assert.Equal(t, fixture(ipv4TCPHex), written[0])
	assert.Equal(t, fixture(ipv4UDPHex), written[1])
}

func TestPcapHandleDropMode(t *testing.T) {
	ctx := context.Background()
	in := buildPcap(t, pcap.LinkTypeRaw, ipv4TCPHex, ipv4UDPHex, ipv6TCPHex)
	var out bytes.Buffer
	h := openPcap(t, in, &out, tcpOnly(t), WithFlags(FlagDrop))

	_, err := h.Recv(ctx)
	assert.Equal(t, io.EOF, err)

	written := readPcap(t, &out)
	require.Len(t, written, 1)
	assert.Equal(t, fixture(ipv4UDPHex), written[0])
}

func TestPcapHandleRecvBufferSize(t *testing.T) {
	ctx := context.Background()
	in := buildPcap(t, pcap.LinkTypeRaw, ipv4TCPHex, ipv4UDPHex)
	h := openPcap(t, in, nil, WithRecvBufferSize(70))

	_, err := h.Recv(ctx)
	assert.Equal(t, gerr.KindOutOfRange, gerr.KindOf(err))

	p, err := h.Recv(ctx)
	require.NoError(t, err, "the oversized packet is consumed")
	assert.True(t, p.IsUDP())
}

func TestPcapHandleEthernetInput(t *testing.T) {
	ctx := context.Background()
	eth := "00112233445566778899aabb0800"
	arp := "ffffffffffff8899aabbccdd0806" + "0001080006040001"
	in := buildPcap(t, pcap.LinkTypeEthernet, arp, eth+ipv4UDPHex)
	h := openPcap(t, in, nil)

	p, err := h.Recv(ctx)
	require.NoError(t, err)
	assert.True(t, p.IsUDP())
	assert.Equal(t, fixture(ipv4UDPHex), p.Raw())

	n, err := h.Send(ctx, p)
	require.NoError(t, err, "send without an output only counts")
	assert.Equal(t, len(fixture(ipv4UDPHex)), n)
}

func TestPcapHandleContextCancel(t *testing.T) {
	in := buildPcap(t, pcap.LinkTypeRaw, ipv4TCPHex)
	h := openPcap(t, in, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.Recv(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, h.Open(ctx), context.Canceled)
}

func TestPcapHandleInvalidInput(t *testing.T) {
	h, err := NewPcapHandle(bytes.NewBufferString("not a pcap stream at all"), nil)
	require.NoError(t, err)
	assert.Error(t, h.Open(context.Background()))
	assert.False(t, h.IsOpen(), "failed open leaves the handle closed")

	_, err = NewPcapHandle(nil, nil)
	assert.Equal(t, gerr.KindInvalidState, gerr.KindOf(err))
	_, err = NewPcapFileHandle("", "")
	assert.Equal(t, gerr.KindInvalidState, gerr.KindOf(err))
}

func TestPcapFileHandle(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.pcap")
	outPath := filepath.Join(dir, "out.pcap")

	w, err := pcap.CreateFile(inPath)
	require.NoError(t, err)
	require.NoError(t, w.WritePacketData(fixture(ipv6UDPHex), captureStart))
	require.NoError(t, w.Close())

	h, err := NewPcapFileHandle(inPath, outPath)
	require.NoError(t, err)
	require.NoError(t, h.Open(ctx))
	p, err := h.Recv(ctx)
	require.NoError(t, err)
	_, err = h.Send(ctx, p)
	require.NoError(t, err)
	require.NoError(t, h.Close())

	r, closeFn, err := pcap.OpenFile(outPath)
	require.NoError(t, err)
	defer closeFn()
	rec, err := r.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, fixture(ipv6UDPHex), rec.Data)
	assert.True(t, captureStart.Equal(rec.Timestamp), "reinjected packets keep the capture timestamp")
}

func TestSendRecalculated(t *testing.T) {
	ctx := context.Background()
	in := buildPcap(t, pcap.LinkTypeRaw, ipv4TCPHex)
	var out bytes.Buffer
	h := openPcap(t, in, &out)

	p, err := h.Recv(ctx)
	require.NoError(t, err)
	ip, err := p.IPv4()
	require.NoError(t, err)
	ip.SetChecksum(0)

	_, err = SendRecalculated(ctx, h, p, failingHelper{})
	assert.Equal(t, gerr.KindExternal, gerr.KindOf(err))

	_, err = SendRecalculated(ctx, h, p, zeroTCPHelper{})
	require.NoError(t, err)
	written := readPcap(t, &out)
	require.Len(t, written, 1)
	assert.Equal(t, []byte{0, 0}, written[0][36:38])

	require.NoError(t, h.Close())
	_, err = SendRecalculated(ctx, h, p, zeroTCPHelper{})
	assert.Equal(t, gerr.KindInvalidState, gerr.KindOf(err))
}

type failingHelper struct{}

func (failingHelper) Recalculate(raw []byte, _ packet.ChecksumOption) ([]byte, error) {
	return nil, io.ErrUnexpectedEOF
}

// zeroTCPHelper clears the TCP checksum of an IPv4 packet with a 20-byte header.
type zeroTCPHelper struct{}

func (zeroTCPHelper) Recalculate(raw []byte, _ packet.ChecksumOption) ([]byte, error) {
	out := append([]byte(nil), raw...)
	out[36], out[37] = 0, 0
	return out, nil
}

// buildPcapNG writes one EPB per hex packet; interface i of ifaces carries packet i.
func buildPcapNG(t *testing.T, ifaces []uint32, dirs []pcapng.Direction, hexes ...string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	w, err := pcapng.NewWriter(&buf)
	require.NoError(t, err)
	for i, h := range hexes {
		for w.Interfaces() <= ifaces[i] {
			_, err := w.AddInterface(uint16(pcap.LinkTypeRaw), 0)
			require.NoError(t, err)
		}
		var opts []pcapng.Option
		if dirs[i] != pcapng.DirectionUnknown {
			opts = append(opts, pcapng.FlagsOption(w.ByteOrder(), dirs[i]))
		}
		require.NoError(t, w.WritePacket(ifaces[i], fixture(h), captureStart.Add(time.Duration(i)*time.Millisecond), opts...))
	}
	return &buf
}

func TestPcapHandlePcapNGInput(t *testing.T) {
	ctx := context.Background()
	in := buildPcapNG(t,
		[]uint32{0, 3, 1},
		[]pcapng.Direction{pcapng.DirectionInbound, pcapng.DirectionOutbound, pcapng.DirectionUnknown},
		ipv4TCPHex, ipv6UDPHex, ipv4ICMPHex)
	var out bytes.Buffer
	h := openPcap(t, in, &out, WithAddress(packet.Address{SubIfIdx: 7, Direction: packet.Inbound}))

	p, err := h.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), p.IfIdx())
	assert.Equal(t, uint32(7), p.SubIfIdx())
	assert.True(t, p.IsInbound())
	_, err = h.Send(ctx, p)
	require.NoError(t, err)

	p, err = h.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), p.IfIdx())
	assert.True(t, p.IsOutbound())
	assert.True(t, p.IsUDP())
	_, err = h.Send(ctx, p)
	require.NoError(t, err)

	p, err = h.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), p.IfIdx())
	assert.True(t, p.IsInbound(), "records without epb_flags keep the configured direction")
	p.SetAddress(packet.Address{IfIdx: 1, Direction: packet.Outbound})
	_, err = h.Send(ctx, p)
	require.NoError(t, err)

	_, err = h.Recv(ctx)
	assert.ErrorIs(t, err, io.EOF)
	require.NoError(t, h.Close())

	r := pcapng.NewReader(bytes.NewReader(out.Bytes()))
	want := []struct {
		hex   string
		iface uint32
		dir   pcapng.Direction
	}{
		{ipv4TCPHex, 0, pcapng.DirectionInbound},
		{ipv6UDPHex, 3, pcapng.DirectionOutbound},
		{ipv4ICMPHex, 1, pcapng.DirectionOutbound},
	}
	for i, w := range want {
		rec, err := r.ReadPacket()
		require.NoError(t, err)
		assert.Equal(t, fixture(w.hex), rec.Data, "record %d", i)
		assert.Equal(t, w.iface, rec.InterfaceID, "record %d", i)
		assert.Equal(t, w.dir, rec.Direction, "record %d", i)
		assert.Equal(t, uint16(pcap.LinkTypeRaw), rec.LinkType)
		assert.True(t, captureStart.Add(time.Duration(i)*time.Millisecond).Equal(rec.Timestamp))
	}
	_, err = r.ReadPacket()
	assert.ErrorIs(t, err, io.EOF)
}

func TestPcapHandleWritesPcapNGFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.pcap")
	outPath := filepath.Join(dir, "out.pcapng")

	w, err := pcap.CreateFile(inPath)
	require.NoError(t, err)
	require.NoError(t, w.WritePacketData(fixture(ipv4UDPHex), captureStart))
	require.NoError(t, w.Close())

	h, err := NewPcapFileHandle(inPath, outPath, WithAddress(packet.Address{IfIdx: 2, Direction: packet.Inbound}))
	require.NoError(t, err)
	require.NoError(t, h.Open(ctx))
	p, err := h.Recv(ctx)
	require.NoError(t, err)
	_, err = h.Send(ctx, p)
	require.NoError(t, err)
	require.NoError(t, h.Close())

	r, closeFn, err := pcapng.OpenFile(outPath)
	require.NoError(t, err)
	defer closeFn()
	rec, err := r.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, fixture(ipv4UDPHex), rec.Data)
	assert.Equal(t, uint32(2), rec.InterfaceID)
	assert.Equal(t, pcapng.DirectionInbound, rec.Direction)
	assert.Equal(t, "gdivert", r.CurrentSection().Application())
}

func TestOutputFormat(t *testing.T) {
	assert.Equal(t, formatPcapNG, outputFormat("x.PCAPNG", formatPcap))
	assert.Equal(t, formatPcap, outputFormat("x.pcap", formatPcapNG))
	assert.Equal(t, formatPcapNG, outputFormat("x.out", formatPcapNG))
	assert.Equal(t, formatPcap, outputFormat("", formatPcap))
}

func TestPcapNGSinkInterfaceLimit(t *testing.T) {
	var buf bytes.Buffer
	sink, err := newPcapNGSink(&buf)
	require.NoError(t, err)
	err = sink.write(fixture(ipv4TCPHex), packet.Address{IfIdx: maxCaptureInterfaces}, captureStart)
	assert.Equal(t, gerr.KindOutOfRange, gerr.KindOf(err))
	assert.Equal(t, uint32(0), sink.w.Interfaces())
}
