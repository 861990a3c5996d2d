package divert

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sofiworker/gdivert/gcodec"
	"github.com/sofiworker/gdivert/gnet/pcap"
)

const (
	ipv4TCPHex  = "45000051476040008006f005c0a856a936f274fdd84201bb0876cfd0c19f9320501800ff8dba000017030300240000000000000c2f53831a37ed3c3a632f47440594cab95283b558bf82cb7784344c3314"
	ipv4ICMPHex = "4500005426ef0000400157f9c0a82b09080808080800bbb3d73b000051a7d67d000451e408090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f202122232425262728292a2b2c2d2e2f3031323334353637"
	ipv4UDPHex  = "4500004281bf000040112191c0a82b09c0a82b01c9dd0035002ef268528e01000001000000000000013801380138013807696e2d61646472046172706100000c0001"
	ipv6UDPHex  = "60000000002711403ffe050700000001020086fffe0580da3ffe0501481900000000000000000042095d0035002746b700060100000100000000000003777777057961686f6f03636f6d00000f0001"
	ipv6ICMPHex = "6000000000443a3d3ffe05010410000002c0dffffe47033e3ffe050700000001020086fffe0580da010413520000000060000000001411013ffe050700000001020086fffe0580da3ffe05010410000002c0dffffe47033ea07582a40014cf470a040000f9c8e7369d250b00"
	ipv6TCPHex  = "600d684a007d0640fc000002000000020000000000000001fc000002000000010000000000000001a9a01f90021b638dba311e8e801800cfc92e00000101080a801da522801da522474554202f68656c6c6f2e74787420485454502f312e310d0a557365722d4167656e743a206375726c2f372e33382e300d0a486f73743a205b666330303a323a303a313a3a315d3a383038300d0a4163636570743a202a2f2a0d0a0d0a"
)

var captureStart = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func fixture(s string) []byte {
	return gcodec.MustParseHex(s)
}

// buildPcap writes the given hex packets as a pcap stream of the given link type.
func buildPcap(t *testing.T, link pcap.LinkType, hexes ...string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	w, err := pcap.NewWriter(&buf, pcap.WithLinkType(link))
	require.NoError(t, err)
	for i, h := range hexes {
		require.NoError(t, w.WritePacketData(fixture(h), captureStart.Add(time.Duration(i)*time.Millisecond)))
	}
	require.NoError(t, w.Flush())
	return &buf
}

// readPcap returns the packet payloads written to buf.
func readPcap(t *testing.T, buf *bytes.Buffer) [][]byte {
	t.Helper()
	r, err := pcap.NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, pcap.LinkTypeRaw, r.LinkType())
	var out [][]byte
	for {
		pkt, err := r.ReadPacket()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, pkt.Data)
	}
}
