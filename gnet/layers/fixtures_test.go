package layers

import (
	"testing"

	"github.com/sofiworker/gdivert/gcodec"
)

const (
	// 192.168.86.169:55362 -> 54.242.116.253:443, ACK PSH, 41 字节载荷
	ipv4TCPHex = "45000051476040008006f005c0a856a936f274fdd84201bb0876cfd0c19f9320501800ff8dba000017030300240000000000000c2f53831a37ed3c3a632f47440594cab95283b558bf82cb7784344c3314"
	// echo request 192.168.43.9 -> 8.8.8.8
	ipv4ICMPHex = "4500005426ef0000400157f9c0a82b09080808080800bbb3d73b000051a7d67d000451e408090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f202122232425262728292a2b2c2d2e2f3031323334353637"
	// destination unreachable 携带原始 IPv6/UDP 包
	ipv6ICMPHex = "6000000000443a3d3ffe05010410000002c0dffffe47033e3ffe050700000001020086fffe0580da010413520000000060000000001411013ffe050700000001020086fffe0580da3ffe05010410000002c0dffffe47033ea07582a40014cf470a040000f9c8e7369d250b00"
	// 带 timestamp 选项的 HTTP GET
	ipv6TCPHex = "600d684a007d0640fc000002000000020000000000000001fc000002000000010000000000000001a9a01f90021b638dba311e8e801800cfc92e00000101080a801da522801da522474554202f68656c6c6f2e74787420485454502f312e310d0a557365722d4167656e743a206375726c2f372e33382e300d0a486f73743a205b666330303a323a303a313a3a315d3a383038300d0a4163636570743a202a2f2a0d0a0d0a"
	ipv4UDPHex  = "4500004281bf000040112191c0a82b09c0a82b01c9dd0035002ef268528e01000001000000000000013801380138013807696e2d61646472046172706100000c0001"
	ipv6UDPHex  = "60000000002711403ffe050700000001020086fffe0580da3ffe0501481900000000000000000042095d0035002746b700060100000100000000000003777777057961686f6f03636f6d00000f0001"
	ipv4FINHex  = "4500002841734000800600000A00020F0A00020FF4162B678A5FC6E30139B9515011080564650000"
)

func fixture(s string) []byte {
	return gcodec.MustParseHex(s)
}

func mustDecode(tb testing.TB, s string) Headers {
	tb.Helper()
	h, err := Decode(fixture(s))
	if err != nil {
		tb.Fatalf("Decode failed: %v", err)
	}
	return h
}
