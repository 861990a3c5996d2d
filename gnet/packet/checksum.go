package packet

import (
	"strings"

	"github.com/sofiworker/gdivert/gerr"
)

// ChecksumOption 是校验和重算时跳过某些协议的位掩码。
type ChecksumOption uint32

const (
	NoIPChecksum     ChecksumOption = 1
	NoICMPChecksum   ChecksumOption = 2
	NoICMPv6Checksum ChecksumOption = 4
	NoTCPChecksum    ChecksumOption = 8
	NoUDPChecksum    ChecksumOption = 16

	ChecksumOptionMask = NoIPChecksum | NoICMPChecksum | NoICMPv6Checksum | NoTCPChecksum | NoUDPChecksum
)

var checksumOptionNames = []struct {
	opt  ChecksumOption
	name string
}{
	{NoIPChecksum, "NO_IP_CHECKSUM"},
	{NoICMPChecksum, "NO_ICMP_CHECKSUM"},
	{NoICMPv6Checksum, "NO_ICMPV6_CHECKSUM"},
	{NoTCPChecksum, "NO_TCP_CHECKSUM"},
	{NoUDPChecksum, "NO_UDP_CHECKSUM"},
}

// CombineChecksumOptions 按位或合并选项。
func CombineChecksumOptions(opts ...ChecksumOption) ChecksumOption {
	var out ChecksumOption
	for _, o := range opts {
		out |= o
	}
	return out
}

func (o ChecksumOption) Has(opt ChecksumOption) bool {
	return o&opt != 0
}

func (o ChecksumOption) String() string {
	var names []string
	for _, n := range checksumOptionNames {
		if o.Has(n.opt) {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, "|")
}

// ChecksumHelper 对完整的序列化数据包重算校验和。
// 返回的切片长度必须与输入一致。
type ChecksumHelper interface {
	Recalculate(raw []byte, opts ChecksumOption) ([]byte, error)
}

// RecalculateChecksums 把 raw 交给 helper，并把结果原地写回缓冲区。
// 已经取得的头视图继续有效。
func (p *Packet) RecalculateChecksums(helper ChecksumHelper, opts ...ChecksumOption) error {
	raw := p.Raw()
	out, err := helper.Recalculate(raw, CombineChecksumOptions(opts...))
	if err != nil {
		if gerr.KindOf(err) == gerr.KindExternal {
			return err
		}
		return gerr.External("packet.RecalculateChecksums", err)
	}
	if len(out) != len(raw) {
		return gerr.External("packet.RecalculateChecksums",
			gerr.InvalidState("packet.RecalculateChecksums", "helper returned %d bytes, want %d", len(out), len(raw)))
	}
	return p.buf.View(0).SetBytes(0, len(out), out)
}
