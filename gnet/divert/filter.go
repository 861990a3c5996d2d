package divert

import (
	"golang.org/x/net/bpf"

	"github.com/sofiworker/gdivert/gerr"
	"github.com/sofiworker/gdivert/gnet/layers"
)

const filterAccept = 0x40000

// FilterProtocols 生成只放行指定上层协议的 BPF 程序，作用在原始 IP 字节上。
// IPv4 看第 9 字节，IPv6 看第 6 字节（不跟随扩展头）。没有协议时返回 nil，即匹配全部。
func FilterProtocols(protos ...layers.Protocol) ([]bpf.Instruction, error) {
	n := len(protos)
	if n == 0 {
		return nil, nil
	}
	if n > 60 {
		return nil, gerr.OutOfRange("divert.FilterProtocols", "too many protocols: %d", n)
	}
	reject := 2*n + 7
	accept := reject + 1

	prog := []bpf.Instruction{
		bpf.LoadAbsolute{Off: 0, Size: 1},
		bpf.ALUOpConstant{Op: bpf.ALUOpShiftRight, Val: 4},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 4, SkipTrue: 1},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 6, SkipTrue: uint8(n + 2), SkipFalse: uint8(2*n + 3)},
		bpf.LoadAbsolute{Off: 9, Size: 1},
	}
	for i, p := range protos {
		prog = append(prog, bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(p), SkipTrue: uint8(accept - (6 + i))})
	}
	prog = append(prog, bpf.Jump{Skip: uint32(reject - (n + 6))})
	prog = append(prog, bpf.LoadAbsolute{Off: 6, Size: 1})
	for i, p := range protos {
		prog = append(prog, bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(p), SkipTrue: uint8(n - i)})
	}
	prog = append(prog, bpf.RetConstant{Val: 0}, bpf.RetConstant{Val: filterAccept})
	return prog, nil
}

// ParseProtocols 把 tcp/udp/icmp/icmpv6 等名字或数字转成协议号。
func ParseProtocols(names []string) ([]layers.Protocol, error) {
	out := make([]layers.Protocol, 0, len(names))
	for _, name := range names {
		p, err := layers.ParseProtocolName(name)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
