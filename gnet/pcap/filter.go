package pcap

import (
	"io"

	"golang.org/x/net/bpf"

	"github.com/sofiworker/gdivert/gerr"
)

// Filter 是编译好的经典 BPF 程序。
type Filter struct {
	vm *bpf.VM
}

func NewFilter(prog []bpf.Instruction) (*Filter, error) {
	vm, err := bpf.NewVM(prog)
	if err != nil {
		return nil, gerr.InvalidState("pcap.NewFilter", "%v", err)
	}
	return &Filter{vm: vm}, nil
}

// Match 在程序返回非零时认为数据包通过。nil Filter 放行一切。
func (f *Filter) Match(data []byte) (bool, error) {
	if f == nil {
		return true, nil
	}
	n, err := f.vm.Run(data)
	if err != nil {
		return false, gerr.External("pcap.Filter.Match", err)
	}
	return n != 0, nil
}

// FilterCopy 读取 r 中的 pcap，按 BPF 过滤后写入 w（pcap），返回通过包数。
func FilterCopy(r io.Reader, w io.Writer, prog []bpf.Instruction) (int, error) {
	reader, err := NewReader(r)
	if err != nil {
		return 0, err
	}
	filter, err := NewFilter(prog)
	if err != nil {
		return 0, err
	}
	writer, err := NewWriter(w, WithSnapLen(reader.Header().SnapLen), WithLinkType(reader.LinkType()))
	if err != nil {
		return 0, err
	}
	defer writer.Close()

	count := 0
	for {
		pkt, err := reader.ReadPacket()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, err
		}
		keep, err := filter.Match(pkt.Data)
		if err != nil {
			return count, err
		}
		if !keep {
			continue
		}
		if err := writer.WritePacket(pkt); err != nil {
			return count, err
		}
		count++
	}
}
