package divert

import (
	"fmt"
	"strings"

	"github.com/sofiworker/gdivert/gerr"
)

// DefaultRecvBufferSize 是 Recv 默认使用的缓冲区大小。
const DefaultRecvBufferSize = 1500

const (
	MinPriority int16 = -30000
	MaxPriority int16 = 30000
)

// Layer 决定句柄挂在本机收发路径还是转发路径上。
type Layer uint8

const (
	LayerNetwork        Layer = 0
	LayerNetworkForward Layer = 1
)

func (l Layer) String() string {
	switch l {
	case LayerNetwork:
		return "NETWORK"
	case LayerNetworkForward:
		return "NETWORK_FORWARD"
	default:
		return fmt.Sprintf("Layer(%d)", uint8(l))
	}
}

func ParseLayer(s string) (Layer, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NETWORK":
		return LayerNetwork, nil
	case "NETWORK_FORWARD", "FORWARD":
		return LayerNetworkForward, nil
	}
	return 0, gerr.MalformedInput("divert.ParseLayer", "unknown layer %q", s)
}

// Flag 是打开句柄时的模式位。
type Flag uint32

const (
	FlagDefault Flag = 0
	FlagSniff   Flag = 1
	FlagDrop    Flag = 2
	// FlagNoChecksum 被接受并保存，但不改变任何句柄的行为。
	FlagNoChecksum Flag = 1024

	flagMask = FlagSniff | FlagDrop | FlagNoChecksum
)

var flagNames = []struct {
	flag Flag
	name string
}{
	{FlagSniff, "SNIFF"},
	{FlagDrop, "DROP"},
	{FlagNoChecksum, "NO_CHECKSUM"},
}

func (f Flag) Has(flag Flag) bool {
	return f&flag != 0
}

// Validate 拒绝未知位以及 SNIFF 与 DROP 同时出现。
func (f Flag) Validate() error {
	if f&^flagMask != 0 {
		return gerr.InvalidState("divert.Flag.Validate", "unknown flag bits %#x", uint32(f&^flagMask))
	}
	if f.Has(FlagSniff) && f.Has(FlagDrop) {
		return gerr.InvalidState("divert.Flag.Validate", "flags SNIFF and DROP cannot be set at the same time")
	}
	return nil
}

func (f Flag) String() string {
	if f == FlagDefault {
		return "DEFAULT"
	}
	var names []string
	for _, n := range flagNames {
		if f.Has(n.flag) {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, "|")
}

// ParseFlags 解析形如 "sniff|no_checksum" 的文本，分隔符可以是 | 或 ,。
func ParseFlags(s string) (Flag, error) {
	var out Flag
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' }) {
		name := strings.ToUpper(strings.TrimSpace(part))
		if name == "" || name == "DEFAULT" {
			continue
		}
		found := false
		for _, n := range flagNames {
			if n.name == name {
				out |= n.flag
				found = true
				break
			}
		}
		if !found {
			return 0, gerr.MalformedInput("divert.ParseFlags", "unknown flag %q", part)
		}
	}
	return out, nil
}

// Param 是打开后可调整的队列参数。
type Param uint8

const (
	ParamQueueLen  Param = 0
	ParamQueueTime Param = 1
)

type paramRange struct {
	name          string
	min, max, def uint64
}

var paramRanges = map[Param]paramRange{
	ParamQueueLen:  {name: "QUEUE_LEN", min: 1, max: 8192, def: 1024},
	ParamQueueTime: {name: "QUEUE_TIME", min: 128, max: 2048, def: 512},
}

func (p Param) String() string {
	if r, ok := paramRanges[p]; ok {
		return r.name
	}
	return fmt.Sprintf("Param(%d)", uint8(p))
}

func (p Param) Min() uint64     { return paramRanges[p].min }
func (p Param) Max() uint64     { return paramRanges[p].max }
func (p Param) Default() uint64 { return paramRanges[p].def }

// Check 校验取值是否落在参数允许的闭区间内。
func (p Param) Check(v uint64) error {
	r, ok := paramRanges[p]
	if !ok {
		return gerr.InvalidState("divert.Param.Check", "unknown param %d", uint8(p))
	}
	if v < r.min || v > r.max {
		return gerr.OutOfRange("divert.Param.Check", "%s must be in range %d, %d", r.name, r.min, r.max)
	}
	return nil
}

func defaultParams() map[Param]uint64 {
	out := make(map[Param]uint64, len(paramRanges))
	for p, r := range paramRanges {
		out[p] = r.def
	}
	return out
}
