package packet

import (
	"fmt"

	"github.com/sofiworker/gdivert/gerr"
)

// Direction 表示数据包相对本机的方向。
type Direction uint8

const (
	Outbound Direction = 0
	Inbound  Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Outbound:
		return "OUTBOUND"
	case Inbound:
		return "INBOUND"
	default:
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
}

// ParseDirection 接受 0/1 之外的值时返回 InvalidState。
func ParseDirection(v uint8) (Direction, error) {
	switch Direction(v) {
	case Outbound, Inbound:
		return Direction(v), nil
	}
	return 0, gerr.InvalidState("packet.ParseDirection", "unknown direction %d", v)
}

// LoopbackIfIdx 是约定的环回接口索引。
const LoopbackIfIdx uint32 = 1

// Address 是抓包/注入边界上随数据包一起传递的元数据。
type Address struct {
	IfIdx     uint32
	SubIfIdx  uint32
	Direction Direction
}

func (a Address) IsLoopback() bool {
	return a.IfIdx == LoopbackIfIdx
}

func (a Address) String() string {
	return fmt.Sprintf("Address{IfIdx=%d SubIfIdx=%d Direction=%s}", a.IfIdx, a.SubIfIdx, a.Direction)
}
