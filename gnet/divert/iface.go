package divert

import (
	"net"
	"net/netip"

	"github.com/sofiworker/gdivert/gerr"
	"github.com/sofiworker/gdivert/gnet/packet"
)

// Interface 描述一个可用于抓包/注入的网卡，Index 与数据包的 IfIdx 对应。
type Interface struct {
	Index        int
	Name         string
	MTU          int
	HardwareAddr net.HardwareAddr
	Flags        net.Flags
	OperState    string
	Up           bool
	Addrs        []netip.Prefix
}

func (i Interface) IsLoopback() bool {
	return uint32(i.Index) == packet.LoopbackIfIdx || i.Flags&net.FlagLoopback != 0
}

// Interfaces 返回当前所有网卡。
func Interfaces() ([]Interface, error) {
	return listInterfaces()
}

// InterfaceByName 找不到时返回 NoSuchField。
func InterfaceByName(name string) (*Interface, error) {
	if name == "" {
		return nil, gerr.InvalidState("divert.InterfaceByName", "empty name")
	}
	ifaces, err := Interfaces()
	if err != nil {
		return nil, err
	}
	for i := range ifaces {
		if ifaces[i].Name == name {
			return &ifaces[i], nil
		}
	}
	return nil, gerr.NoSuchField("divert.InterfaceByName", "interface %s not found", name)
}

// InterfaceByIndex 用于把数据包的 IfIdx 还原为网卡。
func InterfaceByIndex(idx uint32) (*Interface, error) {
	ifaces, err := Interfaces()
	if err != nil {
		return nil, err
	}
	for i := range ifaces {
		if uint32(ifaces[i].Index) == idx {
			return &ifaces[i], nil
		}
	}
	return nil, gerr.NoSuchField("divert.InterfaceByIndex", "interface %d not found", idx)
}

func normalizeHardwareAddr(hw net.HardwareAddr) net.HardwareAddr {
	for _, b := range hw {
		if b != 0 {
			return append(net.HardwareAddr(nil), hw...)
		}
	}
	return nil
}
