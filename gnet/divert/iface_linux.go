//go:build linux

package divert

import (
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"

	"github.com/sofiworker/gdivert/gerr"
)

func listInterfaces() ([]Interface, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, gerr.External("divert.Interfaces", err)
	}
	out := make([]Interface, 0, len(links))
	for _, l := range links {
		iface := fromNetlink(l)
		addrs, err := netlink.AddrList(l, netlink.FAMILY_ALL)
		if err == nil {
			iface.Addrs = prefixes(addrs)
		}
		out = append(out, iface)
	}
	return out, nil
}

func fromNetlink(l netlink.Link) Interface {
	attrs := l.Attrs()
	return Interface{
		Index:        attrs.Index,
		Name:         attrs.Name,
		MTU:          attrs.MTU,
		HardwareAddr: normalizeHardwareAddr(attrs.HardwareAddr),
		Flags:        attrs.Flags,
		OperState:    attrs.OperState.String(),
		Up:           attrs.Flags&net.FlagUp != 0 && attrs.OperState != netlink.OperDown && attrs.OperState != netlink.OperNotPresent,
	}
}

func prefixes(addrs []netlink.Addr) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(addrs))
	for _, a := range addrs {
		if a.IPNet == nil {
			continue
		}
		ip, ok := netip.AddrFromSlice(a.IPNet.IP)
		if !ok {
			continue
		}
		ones, _ := a.IPNet.Mask.Size()
		out = append(out, netip.PrefixFrom(ip.Unmap(), ones))
	}
	return out
}
