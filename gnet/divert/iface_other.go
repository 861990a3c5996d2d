//go:build !linux

package divert

import (
	"net"
	"net/netip"

	"github.com/sofiworker/gdivert/gerr"
)

func listInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, gerr.External("divert.Interfaces", err)
	}
	out := make([]Interface, 0, len(ifaces))
	for _, ifc := range ifaces {
		iface := Interface{
			Index:        ifc.Index,
			Name:         ifc.Name,
			MTU:          ifc.MTU,
			HardwareAddr: normalizeHardwareAddr(ifc.HardwareAddr),
			Flags:        ifc.Flags,
			Up:           ifc.Flags&net.FlagUp != 0,
		}
		if iface.Up {
			iface.OperState = "up"
		} else {
			iface.OperState = "down"
		}
		if addrs, err := ifc.Addrs(); err == nil {
			for _, a := range addrs {
				if p, err := netip.ParsePrefix(a.String()); err == nil {
					iface.Addrs = append(iface.Addrs, p)
				}
			}
		}
		out = append(out, iface)
	}
	return out, nil
}
