package layers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sofiworker/gdivert/gerr"
)

// Protocol 是 IPv4 protocol / IPv6 next header 字段的取值。
type Protocol uint8

const (
	ProtocolHopOpt   Protocol = 0
	ProtocolICMP     Protocol = 1
	ProtocolTCP      Protocol = 6
	ProtocolUDP      Protocol = 17
	ProtocolRouting  Protocol = 43
	ProtocolFragment Protocol = 44
	ProtocolAH       Protocol = 51
	ProtocolICMPv6   Protocol = 58
	ProtocolNone     Protocol = 59
	ProtocolDstOpts  Protocol = 60
)

var protocolNames = map[Protocol]string{
	ProtocolHopOpt:   "HOPOPT",
	ProtocolICMP:     "ICMP",
	ProtocolTCP:      "TCP",
	ProtocolUDP:      "UDP",
	ProtocolRouting:  "ROUTING",
	ProtocolFragment: "FRAGMENT",
	ProtocolAH:       "AH",
	ProtocolICMPv6:   "ICMPV6",
	ProtocolNone:     "NONE",
	ProtocolDstOpts:  "DSTOPTS",
}

// ParseProtocol 在已知协议表中查找 value。
func ParseProtocol(value uint8) (Protocol, error) {
	p := Protocol(value)
	if _, ok := protocolNames[p]; !ok {
		return 0, gerr.UnknownProtocol("layers.ParseProtocol", int(value))
	}
	return p, nil
}

func (p Protocol) Known() bool {
	_, ok := protocolNames[p]
	return ok
}

func (p Protocol) String() string {
	if name, ok := protocolNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Protocol(%d)", uint8(p))
}

// ParseProtocolName 接受协议名（大小写不敏感）或 0-255 的十进制数字。
func ParseProtocolName(s string) (Protocol, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "ICMPV4" {
		return ProtocolICMP, nil
	}
	for p, n := range protocolNames {
		if n == name {
			return p, nil
		}
	}
	v, err := strconv.ParseUint(name, 10, 8)
	if err != nil {
		return 0, gerr.MalformedInput("layers.ParseProtocolName", "unknown protocol %q", s)
	}
	return Protocol(v), nil
}
