package layers

import (
	"fmt"
	"net"

	"github.com/sofiworker/gdivert/gerr"
)

type EthernetType uint16

const (
	EthernetTypeIPv4 EthernetType = 0x0800
	EthernetTypeARP  EthernetType = 0x0806
	EthernetTypeIPv6 EthernetType = 0x86DD
	EthernetTypeVLAN EthernetType = 0x8100
	EthernetTypeQinQ EthernetType = 0x88A8
)

const ethernetHeaderLen = 14

// Ethernet 描述链路层帧头，只用于从抓包文件中剥离出 IP 包。
type Ethernet struct {
	SrcMAC, DstMAC net.HardwareAddr
	EtherType      EthernetType
	VLANIDs        []uint16
	// Offset 是 IP 头在帧内的起点。
	Offset int
}

func (e *Ethernet) String() string {
	if len(e.VLANIDs) == 0 {
		return fmt.Sprintf("Ethernet %s -> %s Type: %#04x",
			e.SrcMAC, e.DstMAC, uint16(e.EtherType))
	}
	return fmt.Sprintf("Ethernet %s -> %s VLAN %v Type: %#04x",
		e.SrcMAC, e.DstMAC, e.VLANIDs, uint16(e.EtherType))
}

// ParseEthernet 解析以太网头，逐层跳过 802.1Q/QinQ 标签。
func ParseEthernet(frame []byte) (*Ethernet, error) {
	if len(frame) < ethernetHeaderLen {
		return nil, gerr.OutOfRange("layers.ParseEthernet", "frame too short: %d", len(frame))
	}
	e := &Ethernet{
		DstMAC:    append(net.HardwareAddr(nil), frame[0:6]...),
		SrcMAC:    append(net.HardwareAddr(nil), frame[6:12]...),
		EtherType: EthernetType(readBE[uint16](frame[12:14])),
		Offset:    ethernetHeaderLen,
	}
	for e.EtherType == EthernetTypeVLAN || e.EtherType == EthernetTypeQinQ {
		if len(frame) < e.Offset+4 {
			return nil, gerr.OutOfRange("layers.ParseEthernet", "truncated vlan tag")
		}
		tci := readBE[uint16](frame[e.Offset : e.Offset+2])
		e.VLANIDs = append(e.VLANIDs, tci&0x0FFF)
		e.EtherType = EthernetType(readBE[uint16](frame[e.Offset+2 : e.Offset+4]))
		e.Offset += 4
	}
	return e, nil
}

// StripEthernet 返回帧中的 IP 包部分，非 IPv4/IPv6 帧返回 UnknownProtocol。
func StripEthernet(frame []byte) ([]byte, error) {
	e, err := ParseEthernet(frame)
	if err != nil {
		return nil, err
	}
	switch e.EtherType {
	case EthernetTypeIPv4, EthernetTypeIPv6:
		return frame[e.Offset:], nil
	}
	return nil, gerr.UnknownProtocol("layers.StripEthernet", int(e.EtherType))
}
