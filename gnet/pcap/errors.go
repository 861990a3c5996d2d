package pcap

import (
	"errors"

	"github.com/sofiworker/gdivert/gerr"
)

var (
	ErrInvalidMagicNumber  = errors.New("pcap: invalid magic number")
	ErrInvalidPacketHeader = errors.New("pcap: invalid packet header")
)

func malformed(op string, err error) error {
	return &gerr.Err{Kind: gerr.KindMalformedInput, Op: op, Err: err}
}
