package pcapng

import (
	"errors"

	"github.com/sofiworker/gdivert/gerr"
)

var (
	ErrInvalidBlockLength = errors.New("pcapng: invalid block length")
	ErrInvalidSection     = errors.New("pcapng: invalid section header")
	ErrUnknownInterface   = errors.New("pcapng: unknown interface")
)

func malformed(op string, err error) error {
	return &gerr.Err{Kind: gerr.KindMalformedInput, Op: op, Err: err}
}
