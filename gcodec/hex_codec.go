package gcodec

import (
	"fmt"
	"io"
	"strings"

	"github.com/sofiworker/gdivert/gerr"
)

const hexDigits = "0123456789ABCDEF"

// PrintHex 把 data 编码为大写十六进制字符串。
func PrintHex(data []byte) string {
	var sb strings.Builder
	sb.Grow(len(data) * 2)
	for _, b := range data {
		sb.WriteByte(hexDigits[b>>4])
		sb.WriteByte(hexDigits[b&0x0F])
	}
	return sb.String()
}

// ParseHex 解析偶数长度的十六进制字符串，大小写均可。
func ParseHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, gerr.MalformedInput("gcodec.ParseHex", "hex string needs to be even-length: %q", s)
	}
	out := make([]byte, len(s)/2)
	for i := 0; i < len(s); i += 2 {
		h, ok1 := fromHexChar(s[i])
		l, ok2 := fromHexChar(s[i+1])
		if !ok1 || !ok2 {
			return nil, gerr.MalformedInput("gcodec.ParseHex", "illegal hex character at %d: %q", i, s)
		}
		out[i/2] = h<<4 | l
	}
	return out, nil
}

// MustParseHex 用于测试夹具，解析失败直接 panic。
func MustParseHex(s string) []byte {
	b, err := ParseHex(s)
	if err != nil {
		panic(err)
	}
	return b
}

func fromHexChar(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// HexCodec 以十六进制文本承载原始字节，主要用于测试夹具和调试转储。
type HexCodec struct{}

func NewHexCodec() *HexCodec {
	return &HexCodec{}
}

func (c *HexCodec) Encode(w io.Writer, v interface{}) error {
	data, err := c.EncodeBytes(v)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func (c *HexCodec) Decode(r io.Reader, v interface{}) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return c.DecodeBytes(data, v)
}

func (c *HexCodec) EncodeBytes(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case []byte:
		return []byte(PrintHex(val)), nil
	case string:
		return []byte(PrintHex([]byte(val))), nil
	default:
		return nil, fmt.Errorf("gcodec: hex codec cannot encode %T", v)
	}
}

func (c *HexCodec) DecodeBytes(data []byte, v interface{}) error {
	raw, err := ParseHex(strings.TrimSpace(string(data)))
	if err != nil {
		return err
	}
	switch out := v.(type) {
	case *[]byte:
		*out = raw
	case *string:
		*out = string(raw)
	default:
		return fmt.Errorf("gcodec: hex codec cannot decode into %T", v)
	}
	return nil
}
