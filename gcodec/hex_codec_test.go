package gcodec

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/sofiworker/gdivert/gerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHexConversion(t *testing.T) {
	b, err := ParseHex("0123456789ABCDEF")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0xCD, 0xEF}, b)
	assert.Equal(t, "0123456789ABCDEF", PrintHex(b))
}

func TestHexNormalizesCase(t *testing.T) {
	b, err := ParseHex("deadBEEF00")
	require.NoError(t, err)
	assert.Equal(t, "DEADBEEF00", PrintHex(b))
}

func TestHexRoundTrip(t *testing.T) {
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	got, err := ParseHex(PrintHex(data))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	empty, err := ParseHex("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestHexMalformed(t *testing.T) {
	for _, in := range []string{"0123456789ABCDE", "0123456789ABCDEZ", "0g"} {
		_, err := ParseHex(in)
		assert.True(t, errors.Is(err, gerr.ErrMalformedInput), in)
	}
}

func TestHexCodec(t *testing.T) {
	codec := NewHexCodec()

	data, err := codec.EncodeBytes([]byte{0xc0, 0xa8})
	require.NoError(t, err)
	assert.Equal(t, "C0A8", string(data))

	var out []byte
	require.NoError(t, codec.DecodeBytes([]byte("c0a8\n"), &out))
	assert.Equal(t, []byte{0xc0, 0xa8}, out)

	var buf bytes.Buffer
	require.NoError(t, codec.Encode(&buf, "ab"))
	assert.Equal(t, "6162", buf.String())

	var s string
	require.NoError(t, codec.Decode(strings.NewReader("6162"), &s))
	assert.Equal(t, "ab", s)

	_, err = codec.EncodeBytes(42)
	assert.Error(t, err)
	assert.Error(t, codec.DecodeBytes([]byte("00"), &struct{}{}))
}
