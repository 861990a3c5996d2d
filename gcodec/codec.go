package gcodec

import (
	"io"
)

// StreamEncoder 将 v 编码写入 w。
type StreamEncoder interface {
	Encode(w io.Writer, v interface{}) error
}

// StreamDecoder 从 r 读取并解码到 v。
type StreamDecoder interface {
	Decode(r io.Reader, v interface{}) error
}

type BytesEncoder interface {
	EncodeBytes(v interface{}) ([]byte, error)
}

type BytesDecoder interface {
	DecodeBytes(data []byte, v interface{}) error
}

// Codec 同时具备流式与字节切片两种编解码能力。
type Codec interface {
	StreamEncoder
	StreamDecoder
	BytesEncoder
	BytesDecoder
}

var (
	_ Codec = (*HexCodec)(nil)
	_ Codec = (*YAMLCodec)(nil)
	_ Codec = (*JSONCodec)(nil)
)
