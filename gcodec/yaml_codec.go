package gcodec

import (
	"bytes"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/sofiworker/gdivert/gerr"
)

// YAMLCodec 按 yaml 标签编解码，默认两格缩进。
type YAMLCodec struct {
	indent int
}

func NewYAMLCodec() *YAMLCodec {
	return &YAMLCodec{indent: 2}
}

func (y *YAMLCodec) Encode(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(y.indent)
	if err := enc.Encode(v); err != nil {
		return gerr.External("gcodec.YAMLCodec.Encode", err)
	}
	return gerr.External("gcodec.YAMLCodec.Encode", enc.Close())
}

func (y *YAMLCodec) Decode(r io.Reader, v interface{}) error {
	if err := yaml.NewDecoder(r).Decode(v); err != nil {
		return &gerr.Err{Kind: gerr.KindMalformedInput, Op: "gcodec.YAMLCodec.Decode", Err: err}
	}
	return nil
}

func (y *YAMLCodec) EncodeBytes(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := y.Encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (y *YAMLCodec) DecodeBytes(data []byte, v interface{}) error {
	return y.Decode(bytes.NewReader(data), v)
}
