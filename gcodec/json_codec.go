package gcodec

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/sofiworker/gdivert/gerr"
)

type JSONCodec struct {
	indent string
}

func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// NewIndentedJSONCodec 输出带缩进的 JSON，便于人读。
func NewIndentedJSONCodec(indent string) *JSONCodec {
	return &JSONCodec{indent: indent}
}

func (j *JSONCodec) Encode(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	if j.indent != "" {
		enc.SetIndent("", j.indent)
	}
	return gerr.External("gcodec.JSONCodec.Encode", enc.Encode(v))
}

func (j *JSONCodec) Decode(r io.Reader, v interface{}) error {
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return &gerr.Err{Kind: gerr.KindMalformedInput, Op: "gcodec.JSONCodec.Decode", Err: err}
	}
	return nil
}

func (j *JSONCodec) EncodeBytes(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := j.Encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (j *JSONCodec) DecodeBytes(data []byte, v interface{}) error {
	return j.Decode(bytes.NewReader(data), v)
}
