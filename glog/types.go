package glog

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Level 日志级别，数值与 zapcore.Level 一致。
type Level int8

const (
	DebugLevel Level = iota - 1
	InfoLevel
	WarnLevel
	ErrorLevel
	DPanicLevel
	PanicLevel
	FatalLevel
)

func (l Level) String() string {
	return zapcore.Level(l).String()
}

// ParseLevel 解析 debug/info/warn/error 等文本级别，大小写不敏感。
func ParseLevel(s string) (Level, error) {
	var zl zapcore.Level
	if err := zl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s)))); err != nil {
		return InfoLevel, fmt.Errorf("glog: unknown level %q", s)
	}
	return Level(zl), nil
}

type Encoding string

const (
	JSONEncoding    Encoding = "json"
	ConsoleEncoding Encoding = "console"
)

// ParseEncoding 只接受 json 和 console。
func ParseEncoding(s string) (Encoding, error) {
	switch e := Encoding(strings.ToLower(strings.TrimSpace(s))); e {
	case JSONEncoding, ConsoleEncoding:
		return e, nil
	}
	return ConsoleEncoding, fmt.Errorf("glog: unknown encoding %q", s)
}
