package glog

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type zapLogger struct {
	zl     *zap.Logger
	level  zap.AtomicLevel
	config *Config
}

var _ GLogger = (*zapLogger)(nil)

func newZapLogger(config *Config) (*zapLogger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	writers, err := buildWriters(config)
	if err != nil {
		return nil, err
	}
	var w io.Writer
	if len(writers) == 1 {
		w = writers[0]
	} else {
		w = io.MultiWriter(writers...)
	}

	level := zap.NewAtomicLevelAt(zapcore.Level(config.Level))
	core := zapcore.NewCore(buildEncoder(config), zapcore.AddSync(w), level)

	opts := []zap.Option{zap.AddCallerSkip(1)}
	if !config.DisableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if config.Development {
		opts = append(opts, zap.Development())
	}
	if !config.DisableStacktrace {
		stackLevel := zapcore.ErrorLevel
		if config.Development {
			stackLevel = zapcore.WarnLevel
		}
		opts = append(opts, zap.AddStacktrace(stackLevel))
	}
	if len(config.InitialFields) > 0 {
		fields := make([]zap.Field, 0, len(config.InitialFields))
		for k, v := range config.InitialFields {
			fields = append(fields, zap.Any(k, v))
		}
		opts = append(opts, zap.Fields(fields...))
	}

	return &zapLogger{zl: zap.New(core, opts...), level: level, config: config}, nil
}

func buildEncoder(config *Config) zapcore.Encoder {
	keys := config.EncoderConfig
	if keys == nil {
		keys = DefaultConfig().EncoderConfig
	}
	ec := zapcore.EncoderConfig{
		MessageKey:     keys.MessageKey,
		LevelKey:       keys.LevelKey,
		TimeKey:        keys.TimeKey,
		NameKey:        "logger",
		CallerKey:      keys.CallerKey,
		FunctionKey:    zapcore.OmitKey,
		StacktraceKey:  keys.StacktraceKey,
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if config.TimeFormat != "" {
		ec.EncodeTime = zapcore.TimeEncoderOfLayout(config.TimeFormat)
	}
	if config.Encoding == JSONEncoding {
		return zapcore.NewJSONEncoder(ec)
	}
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(ec)
}

// toFields 把交替出现的键值对转换为 zap 字段，参数有误时附加 error 字段而不是丢弃日志。
func toFields(args []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(args)/2+1)
	if len(args)%2 != 0 {
		fields = append(fields, zap.Error(ErrInvalidKeyValuePairs))
		args = args[:len(args)-1]
	}
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			fields = append(fields, zap.Error(ErrKeyNotString))
			continue
		}
		if f, ok := args[i+1].(zap.Field); ok {
			fields = append(fields, f)
			continue
		}
		fields = append(fields, zap.Any(key, args[i+1]))
	}
	return fields
}

func traceFields(ctx context.Context, args []interface{}) []interface{} {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return args
	}
	return append(args, "trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
}

func (l *zapLogger) With(args ...interface{}) GLogger {
	return &zapLogger{zl: l.zl.With(toFields(args)...), level: l.level, config: l.config}
}

// Named 追加 logger 名称，用于区分模块。
func (l *zapLogger) Named(name string) GLogger {
	return &zapLogger{zl: l.zl.Named(name), level: l.level, config: l.config}
}

// 先经 Check 判断级别，未启用的级别不构造字段，Stringer 参数也不会被求值。
func (l *zapLogger) Debug(msg string, args ...interface{}) {
	if ce := l.zl.Check(zapcore.DebugLevel, msg); ce != nil {
		ce.Write(toFields(args)...)
	}
}

func (l *zapLogger) Info(msg string, args ...interface{}) {
	if ce := l.zl.Check(zapcore.InfoLevel, msg); ce != nil {
		ce.Write(toFields(args)...)
	}
}

func (l *zapLogger) Warn(msg string, args ...interface{}) {
	if ce := l.zl.Check(zapcore.WarnLevel, msg); ce != nil {
		ce.Write(toFields(args)...)
	}
}

func (l *zapLogger) Error(msg string, args ...interface{}) {
	if ce := l.zl.Check(zapcore.ErrorLevel, msg); ce != nil {
		ce.Write(toFields(args)...)
	}
}

func (l *zapLogger) Fatal(msg string, args ...interface{}) { l.zl.Fatal(msg, toFields(args)...) }

func (l *zapLogger) Debugf(format string, v ...interface{}) {
	if l.zl.Core().Enabled(zapcore.DebugLevel) {
		l.zl.Debug(fmt.Sprintf(format, v...))
	}
}

func (l *zapLogger) Infof(format string, v ...interface{}) {
	if l.zl.Core().Enabled(zapcore.InfoLevel) {
		l.zl.Info(fmt.Sprintf(format, v...))
	}
}

func (l *zapLogger) Warnf(format string, v ...interface{}) {
	if l.zl.Core().Enabled(zapcore.WarnLevel) {
		l.zl.Warn(fmt.Sprintf(format, v...))
	}
}

func (l *zapLogger) Errorf(format string, v ...interface{}) {
	if l.zl.Core().Enabled(zapcore.ErrorLevel) {
		l.zl.Error(fmt.Sprintf(format, v...))
	}
}

func (l *zapLogger) DebugContext(ctx context.Context, msg string, args ...interface{}) {
	if ce := l.zl.Check(zapcore.DebugLevel, msg); ce != nil {
		ce.Write(toFields(traceFields(ctx, args))...)
	}
}

func (l *zapLogger) InfoContext(ctx context.Context, msg string, args ...interface{}) {
	if ce := l.zl.Check(zapcore.InfoLevel, msg); ce != nil {
		ce.Write(toFields(traceFields(ctx, args))...)
	}
}

func (l *zapLogger) WarnContext(ctx context.Context, msg string, args ...interface{}) {
	if ce := l.zl.Check(zapcore.WarnLevel, msg); ce != nil {
		ce.Write(toFields(traceFields(ctx, args))...)
	}
}

func (l *zapLogger) ErrorContext(ctx context.Context, msg string, args ...interface{}) {
	if ce := l.zl.Check(zapcore.ErrorLevel, msg); ce != nil {
		ce.Write(toFields(traceFields(ctx, args))...)
	}
}

// SetLevel 通过 AtomicLevel 生效，With/Named 派生出的 logger 共享同一级别。
func (l *zapLogger) SetLevel(level Level) {
	l.level.SetLevel(zapcore.Level(level))
}

func (l *zapLogger) Level() Level {
	return Level(l.level.Level())
}

func (l *zapLogger) Config() *Config {
	return l.config
}

func (l *zapLogger) Sync() error {
	return l.zl.Sync()
}
