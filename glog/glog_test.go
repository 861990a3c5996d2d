package glog_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/sofiworker/gdivert/glog"
)

// --- Helpers ---

// parseJSONLog is a helper to parse a single JSON log line.
func parseJSONLog(t *testing.T, logLine string) map[string]interface{} {
	t.Helper()
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(logLine), &data); err != nil {
		t.Fatalf("Failed to parse JSON log line: %q, error: %v", logLine, err)
	}
	return data
}

// configure points the global logger at a fresh file and resets the keys
// touched by other tests before applying opts.
func configure(t *testing.T, opts ...glog.Option) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.log")
	base := []glog.Option{
		glog.WithOutputPaths(path),
		glog.WithStdout(false),
		glog.WithEncoderConfig(*glog.DefaultConfig().EncoderConfig),
		glog.WithEncoding(glog.JSONEncoding),
		glog.WithDevelopment(false),
		glog.WithDisableCaller(false),
		glog.WithLevel(glog.InfoLevel),
	}
	if err := glog.Configure(append(base, opts...)...); err != nil {
		t.Fatalf("Failed to configure: %v", err)
	}
	return path
}

// readLog returns the last line written to path.
func readLog(t *testing.T, path string) string {
	t.Helper()
	_ = glog.Sync()
	content, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	return lines[len(lines)-1]
}

// --- Tests ---

func TestDefaultLogger(t *testing.T) {
	glog.Info("Default logger initialized")
	if glog.Default() == nil {
		t.Fatal("Default logger should not be nil")
	}
}

func TestConfigure(t *testing.T) {
	t.Run("ChangeLevelAndEncoding", func(t *testing.T) {
		logFilePath := configure(t, glog.WithLevel(glog.DebugLevel), glog.WithEncoding(glog.ConsoleEncoding))

		glog.Debugf("Debug message: %s", "ok")
		content := readLog(t, logFilePath)
		if !strings.Contains(content, "DEBUG") || !strings.Contains(content, "Debug message: ok") {
			t.Errorf("Expected debug console log, got: %s", content)
		}
	})

	t.Run("WithInitialFields", func(t *testing.T) {
		logFilePath := configure(t, glog.WithInitialFields(map[string]interface{}{"service": "test-app"}))

		glog.Info("Log with initial fields")
		logData := parseJSONLog(t, readLog(t, logFilePath))
		if logData["service"] != "test-app" {
			t.Errorf("Initial field 'service' not present: %v", logData)
		}
	})

	t.Run("DisableCaller", func(t *testing.T) {
		logFilePath := configure(t, glog.WithDisableCaller(true))

		glog.Info("Info without caller")
		logData := parseJSONLog(t, readLog(t, logFilePath))
		if _, ok := logData["caller"]; ok {
			t.Errorf("Caller field should not be present")
		}
	})

	t.Run("CustomEncoderKeys", func(t *testing.T) {
		logFilePath := configure(t, glog.WithMessageKey("message"), glog.WithLevelKey("severity"))

		glog.Warn("Custom key test")
		logData := parseJSONLog(t, readLog(t, logFilePath))
		if _, ok := logData["message"]; !ok {
			t.Errorf("Expected message key 'message', but it was not found")
		}
		if _, ok := logData["severity"]; !ok {
			t.Errorf("Expected level key 'severity', but it was not found")
		}
	})

	t.Run("ConfigureDoesNotMutatePrevious", func(t *testing.T) {
		configure(t)
		before := glog.Default().Config()
		if err := glog.Configure(glog.WithMessageKey("m2")); err != nil {
			t.Fatal(err)
		}
		if before.EncoderConfig.MessageKey != "msg" {
			t.Errorf("previous config was mutated: %q", before.EncoderConfig.MessageKey)
		}
	})
}

func TestLoggingMethods(t *testing.T) {
	logFilePath := configure(t, glog.WithLevel(glog.DebugLevel), glog.WithDisableCaller(true))

	t.Run("StructuredLog", func(t *testing.T) {
		glog.Info("User logged in", "user_id", 123, "ip", "192.168.1.1")
		logData := parseJSONLog(t, readLog(t, logFilePath))
		if logData["msg"] != "User logged in" || logData["user_id"] != float64(123) {
			t.Errorf("Structured log failed: %v", logData)
		}
	})

	t.Run("FormattedLog", func(t *testing.T) {
		glog.Warnf("Failed to connect to %s, attempt %d", "db", 3)
		logData := parseJSONLog(t, readLog(t, logFilePath))
		if logData["msg"] != "Failed to connect to db, attempt 3" {
			t.Errorf("Formatted log failed: %v", logData)
		}
	})

	t.Run("WithLogger", func(t *testing.T) {
		subLogger := glog.With("request_id", "abc-123")
		subLogger.Info("Request started", "method", "GET")
		logData := parseJSONLog(t, readLog(t, logFilePath))
		if logData["request_id"] != "abc-123" || logData["method"] != "GET" {
			t.Errorf("WithLogger failed: %v", logData)
		}
	})

	t.Run("NamedLogger", func(t *testing.T) {
		glog.Named("divert").Info("named")
		logData := parseJSONLog(t, readLog(t, logFilePath))
		if logData["logger"] != "divert" {
			t.Errorf("Named logger failed: %v", logData)
		}
	})
}

func TestErrorHandling(t *testing.T) {
	logFilePath := configure(t, glog.WithLevel(glog.DebugLevel))

	t.Run("InvalidKeyValuePairs", func(t *testing.T) {
		glog.Warn("Invalid args", "key1", "value1", "key2")
		logData := parseJSONLog(t, readLog(t, logFilePath))
		if errVal, ok := logData["error"]; !ok || !strings.Contains(fmt.Sprint(errVal), "invalid number of arguments") {
			t.Errorf("Expected error field with ErrInvalidKeyValuePairs, got: %v", logData)
		}
		if logData["key1"] != "value1" {
			t.Errorf("valid pairs should still be logged: %v", logData)
		}
	})

	t.Run("KeyNotString", func(t *testing.T) {
		glog.Error("Invalid key type", 123, "value")
		logData := parseJSONLog(t, readLog(t, logFilePath))
		if errVal, ok := logData["error"]; !ok || !strings.Contains(fmt.Sprint(errVal), "log field key must be a string") {
			t.Errorf("Expected error field with ErrKeyNotString, got: %v", logData)
		}
	})
}

func TestSetLevel(t *testing.T) {
	logFilePath := configure(t)

	glog.Debug("This debug message should not appear")
	if content := readLog(t, logFilePath); content != "" {
		t.Fatalf("Log file should be empty, but got: %s", content)
	}

	glog.SetLevel(glog.DebugLevel)
	if glog.Default().Level() != glog.DebugLevel {
		t.Fatalf("level = %v", glog.Default().Level())
	}
	glog.Debug("This debug message should appear now")
	if content := readLog(t, logFilePath); !strings.Contains(content, "This debug message should appear now") {
		t.Errorf("Debug message not found after level change: %s", content)
	}
}

func TestContextTraceFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := glog.NewWithOptions(
		glog.WithStdout(false),
		glog.WithWriter(&buf),
		glog.WithEncoding(glog.JSONEncoding),
	)
	if err != nil {
		t.Fatal(err)
	}

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10},
		SpanID:     trace.SpanID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	logger.InfoContext(ctx, "traced", "k", "v")
	logData := parseJSONLog(t, strings.TrimSpace(buf.String()))
	if logData["trace_id"] != "0102030405060708090a0b0c0d0e0f10" || logData["span_id"] != "0102030405060708" {
		t.Errorf("trace fields missing: %v", logData)
	}

	buf.Reset()
	logger.InfoContext(context.Background(), "untraced")
	logData = parseJSONLog(t, strings.TrimSpace(buf.String()))
	if _, ok := logData["trace_id"]; ok {
		t.Errorf("unexpected trace_id: %v", logData)
	}
}

func TestParseLevelAndEncoding(t *testing.T) {
	tests := []struct {
		in   string
		want glog.Level
	}{
		{"debug", glog.DebugLevel},
		{"INFO", glog.InfoLevel},
		{" warn ", glog.WarnLevel},
		{"error", glog.ErrorLevel},
	}
	for _, tt := range tests {
		got, err := glog.ParseLevel(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
	if _, err := glog.ParseLevel("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
	if e, err := glog.ParseEncoding("JSON"); err != nil || e != glog.JSONEncoding {
		t.Errorf("ParseEncoding = %v, %v", e, err)
	}
	if _, err := glog.ParseEncoding("xml"); err == nil {
		t.Error("expected error for unknown encoding")
	}
}

// TestConcurrency ensures thread safety during concurrent logging and reconfiguration.
func TestConcurrency(t *testing.T) {
	t.Parallel()

	logFilePath := configure(t, glog.WithLevel(glog.DebugLevel))

	var wg sync.WaitGroup
	numGoroutines := 50
	numLogsPerGoroutine := 50

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numLogsPerGoroutine; j++ {
				glog.Infof("Goroutine %d, log %d", id, j)
			}
		}(i)
	}

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = glog.Configure(glog.WithInitialFields(map[string]interface{}{"rand": time.Now().UnixNano()}))
			glog.SetLevel(glog.Level(i % 2))
		}(i)
	}

	wg.Wait()
	_ = glog.Sync()

	content, err := os.ReadFile(logFilePath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	logLines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(logLines) == 0 {
		t.Errorf("Expected some log lines, but file is empty")
	}

	jsonRegex := regexp.MustCompile(`^{.*}$`)
	for i, line := range logLines {
		if line != "" && !jsonRegex.MatchString(line) {
			t.Errorf("Found non-JSON log line at line %d: %s", i+1, line)
			break
		}
	}
}

type countingStringer struct{ calls int }

func (c *countingStringer) String() string {
	c.calls++
	return "expensive"
}

func TestDisabledLevelSkipsStringer(t *testing.T) {
	var buf bytes.Buffer
	logger, err := glog.NewWithOptions(
		glog.WithWriter(&buf),
		glog.WithStdout(false),
		glog.WithEncoding(glog.JSONEncoding),
		glog.WithLevel(glog.InfoLevel),
	)
	if err != nil {
		t.Fatalf("NewWithOptions: %v", err)
	}

	s := &countingStringer{}
	logger.Debug("packet", "packet", s)
	logger.DebugContext(context.Background(), "packet", "packet", s)
	if s.calls != 0 || buf.Len() != 0 {
		t.Fatalf("disabled debug must not render fields: calls=%d out=%q", s.calls, buf.String())
	}

	logger.Info("packet", "packet", s)
	_ = logger.Sync()
	if s.calls != 1 || !strings.Contains(buf.String(), "expensive") {
		t.Errorf("enabled level must render the stringer once: calls=%d out=%q", s.calls, buf.String())
	}
}
