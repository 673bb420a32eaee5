package logging

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "warn"}, &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info 级别不应输出: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn 级别应输出: %s", out)
	}
}

func TestNewLoggerDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "nonsense"}, &buf)
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("非法级别应回退为 info, 实际 %s", logger.GetLevel())
	}
}

func TestLogReporterWritesFields(t *testing.T) {
	var buf bytes.Buffer
	r := NewLogReporter(zerolog.New(&buf))

	r.Report(context.Background(), errors.New("boom"), map[string]string{"task": "crypto"})
	r.Report(context.Background(), nil, nil)

	out := buf.String()
	for _, want := range []string{`"reported":true`, `"task":"crypto"`, `"error":"boom"`, `"component":"reporter"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("输出缺少 %s: %s", want, out)
		}
	}
	if strings.Count(out, "\n") != 1 {
		t.Fatalf("nil 错误不应上报: %s", out)
	}
}
