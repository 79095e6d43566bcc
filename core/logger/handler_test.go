package logger

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func newTestHandler(buf *bytes.Buffer, format logFormat) (*structuredHandler, *asyncWriter) {
	aw := newAsyncWriter([]io.Writer{buf}, 1024)
	return newStructuredHandler(handlerConfig{
		level:    slog.LevelInfo,
		writer:   aw,
		format:   format,
		keyOrder: append([]string(nil), defaultKeyOrder...),
	}), aw
}

func closeWriter(t *testing.T, aw *asyncWriter) {
	t.Helper()
	if err := aw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := aw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestStructuredHandlerKVOrder(t *testing.T) {
	buf := &bytes.Buffer{}
	handler, aw := newTestHandler(buf, formatKV)
	ctx := WithRID(Background(), "rid-123")
	ctx = WithUpdateMeta(ctx, 42, 7, 9)

	log := slog.New(handler).With("component", "app")
	LogEvent(ctx, log, slog.LevelInfo, "test.event",
		slog.String("status", "ok"),
		slog.String("cause", "unit"),
	)
	closeWriter(t, aw)

	line := strings.TrimSpace(buf.String())
	tokens := strings.Split(line, " ")
	if len(tokens) < 6 {
		t.Fatalf("unexpected token count: %d (%s)", len(tokens), line)
	}
	expected := []string{"ts=", "level=INFO", "component=app", "event=test.event", "status=ok", "rid=rid-123"}
	for i, prefix := range expected {
		if !strings.HasPrefix(tokens[i], prefix) {
			t.Fatalf("token %d = %s, expected prefix %s", i, tokens[i], prefix)
		}
	}
}

func TestStructuredHandlerJSONOrder(t *testing.T) {
	buf := &bytes.Buffer{}
	handler, aw := newTestHandler(buf, formatJSON)
	ctx := WithRID(Background(), "rid-json")

	log := slog.New(handler).With("component", CompOrders)
	LogEvent(ctx, log, slog.LevelError, "order.confirm",
		slog.String("status", "fail"),
		slog.Int64("order_id", 17),
		slog.String("err_code", "ALREADY_FULFILLED"),
	)
	closeWriter(t, aw)

	line := strings.TrimSpace(buf.String())
	prefixes := []string{`{"ts":`, `"level":"ERROR"`, `"component":"service.orders"`, `"event":"order.confirm"`, `"status":"fail"`, `"rid":"rid-json"`, `"order_id":17`}
	pos := -1
	for _, pref := range prefixes {
		idx := strings.Index(line, pref)
		if idx == -1 || idx < pos {
			t.Fatalf("prefix %s not found in order within %s", pref, line)
		}
		pos = idx
	}
}

func TestStructuredHandlerCompactRID(t *testing.T) {
	buf := &bytes.Buffer{}
	handler, aw := newTestHandler(buf, formatJSON)
	rawRID := "12:34:56"
	log := slog.New(handler)
	LogEvent(WithRID(Background(), rawRID), log, slog.LevelInfo, "rid.test")
	closeWriter(t, aw)

	line := buf.String()
	if !strings.Contains(line, `"rid":"c.y.1k"`) {
		t.Fatalf("expected compact rid in JSON, got %s", line)
	}
	if !strings.Contains(line, `"rid_full":"`+rawRID+`"`) {
		t.Fatalf("expected rid_full in JSON output, got %s", line)
	}
	if !strings.Contains(line, `"component":"app"`) {
		t.Fatalf("expected default component, got %s", line)
	}
}

func TestStructuredHandlerRedactsSecrets(t *testing.T) {
	buf := &bytes.Buffer{}
	handler, aw := newTestHandler(buf, formatKV)
	log := slog.New(handler)
	LogEvent(Background(), log, slog.LevelInfo, "secret.test",
		slog.String("secret", "ABCD-1234"),
		slog.Group("req", slog.String("signature", "deadbeef")),
		slog.Int64("order_id", 5),
	)
	closeWriter(t, aw)

	line := buf.String()
	if strings.Contains(line, "ABCD-1234") || strings.Contains(line, "deadbeef") {
		t.Fatalf("secret leaked into log line: %s", line)
	}
	if !strings.Contains(line, "req.signature=[redacted]") {
		t.Fatalf("expected redacted group key, got %s", line)
	}
}

func TestStructuredHandlerDurations(t *testing.T) {
	buf := &bytes.Buffer{}
	handler, aw := newTestHandler(buf, formatKV)
	LogEvent(Background(), slog.New(handler), slog.LevelInfo, "dur.test",
		slog.Duration("duration", 1500*time.Microsecond),
		slog.Duration("startup", 2*time.Second),
	)
	closeWriter(t, aw)

	line := buf.String()
	if !strings.Contains(line, "duration_ms=2") || !strings.Contains(line, "startup_ms=2000") {
		t.Fatalf("unexpected duration rendering: %s", line)
	}
}

func TestStructuredHandlerLevelFilter(t *testing.T) {
	buf := &bytes.Buffer{}
	handler, aw := newTestHandler(buf, formatKV)
	LogEvent(Background(), slog.New(handler), slog.LevelDebug, "hidden")
	closeWriter(t, aw)
	if buf.Len() != 0 {
		t.Fatalf("debug line should be filtered: %s", buf.String())
	}
}

func TestRatioSampler(t *testing.T) {
	s := newRatioSampler(1, 3)
	got := []bool{s.Allow(), s.Allow(), s.Allow(), s.Allow()}
	want := []bool{true, false, false, true}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("allow[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if n, d := parseRatioSpec("junk"); n != 0 || d != 0 {
		t.Fatalf("junk spec should disable sampling, got %d/%d", n, d)
	}
}

func TestWriterRejectsWritesAfterClose(t *testing.T) {
	buf := &bytes.Buffer{}
	aw := newAsyncWriter([]io.Writer{buf}, 1024)
	if err := aw.Write([]byte("one\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	closeWriter(t, aw)
	if err := aw.Write([]byte("two\n")); err != errWriterClosed {
		t.Fatalf("write after close = %v, want errWriterClosed", err)
	}
	if err := aw.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if got := buf.String(); got != "one\n" {
		t.Fatalf("sink = %q", got)
	}
}
