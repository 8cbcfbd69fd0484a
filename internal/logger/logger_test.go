package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func plain(buf *bytes.Buffer, level slog.Level) *slog.Logger {
	return slog.New(NewPrettyHandler(buf, &slog.HandlerOptions{Level: level}).WithoutColor())
}

func TestOpenFormats(t *testing.T) {
	t.Parallel()

	for _, format := range []string{"", "pretty", "text", "JSON"} {
		var buf bytes.Buffer
		log, err := Open(&buf, format, slog.LevelInfo)
		if err != nil {
			t.Fatalf("Open(%q): %v", format, err)
		}
		log.With("device", "sim0").Info("opened", "cores", 4)
		out := buf.String()
		if !strings.Contains(out, "opened") || !strings.Contains(out, "sim0") {
			t.Fatalf("Open(%q) output: %s", format, out)
		}
	}
	if _, err := Open(&bytes.Buffer{}, "xml", slog.LevelInfo); err == nil {
		t.Fatal("expected an error for an unknown format")
	}
}

func TestJSONLevelFiltering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelWarn)
	log.Info("hidden")
	log.Debug("hidden too")
	if buf.Len() > 0 {
		t.Fatalf("expected no output below warn, got: %s", buf.String())
	}
	log.WithGroup("queue").Warn("stalled", "ready", 3)
	if out := buf.String(); !strings.Contains(out, `"queue":{"ready":3}`) {
		t.Fatalf("grouped attribute missing: %s", out)
	}
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ctx := WithContext(context.Background(), Text(&buf, slog.LevelInfo))
	FromContext(ctx).Info("via context")
	if !strings.Contains(buf.String(), "via context") {
		t.Fatalf("context logger not used: %s", buf.String())
	}
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext without a logger returned nil")
	}
	Discard().Error("dropped")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	} {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestPrettyLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := plain(&buf, slog.LevelDebug)
	log.Debug("kernel started", "kernel", "vecadd", "args_addr", uint64(0x10040), "groups", uint64(7))
	out := strings.TrimSuffix(buf.String(), "\n")
	if strings.Contains(out, "\033[") {
		t.Fatalf("color escapes with color disabled: %q", out)
	}
	if !strings.HasSuffix(out, "DBG kernel started kernel=vecadd args_addr=0x10040 groups=7") {
		t.Fatalf("unexpected line: %q", out)
	}
}

func TestPrettyGroupsAndAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, nil).WithoutColor()
	log := slog.New(h.WithAttrs([]slog.Attr{slog.String("device", "sim0")}).WithGroup("sched").WithGroup("queue"))
	log.Info("drained", "ready", 0, slog.Group("stats", slog.Int("failed", 1)))

	out := buf.String()
	for _, want := range []string{"device=sim0", "sched.queue.ready=0", "sched.queue.stats.failed=1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
	if h.WithGroup("") != h {
		t.Fatal("an empty group must return the same handler")
	}
}

func TestPrettyQuoting(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := plain(&buf, slog.LevelInfo)
	log.Info("x", "spaced", "hello world", "bare", "simple", "empty", "")
	out := buf.String()
	for _, want := range []string{`spaced="hello world"`, "bare=simple", `empty=""`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %q", want, out)
		}
	}
}

func TestPrettyEnabled(t *testing.T) {
	t.Parallel()

	h := NewPrettyHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn})
	ctx := context.Background()
	if h.Enabled(ctx, slog.LevelInfo) || !h.Enabled(ctx, slog.LevelWarn) || !h.Enabled(ctx, slog.LevelError) {
		t.Fatal("level threshold not honoured")
	}
	if !NewPrettyHandler(&bytes.Buffer{}, nil).Enabled(ctx, slog.LevelInfo) {
		t.Fatal("default threshold should be info")
	}
}
