package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestJSONEmitsStructuredFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo)
	log.Info("run started", "layers", 4)

	out := buf.String()
	for _, want := range []string{"run started", `"layers":4`, `"level":"INFO"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output: %s", want, out)
		}
	}
}

func TestJSONFiltersBelowLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelWarn)

	log.Debug("hidden")
	log.Info("hidden too")
	if buf.Len() != 0 {
		t.Fatalf("info/debug leaked at warn level: %s", buf.String())
	}

	log.Warn("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Fatalf("warn suppressed: %s", buf.String())
	}
}

func TestWithBindsFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo).With("component", "bench")
	log.Info("step done")

	out := buf.String()
	if !strings.Contains(out, `"component":"bench"`) || !strings.Contains(out, "step done") {
		t.Fatalf("bound field missing: %s", out)
	}
}

func TestWithGroupNamespacesFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo).WithGroup("api")
	log.Info("request", "route", "/v1/bench")

	out := buf.String()
	if !strings.Contains(out, `"api"`) || !strings.Contains(out, `"route":"/v1/bench"`) {
		t.Fatalf("group missing: %s", out)
	}
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo)

	ctx := WithContext(context.Background(), log)
	FromContext(ctx).Info("via context")
	if !strings.Contains(buf.String(), "via context") {
		t.Fatalf("context logger not used: %s", buf.String())
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	t.Parallel()
	log := FromContext(context.Background())
	if log == nil {
		t.Fatal("nil fallback logger")
	}
	log.Debug("discarded at default level")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := ParseLevel(tc.in); got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestPrettyLineFormat(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := Pretty(&buf, slog.LevelDebug)
	log.Info("bench run complete", "id", "abc", "note", "two words")

	out := buf.String()
	for _, want := range []string{"INFO", "bench run complete", "id=abc", `note="two words"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in line: %s", want, out)
		}
	}
	if !strings.HasSuffix(out, "\n") {
		t.Fatalf("line not newline terminated: %q", out)
	}
}

func TestPrettyHandlerLevelGate(t *testing.T) {
	t.Parallel()
	h := NewPrettyHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn})
	ctx := context.Background()

	if h.Enabled(ctx, slog.LevelInfo) {
		t.Error("info enabled at warn level")
	}
	if !h.Enabled(ctx, slog.LevelError) {
		t.Error("error disabled at warn level")
	}
}

func TestPrettyHandlerGroupPrefixes(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, nil)

	if h.WithGroup("") != h {
		t.Fatal("empty group should be a no-op")
	}

	log := slog.New(h.WithGroup("api").WithGroup("bench").WithAttrs(
		[]slog.Attr{slog.String("id", "x1")},
	))
	log.Info("timing", "steps", 8)

	out := buf.String()
	if !strings.Contains(out, "api.bench.id=x1") {
		t.Fatalf("bound attr not prefixed: %s", out)
	}
	if !strings.Contains(out, "api.bench.steps=8") {
		t.Fatalf("record attr not prefixed: %s", out)
	}
}

func TestPrettyHandlerDerivedSharesWriter(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	base := NewPrettyHandler(&buf, nil)
	derived := slog.New(base.WithAttrs([]slog.Attr{slog.Int("seed", 7)}))

	derived.Info("first")
	slog.New(base).Info("second")

	out := buf.String()
	if !strings.Contains(out, "seed=7") || !strings.Contains(out, "second") {
		t.Fatalf("expected both lines on one writer: %s", out)
	}
}
