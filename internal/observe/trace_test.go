package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func useTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })
	return exp
}

func TestStartSpan_RecordsSession(t *testing.T) {
	exp := useTracer(t)

	ctx, span := StartSpan(context.Background(), "endpoint.Detect")
	ctx = WithSession(ctx, "kitchen")
	if len(TraceID(ctx)) != 32 {
		t.Errorf("TraceID = %q", TraceID(ctx))
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "endpoint.Detect" {
		t.Fatalf("spans = %+v", spans)
	}
	found := false
	for _, a := range spans[0].Attributes {
		if a.Key == "voxend.session" && a.Value.AsString() == "kitchen" {
			found = true
		}
	}
	if !found {
		t.Error("span missing voxend.session attribute")
	}
}

func TestSessionID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	if SessionID(ctx) != "" {
		t.Error("background context has a session")
	}
	if WithSession(ctx, "") != ctx {
		t.Error("empty session must leave ctx unchanged")
	}
	ctx = WithSession(ctx, "a")
	ctx = WithSession(ctx, "b")
	if got := SessionID(ctx); got != "b" {
		t.Errorf("SessionID = %q, want b", got)
	}
}

func TestTraceID_EmptyWithoutSpan(t *testing.T) {
	t.Parallel()
	if got := TraceID(context.Background()); got != "" {
		t.Errorf("TraceID = %q, want empty", got)
	}
}

func TestLogger(t *testing.T) {
	useTracer(t)

	tests := []struct {
		name    string
		ctx     func() (context.Context, func())
		want    []string
		notWant []string
	}{
		{
			name:    "bare context",
			ctx:     func() (context.Context, func()) { return context.Background(), func() {} },
			notWant: []string{"trace_id", "session"},
		},
		{
			name: "session only",
			ctx: func() (context.Context, func()) {
				return WithSession(context.Background(), "s1"), func() {}
			},
			want:    []string{"session=s1"},
			notWant: []string{"trace_id"},
		},
		{
			name: "span and session",
			ctx: func() (context.Context, func()) {
				ctx, span := StartSpan(context.Background(), "op")
				return WithSession(ctx, "s2"), func() { span.End() }
			},
			want: []string{"trace_id=", "span_id=", "session=s2"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t)
			ctx, done := tt.ctx()
			defer done()
			Logger(ctx).Info("utterance finalized")

			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("log %q missing %q", out, w)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(out, w) {
					t.Errorf("log %q must not contain %q", out, w)
				}
			}
		})
	}
}
