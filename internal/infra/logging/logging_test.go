//go:build !integration

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestWith_AttachesContextFields(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithUserID(ctx, "user-1")
	ctx = WithDeviceID(ctx, "dev-1")

	With(ctx, &base).Info().Msg("hello")

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("expected json log line, got %q: %v", buf.String(), err)
	}
	for k, want := range map[string]string{"trace_id": "trace-1", "user_id": "user-1", "device_id": "dev-1"} {
		if got[k] != want {
			t.Errorf("expected %s=%q, got %v", k, want, got[k])
		}
	}
	if TraceID(ctx) != "trace-1" {
		t.Errorf("expected TraceID to read back the id")
	}
}

func TestRedact(t *testing.T) {
	if Redact("ABCDEFGH1234", true) != "ABCDEFGH1234" {
		t.Error("expected dev mode to keep the value")
	}
	if got := Redact("ABCDEFGH1234", false); got != "ABCD...34" {
		t.Errorf("unexpected redaction %q", got)
	}
	if Redact("short", false) != "***" {
		t.Error("expected short values to be fully hidden")
	}
}
