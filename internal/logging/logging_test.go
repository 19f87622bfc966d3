package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewProducesJSONByDefault(t *testing.T) {
	logger := New("info", "json")
	var buf bytes.Buffer
	logger = logger.Output(&buf)
	logger.Info().Str("k", "v").Msg("hello")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if out["message"] != "hello" || out["k"] != "v" {
		t.Fatalf("got %+v", out)
	}
}

func TestNewHonorsLevel(t *testing.T) {
	New("warn", "json")
	if zerolog.GlobalLevel() != zerolog.WarnLevel {
		t.Fatalf("got global level %v", zerolog.GlobalLevel())
	}
}

func TestRecoverPanicSwallowsPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	func() {
		defer RecoverPanic(logger, "test-goroutine", map[string]any{"id": 1})
		panic("boom")
	}()

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if out["goroutine"] != "test-goroutine" {
		t.Fatalf("got %+v", out)
	}
}

func TestRecoverPanicNoopWithoutPanic(t *testing.T) {
	logger := zerolog.Nop()
	func() {
		defer RecoverPanic(logger, "test-goroutine", nil)
	}()
}
