package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestSetLevel(t *testing.T) {
	defer level.SetLevel(zapcore.InfoLevel)

	if err := SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel(debug): %v", err)
	}
	if !New("test").Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug not enabled after SetLevel(debug)")
	}
	if err := SetLevel("warn"); err != nil {
		t.Fatal(err)
	}
	if New("test").Core().Enabled(zapcore.InfoLevel) {
		t.Error("info still enabled at warn")
	}
	if err := SetLevel("loud"); err == nil {
		t.Error("unknown level accepted")
	}
}
