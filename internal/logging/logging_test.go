package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		enabled zapcore.Level
		wantErr bool
	}{
		{name: "console_default", level: "info", format: "", enabled: zapcore.InfoLevel},
		{name: "console_debug", level: "debug", format: "console", enabled: zapcore.DebugLevel},
		{name: "json_warn", level: "warn", format: "JSON", enabled: zapcore.WarnLevel},
		{name: "bad_level", level: "loud", format: "console", wantErr: true},
		{name: "bad_format", level: "info", format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.level, tt.format)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			core := logger.Core()
			if !core.Enabled(tt.enabled) {
				t.Fatalf("level %v not enabled", tt.enabled)
			}
			if tt.enabled > zapcore.DebugLevel && core.Enabled(tt.enabled-1) {
				t.Fatalf("level %v unexpectedly enabled", tt.enabled-1)
			}
		})
	}
}
