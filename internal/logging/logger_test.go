package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		development bool
		level       string
		wantDebug   bool
	}{
		"development":           {development: true, wantDebug: true},
		"production":            {development: false, wantDebug: false},
		"production with debug": {development: false, level: "debug", wantDebug: true},
		"development warn":      {development: true, level: "warn", wantDebug: false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			logger, err := New(tc.development, tc.level)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			defer logger.Sync() //nolint:errcheck // best-effort flush
			if got := logger.Core().Enabled(zapcore.DebugLevel); got != tc.wantDebug {
				t.Fatalf("debug enabled = %v, want %v", got, tc.wantDebug)
			}
		})
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	if _, err := New(false, "chatty"); err == nil {
		t.Fatal("expected an error for an unknown level")
	}
}
