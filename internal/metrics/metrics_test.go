package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserveTask(t *testing.T) {
	ObserveTask("test.seed", "success", "none", 3, 10*time.Millisecond)
	ObserveTask("test.seed", "failure", "remote_io", 0, time.Millisecond)

	if val := testutil.ToFloat64(bridgeTasksTotal.WithLabelValues("test.seed", "success", "none")); val != 1 {
		t.Errorf("expected one successful task, got %f", val)
	}
	if val := testutil.ToFloat64(bridgeItemsTotal.WithLabelValues("test.seed")); val != 3 {
		t.Errorf("expected 3 items, got %f", val)
	}
}

func TestActiveTaskGauge(t *testing.T) {
	before := testutil.ToFloat64(bridgeTasksActive)
	IncActiveTasks()
	IncActiveTasks()
	DecActiveTasks()
	if got := testutil.ToFloat64(bridgeTasksActive) - before; got != 1 {
		t.Errorf("expected gauge delta 1, got %f", got)
	}
	DecActiveTasks()
}

func TestAddStreamBytesIgnoresEmptyWrites(t *testing.T) {
	AddStreamBytes("test.content", 0)
	AddStreamBytes("test.content", 42)
	if val := testutil.ToFloat64(bridgeBytesTotal.WithLabelValues("test.content")); val != 42 {
		t.Errorf("expected 42 bytes, got %f", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
