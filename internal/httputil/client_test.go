package httputil

import (
	"testing"
	"time"
)

func TestTimeoutFromSeconds(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"20", 20 * time.Second},
		{"5", 5 * time.Second},
		{"", DefaultTimeout},
		{"abc", DefaultTimeout},
		{"-3", DefaultTimeout},
	}
	for _, tt := range tests {
		if got := TimeoutFromSeconds(tt.in); got != tt.want {
			t.Errorf("TimeoutFromSeconds(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewClientDefaultsTimeout(t *testing.T) {
	if c := NewClient(0); c.Timeout != DefaultTimeout {
		t.Errorf("NewClient(0).Timeout = %v, want %v", c.Timeout, DefaultTimeout)
	}
	if c := NewClient(3 * time.Second); c.Timeout != 3*time.Second {
		t.Errorf("NewClient(3s).Timeout = %v, want 3s", c.Timeout)
	}
}
