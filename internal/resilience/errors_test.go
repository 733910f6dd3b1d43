package resilience

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("bad request"), false},
		{"transient error", NewTransientError(errors.New("rate limited"), 429), true},
		{"wrapped transient", fmt.Errorf("call failed: %w", NewTransientError(errors.New("overloaded"), 529)), true},
		{"connection refused", syscall.ECONNREFUSED, true},
		{"connection reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"message heuristic", errors.New("dial tcp: i/o timeout"), true},
		{"dns failure", errors.New("lookup example.gov: no such host"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("expected %d to be transient", code)
		}
	}
	for _, code := range []int{200, 201, 400, 401, 403, 404, 409, 422} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("expected %d to be permanent", code)
		}
	}
}
