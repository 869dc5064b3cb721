package retry

import (
	"testing"
	"time"
)

func TestPolicyDelay(t *testing.T) {
	tests := []struct {
		name  string
		p     Policy
		retry int
		want  time.Duration
	}{
		{"zero attempt", DefaultPolicy(), 0, 0},
		{"fixed stays flat", Policy{Mode: BackoffFixed, Initial: 2 * time.Second, Max: time.Minute}, 3, 2 * time.Second},
		{"linear grows", Policy{Mode: BackoffLinear, Initial: time.Second, Max: time.Minute}, 3, 3 * time.Second},
		{"exponential grows", Policy{Mode: BackoffExponential, Initial: time.Second, Max: time.Minute}, 4, 8 * time.Second},
		{"exponential capped", Policy{Mode: BackoffExponential, Initial: time.Second, Max: 5 * time.Second}, 10, 5 * time.Second},
		{"linear capped", Policy{Mode: BackoffLinear, Initial: 10 * time.Second, Max: 15 * time.Second}, 5, 15 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.Delay(tt.retry); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.retry, got, tt.want)
			}
		})
	}
}

func TestNewPolicyFallbacks(t *testing.T) {
	p := NewPolicy("bogus", 0, 0, -1)
	def := DefaultPolicy()
	if p != def {
		t.Errorf("expected defaults for invalid input, got %+v", p)
	}

	p = NewPolicy(BackoffFixed, time.Minute, time.Second, 5)
	if p.Initial != time.Second {
		t.Errorf("initial should be clamped to max, got %v", p.Initial)
	}
	if p.MaxRetries != 5 {
		t.Errorf("expected 5 retries, got %d", p.MaxRetries)
	}
}
