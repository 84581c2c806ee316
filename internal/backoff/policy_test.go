package backoff

import (
	"testing"
	"time"
)

func TestDelayGrowth(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: 10 * time.Second, Factor: 2, Jitter: 0}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := p.Delay(tc.attempt); got != tc.want {
			t.Errorf("attempt %d: got %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestDelayClampedToMax(t *testing.T) {
	p := Policy{Initial: time.Second, Max: 3 * time.Second, Factor: 10, Jitter: 0}
	if got := p.Delay(5); got != 3*time.Second {
		t.Errorf("got %v, want max %v", got, 3*time.Second)
	}
}

func TestDelayJitterBounded(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: time.Minute, Factor: 2, Jitter: 0.5}

	low := p.delayWithRand(2, 0)
	high := p.delayWithRand(2, 0.999)
	if low != 200*time.Millisecond {
		t.Errorf("zero jitter: got %v, want 200ms", low)
	}
	if high <= low || high >= 300*time.Millisecond {
		t.Errorf("jittered delay %v outside (200ms, 300ms)", high)
	}
}

func TestDelayZeroAttemptTreatedAsFirst(t *testing.T) {
	p := Policy{Initial: 50 * time.Millisecond, Max: time.Second, Factor: 2, Jitter: 0}
	if got := p.Delay(0); got != 50*time.Millisecond {
		t.Errorf("got %v, want 50ms", got)
	}
}
