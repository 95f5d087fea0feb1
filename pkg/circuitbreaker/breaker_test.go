package circuitbreaker

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *fakeClock) {
	clock := newFakeClock()
	return New(Config{Threshold: threshold, Cooldown: cooldown, Clock: clock.Now}), clock
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	if cfg.Threshold != 5 || cfg.Cooldown != 30*time.Second {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

func TestNew_DefaultsForNonPositiveValues(t *testing.T) {
	t.Parallel()
	for _, cfg := range []Config{{}, {Threshold: -1, Cooldown: -1}} {
		b := New(cfg)
		for range 4 {
			b.RecordFailure()
		}
		if b.State() != Closed {
			t.Errorf("%+v: expected closed after 4 failures", cfg)
		}
		b.RecordFailure()
		if b.State() != Open {
			t.Errorf("%+v: expected open after 5 failures", cfg)
		}
		if got := b.RetryAfter(); got <= 29*time.Second || got > 30*time.Second {
			t.Errorf("%+v: expected default cooldown, got %v", cfg, got)
		}
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(3, time.Minute)

	if !b.Allow() {
		t.Fatal("expected closed breaker to allow")
	}
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != Closed {
		t.Fatal("expected closed state before threshold")
	}
	b.RecordFailure()
	if b.State() != Open {
		t.Fatalf("expected open state after threshold, got %s", b.State())
	}
	if b.Allow() {
		t.Error("expected open breaker to reject")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != Closed || b.Failures() != 2 {
		t.Errorf("expected non-consecutive failures to keep it closed, got %s with %d", b.State(), b.Failures())
	}
}

func TestBreaker_SingleProbeAfterCooldown(t *testing.T) {
	t.Parallel()
	b, clock := newTestBreaker(2, time.Minute)
	b.RecordFailure()
	b.RecordFailure()

	clock.Advance(20 * time.Second)
	if b.Allow() {
		t.Fatal("expected rejection during cooldown")
	}
	if got := b.RetryAfter(); got != 40*time.Second {
		t.Errorf("expected 40s remaining, got %v", got)
	}

	clock.Advance(40 * time.Second)
	if !b.Allow() {
		t.Fatal("expected one probe after cooldown")
	}
	if b.State() != HalfOpen {
		t.Errorf("expected half-open, got %s", b.State())
	}
	if b.Allow() {
		t.Error("expected a second call to wait for the probe")
	}
	if got := b.RetryAfter(); got != 0 {
		t.Errorf("expected no retry-after while half-open, got %v", got)
	}
}

func TestBreaker_ProbeOutcome(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		succeed bool
		want    State
	}{
		{"success closes", true, Closed},
		{"failure reopens", false, Open},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, clock := newTestBreaker(2, time.Minute)
			b.RecordFailure()
			b.RecordFailure()
			clock.Advance(time.Minute)
			if !b.Allow() {
				t.Fatal("expected probe")
			}

			if tt.succeed {
				b.RecordSuccess()
			} else {
				b.RecordFailure()
			}
			if b.State() != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, b.State())
			}
			if tt.want == Open && b.RetryAfter() != time.Minute {
				t.Errorf("expected a fresh cooldown, got %v", b.RetryAfter())
			}
			if tt.want == Closed && (!b.Allow() || !b.Allow()) {
				t.Error("expected closed breaker to allow every call")
			}
		})
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(2, time.Minute)
	b.RecordFailure()
	b.RecordFailure()

	b.Reset()
	if b.State() != Closed || b.Failures() != 0 {
		t.Errorf("expected closed with no failures, got %s with %d", b.State(), b.Failures())
	}
	if !b.Allow() {
		t.Error("expected reset breaker to allow")
	}
}

func TestBreaker_StateString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		state    State
		expected string
	}{
		{Closed, "closed"},
		{Open, "open"},
		{HalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.expected)
		}
	}
}

func TestRegistry_GetCreatesBreaker(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Config{Threshold: 5, Cooldown: time.Second})

	b1 := r.Get("service-a")
	b2 := r.Get("service-a")
	b3 := r.Get("service-b")

	// Same key should return same breaker
	if b1 != b2 {
		t.Error("expected same breaker for same key")
	}

	// Different key should return different breaker
	if b1 == b3 {
		t.Error("expected different breaker for different key")
	}

	stats := r.Stats()
	if stats.Total != 2 {
		t.Errorf("expected 2 breakers, got %d", stats.Total)
	}
}

func TestRegistry_Stats(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Config{Threshold: 2, Cooldown: time.Second})

	// Create breakers in different states
	b1 := r.Get("service-a")
	b2 := r.Get("service-b")
	_ = r.Get("service-c") // stays closed

	// Open b1
	b1.RecordFailure()
	b1.RecordFailure()

	// Keep b2 closed
	_ = b2

	stats := r.Stats()
	if stats.Total != 3 {
		t.Errorf("expected 3 total, got %d", stats.Total)
	}
	if stats.Open != 1 {
		t.Errorf("expected 1 open, got %d", stats.Open)
	}
	if stats.Closed != 2 {
		t.Errorf("expected 2 closed, got %d", stats.Closed)
	}
}

func TestRegistry_OpenKeys(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Config{Threshold: 1, Cooldown: time.Minute})

	if keys := r.OpenKeys(); len(keys) != 0 {
		t.Fatalf("expected no open keys, got %v", keys)
	}

	r.Get("hooks.b.example").RecordFailure()
	r.Get("hooks.a.example").RecordFailure()
	r.Get("hooks.c.example").RecordSuccess()

	keys := r.OpenKeys()
	if len(keys) != 2 || keys[0] != "hooks.a.example" || keys[1] != "hooks.b.example" {
		t.Errorf("expected sorted open hosts, got %v", keys)
	}
}

func TestRegistry_OnStateChange(t *testing.T) {
	t.Parallel()

	type change struct {
		key      string
		from, to State
	}
	var changes []change
	clock := newFakeClock()
	r := NewRegistry(Config{
		Threshold: 2,
		Cooldown:  time.Second,
		Clock:     clock.Now,
		OnStateChange: func(key string, from, to State) {
			changes = append(changes, change{key, from, to})
		},
	})

	b := r.Get("hooks.example.com")
	b.RecordFailure()
	b.RecordFailure()
	clock.Advance(time.Second)
	if !b.Allow() {
		t.Fatal("expected half-open breaker to allow a request")
	}
	b.RecordSuccess()

	want := []change{
		{"hooks.example.com", Closed, Open},
		{"hooks.example.com", Open, HalfOpen},
		{"hooks.example.com", HalfOpen, Closed},
	}
	if len(changes) != len(want) {
		t.Fatalf("expected %d transitions, got %+v", len(want), changes)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("transition %d = %+v, want %+v", i, changes[i], want[i])
		}
	}
}
