package dispatch

import (
	"errors"
	"testing"
	"time"
)

func TestResolveAliases(t *testing.T) {
	tests := []struct {
		name string
		want Mode
	}{
		{"safe", ModeSafe},
		{"slow", ModeSafe},
		{"Normal", ModeSafe},
		{"ultrafast", ModeUltraFast},
		{" FAST ", ModeUltraFast},
		{"light", ModeUltraFast},
	}
	for _, tt := range tests {
		p, err := Resolve(tt.name)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", tt.name, err)
		}
		if p.Mode != tt.want {
			t.Fatalf("Resolve(%q)=%s want %s", tt.name, p.Mode, tt.want)
		}
	}
}

func TestResolveInvalid(t *testing.T) {
	for _, name := range []string{"", "turbo", "safe!"} {
		_, err := Resolve(name)
		if !errors.Is(err, ErrInvalidMode) {
			t.Fatalf("Resolve(%q) err=%v want ErrInvalidMode", name, err)
		}
		if !errors.Is(err, ErrConfiguration) {
			t.Fatalf("Resolve(%q) should be a configuration error", name)
		}
	}
}

func TestDefaultPresets(t *testing.T) {
	ps := DefaultPresets()
	if ps.Safe.BatchSize != 1 || ps.Safe.Delay != 1500*time.Millisecond || ps.Safe.Risk != RiskLow {
		t.Fatalf("unexpected safe preset: %+v", ps.Safe)
	}
	if ps.UltraFast.BatchSize != 50 || ps.UltraFast.Delay != 100*time.Millisecond || ps.UltraFast.Risk != RiskHigh {
		t.Fatalf("unexpected ultrafast preset: %+v", ps.UltraFast)
	}
	if err := ps.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestPresetsValidate(t *testing.T) {
	ps := DefaultPresets()
	ps.Safe.BatchSize = 5
	if err := ps.Validate(); err == nil {
		t.Fatalf("safe with batch 5 should be rejected")
	}
	ps = DefaultPresets()
	ps.UltraFast.BatchSize = 0
	if err := ps.Validate(); err == nil {
		t.Fatalf("batch 0 should be rejected")
	}
	ps = DefaultPresets()
	ps.UltraFast.Delay = -time.Second
	if err := ps.Validate(); err == nil {
		t.Fatalf("negative delay should be rejected")
	}
}

func TestEstimatedDuration(t *testing.T) {
	ps := DefaultPresets()
	tests := []struct {
		n    int
		p    Policy
		want time.Duration
	}{
		{0, ps.Safe, 0},
		{-3, ps.UltraFast, 0},
		{1, ps.Safe, 1500 * time.Millisecond},
		{100, ps.Safe, 150 * time.Second},
		{1, ps.UltraFast, 100 * time.Millisecond},
		{50, ps.UltraFast, 100 * time.Millisecond},
		{51, ps.UltraFast, 200 * time.Millisecond},
		{100, ps.UltraFast, 200 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := EstimatedDuration(tt.n, tt.p); got != tt.want {
			t.Fatalf("EstimatedDuration(%d, %s)=%s want %s", tt.n, tt.p.Mode, got, tt.want)
		}
	}
}

func TestEstimatedDurationMonotonic(t *testing.T) {
	ps := DefaultPresets()
	for _, p := range []Policy{ps.Safe, ps.UltraFast} {
		prev := time.Duration(0)
		for n := 0; n <= 500; n++ {
			d := EstimatedDuration(n, p)
			if d < prev {
				t.Fatalf("%s: estimate decreased at n=%d (%s < %s)", p.Mode, n, d, prev)
			}
			prev = d
		}
	}
	for n := 1; n <= 500; n++ {
		if EstimatedDuration(n, ps.UltraFast) > EstimatedDuration(n, ps.Safe) {
			t.Fatalf("ultrafast slower than safe at n=%d", n)
		}
	}
}
