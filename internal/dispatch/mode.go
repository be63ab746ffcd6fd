package dispatch

import (
	"fmt"
	"strings"
	"time"
)

type Mode string

const (
	ModeSafe      Mode = "safe"
	ModeUltraFast Mode = "ultrafast"
)

// Risk is a display-only classification of how likely a policy is to trip
// platform rate limits.
type Risk string

const (
	RiskLow  Risk = "low"
	RiskHigh Risk = "high"
)

// Policy is the throughput configuration of a job: BatchSize sends in flight
// per step and Delay between steps.
type Policy struct {
	Mode      Mode          `json:"mode"`
	BatchSize int           `json:"batch_size"`
	Delay     time.Duration `json:"delay"`
	Risk      Risk          `json:"risk"`
}

func (p Policy) Sequential() bool { return p.BatchSize <= 1 }

func (p Policy) Validate() error {
	if p.BatchSize < 1 {
		return fmt.Errorf("mode %s: batch size must be >= 1 (got %d)", p.Mode, p.BatchSize)
	}
	if p.Delay < 0 {
		return fmt.Errorf("mode %s: delay must be >= 0 (got %s)", p.Mode, p.Delay)
	}
	return nil
}

// Presets holds the policy bound to each mode.
type Presets struct {
	Safe      Policy
	UltraFast Policy
}

func DefaultPresets() Presets {
	return Presets{
		Safe:      Policy{Mode: ModeSafe, BatchSize: 1, Delay: 1500 * time.Millisecond, Risk: RiskLow},
		UltraFast: Policy{Mode: ModeUltraFast, BatchSize: 50, Delay: 100 * time.Millisecond, Risk: RiskHigh},
	}
}

func (ps Presets) Validate() error {
	if err := ps.Safe.Validate(); err != nil {
		return err
	}
	if ps.Safe.BatchSize != 1 {
		return fmt.Errorf("mode safe: batch size must be 1 (got %d)", ps.Safe.BatchSize)
	}
	return ps.UltraFast.Validate()
}

// Policy returns the preset for m. Unknown modes fall back to Safe.
func (ps Presets) Policy(m Mode) Policy {
	if m == ModeUltraFast {
		return ps.UltraFast
	}
	return ps.Safe
}

// Resolve maps a mode name or alias to its preset policy.
func (ps Presets) Resolve(name string) (Policy, error) {
	m, err := ParseMode(name)
	if err != nil {
		return Policy{}, err
	}
	return ps.Policy(m), nil
}

// Resolve uses DefaultPresets.
func Resolve(name string) (Policy, error) { return DefaultPresets().Resolve(name) }

// ParseMode accepts safe|slow|normal and ultrafast|fast|light, case-insensitively.
func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "safe", "slow", "normal":
		return ModeSafe, nil
	case "ultrafast", "fast", "light":
		return ModeUltraFast, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, name)
	}
}

// EstimatedDuration is ceil(n / BatchSize) * Delay; zero for n <= 0.
func EstimatedDuration(n int, p Policy) time.Duration {
	if n <= 0 {
		return 0
	}
	b := max(p.BatchSize, 1)
	steps := (n + b - 1) / b
	return time.Duration(steps) * p.Delay
}

// Steps is the number of loop iterations needed for n recipients.
func (p Policy) Steps(n int) int {
	if n <= 0 {
		return 0
	}
	b := max(p.BatchSize, 1)
	return (n + b - 1) / b
}
