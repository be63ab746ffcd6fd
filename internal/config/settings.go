package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	logx "massdm/pkg/logx"
)

// Settings is the validated, typed form of Config.
type Settings struct {
	PollTimeout time.Duration

	DefaultMode    string
	ConfirmTimeout time.Duration
	SendTimeout    time.Duration
	RatePerSec     float64
	SafeBatch      int
	SafeDelay      time.Duration
	FastBatch      int
	FastDelay      time.Duration

	BusyTimeout time.Duration

	HTTPAddr string

	HousekeepingSpec string
	JobRetention     time.Duration
}

const (
	DefaultConfirmTimeout = 30 * time.Second
	DefaultSendTimeout    = 10 * time.Second
	DefaultRatePerSec     = 25
	DefaultHTTPAddr       = "127.0.0.1:8080"
	DefaultHousekeeping   = "@every 5m"
	DefaultJobRetention   = 30 * 24 * time.Hour
)

// Resolve parses durations, applies defaults and validates cross-field rules.
func (c *Config) Resolve() (Settings, error) {
	var s Settings
	if c == nil {
		return s, errors.New("config is nil")
	}
	var errs []error
	dur := func(path, raw string, def time.Duration) time.Duration {
		d, err := ParseDurationOrDefault(path, raw, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}

	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required (or set MASSDM_TELEGRAM_TOKEN)"))
	}
	s.PollTimeout = dur("telegram.poll_timeout", c.Telegram.PollTimeout, 10*time.Second)

	if _, err := logx.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}

	d := c.Dispatch
	s.DefaultMode = strings.ToLower(strings.TrimSpace(d.DefaultMode))
	if s.DefaultMode == "" {
		s.DefaultMode = "safe"
	}
	s.ConfirmTimeout = dur("dispatch.confirm_timeout", d.ConfirmTimeout, DefaultConfirmTimeout)
	s.SendTimeout = dur("dispatch.send_timeout", d.SendTimeout, DefaultSendTimeout)
	switch {
	case d.GlobalRatePerSec == 0:
		s.RatePerSec = DefaultRatePerSec
	case d.GlobalRatePerSec < 0:
		s.RatePerSec = 0
	default:
		s.RatePerSec = d.GlobalRatePerSec
	}

	s.SafeBatch = d.Modes.Safe.BatchSize
	if s.SafeBatch == 0 {
		s.SafeBatch = 1
	}
	if s.SafeBatch != 1 {
		errs = append(errs, fmt.Errorf("dispatch.modes.safe.batch_size must be 1 (got %d)", s.SafeBatch))
	}
	s.SafeDelay = dur("dispatch.modes.safe.delay", d.Modes.Safe.Delay, 1500*time.Millisecond)

	s.FastBatch = d.Modes.UltraFast.BatchSize
	if s.FastBatch == 0 {
		s.FastBatch = 50
	}
	if s.FastBatch < 1 {
		errs = append(errs, fmt.Errorf("dispatch.modes.ultrafast.batch_size must be >= 1 (got %d)", s.FastBatch))
	}
	s.FastDelay = dur("dispatch.modes.ultrafast.delay", d.Modes.UltraFast.Delay, 100*time.Millisecond)

	if c.Storage != nil {
		s.BusyTimeout = dur("storage.busy_timeout", c.Storage.BusyTimeout, 5*time.Second)
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none", "memory", "file", "sqlite", "sqlite3":
		case "redis":
			if strings.TrimSpace(c.Storage.Redis.Addr) == "" {
				errs = append(errs, errors.New("storage.redis.addr is required for the redis driver"))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
		}
	}

	s.HTTPAddr = strings.TrimSpace(c.HTTP.Addr)
	if s.HTTPAddr == "" {
		s.HTTPAddr = DefaultHTTPAddr
	}
	if c.HTTP.Enabled && c.HTTP.Pprof && !isLoopbackAddr(s.HTTPAddr) && strings.TrimSpace(c.HTTP.Token) == "" {
		errs = append(errs, fmt.Errorf("http.token is required when pprof is exposed on %s", s.HTTPAddr))
	}

	s.HousekeepingSpec = strings.TrimSpace(c.Housekeeping.Schedule)
	if s.HousekeepingSpec == "" {
		s.HousekeepingSpec = DefaultHousekeeping
	}
	s.JobRetention = dur("housekeeping.job_retention", c.Housekeeping.JobRetention, DefaultJobRetention)

	return s, errors.Join(errs...)
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault returns def for an empty field. An explicit "0s"
// is kept so that delays can be disabled.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	return ParseDurationField(path, raw)
}
