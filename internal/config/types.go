package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram     TelegramConfig     `json:"telegram"`
	Logging      LoggingConfig      `json:"logging"`
	Dispatch     DispatchConfig     `json:"dispatch"`
	Storage      *StorageConfig     `json:"storage,omitempty"`
	HTTP         HTTPConfig         `json:"http,omitempty"`
	Housekeeping HousekeepingConfig `json:"housekeeping,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty and supplied via MASSDM_TELEGRAM_TOKEN.
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	PollTimeout  string  `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level string `json:"level"`
	// JSON writes JSON lines to stdout; it takes precedence over Console.
	JSON    bool        `json:"json"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DispatchConfig controls the bulk DM engine.
//
// Defaults (when fields are omitted/zero):
//   - default_mode: "safe"
//   - confirm_timeout: "30s"
//   - send_timeout: "10s"
//   - global_rate_per_sec: 25 (negative disables the global ceiling)
//   - modes.safe: batch_size 1, delay "1.5s"
//   - modes.ultrafast: batch_size 50, delay "100ms"
type DispatchConfig struct {
	DefaultMode      string      `json:"default_mode,omitempty"`
	ConfirmTimeout   string      `json:"confirm_timeout,omitempty"`
	SendTimeout      string      `json:"send_timeout,omitempty"`
	GlobalRatePerSec float64     `json:"global_rate_per_sec,omitempty"`
	Modes            ModesConfig `json:"modes,omitempty"`
}

type ModesConfig struct {
	Safe      ModeConfig `json:"safe,omitempty"`
	UltraFast ModeConfig `json:"ultrafast,omitempty"`
}

type ModeConfig struct {
	BatchSize int    `json:"batch_size,omitempty"`
	Delay     string `json:"delay,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./massdm.db" }
type StorageConfig struct {
	Driver      string      `json:"driver"`
	Path        string      `json:"path,omitempty"`
	BusyTimeout string      `json:"busy_timeout,omitempty"` // sqlite
	Redis       RedisConfig `json:"redis,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

// HTTPConfig controls the optional ops server (/healthz, /metrics, pprof).
//
// Prefer binding to localhost. A non-loopback address requires a token when
// pprof is enabled.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8080"
	Pprof   bool   `json:"pprof,omitempty"`
	Token   string `json:"token,omitempty"` // bearer token for pprof (do not log)
}

// HousekeepingConfig controls the periodic maintenance cron.
type HousekeepingConfig struct {
	// Schedule is a cron spec (seconds optional) or descriptor like "@every 5m".
	Schedule     string `json:"schedule,omitempty"`
	JobRetention string `json:"job_retention,omitempty"`
}
