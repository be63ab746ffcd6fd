package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvConfigPath    = "MASSDM_CONFIG"
	EnvTelegramToken = "MASSDM_TELEGRAM_TOKEN"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ".env")
// into the process environment. Existing variables win; missing files are
// ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// ApplyEnv overlays environment overrides onto cfg.
func ApplyEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	if tok := strings.TrimSpace(os.Getenv(EnvTelegramToken)); tok != "" {
		cfg.Telegram.Token = tok
	}
}

// PathFromEnv returns MASSDM_CONFIG or def.
func PathFromEnv(def string) string {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return def
}
