package app

import (
	"strings"

	"massdm/internal/config"
	"massdm/internal/storage"
)

// mapStorageConfig returns false when storage is disabled. Settings carry the
// already validated busy timeout.
func mapStorageConfig(cfg *config.Config, s config.Settings) (storage.Config, bool) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false
	}
	return storage.Config{
		Driver:        driver,
		Path:          strings.TrimSpace(sc.Path),
		BusyTimeout:   s.BusyTimeout,
		RedisAddr:     strings.TrimSpace(sc.Redis.Addr),
		RedisPassword: sc.Redis.Password,
		RedisDB:       sc.Redis.DB,
		RedisPrefix:   strings.TrimSpace(sc.Redis.Prefix),
	}, true
}
