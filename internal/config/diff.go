package config

import (
	"reflect"
	"strings"

	logx "massdm/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe structured
// fields for logging. Tokens and passwords are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.json", newCfg.Logging.JSON),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Dispatch, newCfg.Dispatch) {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.String("dispatch.default_mode", newCfg.Dispatch.DefaultMode),
			logx.Float64("dispatch.global_rate_per_sec", newCfg.Dispatch.GlobalRatePerSec),
			logx.Int("dispatch.ultrafast.batch_size", newCfg.Dispatch.Modes.UltraFast.BatchSize),
		)
	}

	oldStore, newStore := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	oldStore.Redis.Password, newStore.Redis.Password = "", ""
	if !reflect.DeepEqual(oldStore, newStore) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newStore.Driver),
			logx.String("storage.path", newStore.Path),
		)
	}

	if oldCfg.HTTP.Enabled != newCfg.HTTP.Enabled ||
		strings.TrimSpace(oldCfg.HTTP.Addr) != strings.TrimSpace(newCfg.HTTP.Addr) ||
		oldCfg.HTTP.Pprof != newCfg.HTTP.Pprof ||
		(oldCfg.HTTP.Token != "") != (newCfg.HTTP.Token != "") {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof),
		)
	}

	if oldCfg.Housekeeping != newCfg.Housekeeping {
		changed = append(changed, "housekeeping")
		attrs = append(attrs, logx.String("housekeeping.schedule", newCfg.Housekeeping.Schedule))
	}

	return changed, attrs
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}

// RestartRequired lists changed settings that only take effect after a
// process restart. Everything else is applied live.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Telegram.Token != newCfg.Telegram.Token {
		out = append(out, "telegram.token")
	}
	if !strings.EqualFold(strings.TrimSpace(oldCfg.Dispatch.DefaultMode), strings.TrimSpace(newCfg.Dispatch.DefaultMode)) {
		out = append(out, "dispatch.default_mode")
	}
	oldStore, newStore := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if !reflect.DeepEqual(oldStore, newStore) {
		out = append(out, "storage")
	}
	return out
}
