package app

import (
	"time"

	"massdm/internal/bot"
	"massdm/internal/config"
	"massdm/internal/dispatch"
	"massdm/internal/observability/httpserver"
	logx "massdm/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		JSON:    cfg.Logging.JSON,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapPresets(s config.Settings) dispatch.Presets {
	ps := dispatch.DefaultPresets()
	ps.Safe.BatchSize = s.SafeBatch
	ps.Safe.Delay = s.SafeDelay
	ps.UltraFast.BatchSize = s.FastBatch
	ps.UltraFast.Delay = s.FastDelay
	return ps
}

func mapBotSettings(cfg *config.Config, s config.Settings) bot.Settings {
	return bot.Settings{
		Owners:         cfg.Telegram.OwnerUserIDs,
		ConfirmTimeout: s.ConfirmTimeout,
	}
}

func mapHTTPConfig(cfg *config.Config, s config.Settings) httpserver.Config {
	return httpserver.Config{
		Enabled: cfg.HTTP.Enabled,
		Addr:    s.HTTPAddr,
		Pprof:   cfg.HTTP.Pprof,
		Token:   cfg.HTTP.Token,
		// No write timeout: /debug/pprof/profile streams for 30s by default.
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
}
