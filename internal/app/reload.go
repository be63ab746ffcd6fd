package app

import (
	"context"
	"strings"

	"massdm/internal/config"
	logx "massdm/pkg/logx"
)

// reloadLoop applies committed configs until ctx is done.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					break drain
				}
			}
			if cfg == nil {
				continue
			}
			a.applyConfig(ctx, last, cfg)
			last = cfg
		}
	}
}

// applyConfig pushes the reloadable parts of cfg to the running components.
// cfg has already passed validation.
func (a *App) applyConfig(ctx context.Context, prev, cfg *config.Config) {
	s, err := cfg.Resolve()
	if err != nil {
		a.log.Warn("config reload ignored", logx.Err(err))
		return
	}

	sections, attrs := config.SummarizeConfigChange(prev, cfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(prev, cfg); len(restart) > 0 {
		a.log.Warn("config changes require a restart to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogConfig(cfg))
	if err := a.ctrl.Reconfigure(mapPresets(s), s.RatePerSec); err != nil {
		a.log.Warn("dispatch presets rejected; keeping previous", logx.Err(err))
	}
	a.bot.Apply(mapBotSettings(cfg, s))
	a.hk.SetRetention(s.JobRetention)
	a.http.Reconfigure(ctx, mapHTTPConfig(cfg, s))
	if prev == nil || prev.Housekeeping.Schedule != cfg.Housekeeping.Schedule {
		if err := a.hk.Start(a.sup.Context(), s.HousekeepingSpec); err != nil {
			a.log.Warn("housekeeping schedule rejected; keeping previous", logx.Err(err))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
