package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"massdm/internal/bot"
	"massdm/internal/config"
	"massdm/internal/dispatch"
	"massdm/internal/eventbus"
	"massdm/internal/metrics"
	"massdm/internal/observability/httpserver"
	"massdm/internal/runtime/supervisor"
	"massdm/internal/storage"
	kit "massdm/internal/transport"
	"massdm/internal/transport/telegram"
	logx "massdm/pkg/logx"
)

type Option func(*options)

type options struct {
	adapter kit.Adapter
}

// WithAdapter replaces the Telegram adapter, e.g. with a fake in tests.
func WithAdapter(ad kit.Adapter) Option { return func(o *options) { o.adapter = ad } }

type App struct {
	cfgm     *config.ConfigManager
	settings config.Settings
	sup      *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	reg   *prometheus.Registry

	adapter kit.Adapter
	ctrl    *dispatch.Controller
	bot     *bot.Bot
	http    *httpserver.Service
	hk      *housekeeper

	updates chan kit.Update
}

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	settings, err := cfg.Resolve()
	if err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))

	ad := o.adapter
	if ad == nil {
		tg, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: settings.PollTimeout,
		}, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
		ad = tg
	}

	var store storage.Store
	if sc, enabled := mapStorageConfig(cfg, settings); enabled {
		store, err = storage.Open(sc, log)
		if err != nil {
			return nil, err
		}
		appLog.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	bus := eventbus.New()

	mode, err := dispatch.ParseMode(settings.DefaultMode)
	if err != nil {
		return nil, fmt.Errorf("dispatch.default_mode: %w", err)
	}
	ctrlOpts := []dispatch.Option{
		dispatch.WithLogger(log),
		dispatch.WithBus(bus),
		dispatch.WithMetrics(metrics.NewPrometheusSink(reg, log)),
		dispatch.WithPresets(mapPresets(settings)),
		dispatch.WithDefaultMode(mode),
		dispatch.WithSendTimeout(settings.SendTimeout),
		dispatch.WithRateLimit(settings.RatePerSec),
	}
	if store != nil {
		ctrlOpts = append(ctrlOpts, dispatch.WithJournal(storeJournal{store: store}))
	}
	ctrl := dispatch.NewController(bot.NewDeliveryClient(ad), ctrlOpts...)

	b := bot.New(bot.Deps{
		Adapter:    ad,
		Controller: ctrl,
		Store:      store,
		Log:        log,
		Settings:   mapBotSettings(cfg, settings),
	})

	a := &App{
		cfgm:     cfgm,
		settings: settings,
		log:      appLog,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		reg:      reg,
		adapter:  ad,
		ctrl:     ctrl,
		bot:      b,
		updates:  make(chan kit.Update, 256),
	}
	a.http = httpserver.New(mapHTTPConfig(cfg, settings), reg, a.status, log)
	a.hk = newHousekeeper(log, store, ctrl, a.refreshMenu, settings.JobRetention)
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// Reloads are validated before they are committed or published.
	a.cfgm.SetLogger(a.log)
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := cfg.Resolve()
		return err
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go("bot.run", func(c context.Context) error {
		return a.bot.Run(c, a.updates)
	})
	a.sup.Go0("menu.init", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 15*time.Second)
		defer cancel()
		if err := a.refreshMenu(mctx); err != nil {
			a.log.Warn("command menu update failed", logx.Err(err))
		}
	})

	a.http.Start(a.sup.Context())

	if err := a.hk.Start(a.sup.Context(), a.settings.HousekeepingSpec); err != nil {
		return fmt.Errorf("housekeeping.schedule: %w", err)
	}

	events, unsub := a.bus.Subscribe("dispatch.", 128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				fields := []logx.Field{logx.String("type", e.Type)}
				if s, ok := e.Data.(dispatch.Snapshot); ok {
					fields = append(fields,
						logx.String("job", s.JobID),
						logx.Int64("tenant", s.Tenant),
						logx.Int("processed", s.Processed),
						logx.Int("total", s.Total),
					)
				}
				a.log.Debug("event", fields...)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.notify(daemon.SdNotifyReady)
	a.log.Info("app started",
		logx.String("default_mode", a.settings.DefaultMode),
		logx.Float64("rate_per_sec", a.settings.RatePerSec),
		logx.Bool("storage", a.store != nil),
	)
	return nil
}

func (a *App) refreshMenu(ctx context.Context) error {
	mu, ok := a.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	return mu.UpdateMenuCommands(ctx, a.bot.MenuCommands())
}

// notify sends a service manager notification. Outside systemd it is a no-op.
func (a *App) notify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		a.log.Debug("sd_notify failed", logx.String("state", strings.Split(state, "=")[0]), logx.Err(err))
		return
	}
	if sent {
		a.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

// status feeds the ops server's /status endpoint.
func (a *App) status() any {
	type status struct {
		ActiveTenants []int64                        `json:"active_tenants"`
		EventsDropped uint64                         `json:"events_dropped"`
		Supervisors   map[string]supervisor.Snapshot `json:"supervisors"`
	}
	st := status{
		ActiveTenants: a.ctrl.Active(),
		EventsDropped: a.bus.Dropped(),
		Supervisors:   map[string]supervisor.Snapshot{},
	}
	if a.sup != nil {
		st.Supervisors["app"] = a.sup.Snapshot()
	}
	if sp, ok := a.adapter.(interface{ Supervisor() *supervisor.Supervisor }); ok {
		if s := sp.Supervisor(); s != nil {
			st.Supervisors["telegram"] = s.Snapshot()
		}
	}
	if s := a.http.Supervisor(); s != nil {
		st.Supervisors["http"] = s.Snapshot()
	}
	return st
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notify(daemon.SdNotifyStopping)

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// step bounds a shutdown step so one component cannot stall the whole stop.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, time.Until(dl))
		}
		if limit <= 0 {
			a.log.Warn("stop step skipped (no time left)", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("housekeeping", time.Second, func(c context.Context) error { a.hk.Stop(c); return nil })
	// Jobs report their final state through the adapter, so they stop first.
	step("dispatch", 4*time.Second, a.ctrl.Shutdown)
	step("http", time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
