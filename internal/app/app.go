// Package app assembles the daemon: config, logging, storage, the
// generation backend, the scheduling agent, and the operator notifier.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"oratio/internal/agent"
	"oratio/internal/config"
	"oratio/internal/genai"
	"oratio/internal/notifier"
	"oratio/internal/pipeline"
	"oratio/internal/runtime/supervisor"
	"oratio/internal/schedule"
	"oratio/internal/storage"
	"oratio/internal/ticker"
	logx "oratio/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	store storage.Store

	gen   *genai.Client
	orch  *pipeline.Orchestrator
	tick  *ticker.Service
	notif *notifier.Service
	ctrl  *agent.Controller
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage ready", logx.String("driver", sc.Driver))

	gcfg, err := mapGenAIConfig(cfg)
	if err != nil {
		return nil, err
	}
	gen, err := genai.New(gcfg, log.With(logx.String("comp", "genai")))
	if err != nil {
		return nil, err
	}

	orch := pipeline.New(mapPipelineConfig(cfg), gen, store,
		log.With(logx.String("comp", "pipeline")))

	notif, err := notifier.New(mapNotifierConfig(cfg), log.With(logx.String("comp", "notifier")))
	if err != nil {
		return nil, err
	}

	reg := schedule.DefaultRegistry()
	if err := reg.Validate(); err != nil {
		return nil, err
	}

	acfg, err := mapAgentConfig(cfg)
	if err != nil {
		return nil, err
	}

	tick := ticker.New(log.With(logx.String("comp", "ticker")))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
		gen:     gen,
		orch:    orch,
		tick:    tick,
		notif:   notif,
	}
	a.ctrl = agent.New(acfg, reg, store, orch, nil, log.With(logx.String("comp", "agent")))
	return a, nil
}

// Controller exposes the scheduling agent for operational surfaces.
func (a *App) Controller() *agent.Controller { return a.ctrl }

// Done is closed when the run context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)
	a.ctrl.AttachSupervisor(a.sup)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	if a.notif.Enabled() {
		a.ctrl.SetNotify(a.notif.Notify)
		a.sup.Go("notifier.drain", a.notif.Run)
	}

	if recent, err := a.store.RecentHistory(a.sup.Context(), 1); err != nil {
		a.log.Warn("history read failed", logx.Err(err))
	} else if len(recent) > 0 {
		a.log.Info("resuming",
			logx.String("last_artifact", recent[0].ID),
			logx.Time("last_run", recent[0].At),
		)
	}

	if err := a.ctrl.Start(a.sup.Context(), a.tick); err != nil {
		return err
	}
	a.tick.Start(a.sup.Context())

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyReload(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyReload pushes a validated config into the running components.
// Logging and agent knobs apply live; storage, genai and notifier
// changes need a restart and only get a warning.
func (a *App) applyReload(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(logx.Config{
				Level:   newCfg.Logging.Level,
				Console: newCfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: newCfg.Logging.File.Enabled,
					Path:    newCfg.Logging.File.Path,
				},
			})
		case "agent":
			if oldCfg.Agent.Long != newCfg.Agent.Long {
				a.ctrl.SetFamilyEnabled(ctx, schedule.KindLong, newCfg.Agent.Long.Enabled)
				a.ctrl.SetCadence(ctx, schedule.KindLong, newCfg.Agent.Long.Cadence)
			}
			if oldCfg.Agent.Short != newCfg.Agent.Short {
				a.ctrl.SetFamilyEnabled(ctx, schedule.KindShort, newCfg.Agent.Short.Enabled)
				a.ctrl.SetCadence(ctx, schedule.KindShort, newCfg.Agent.Short.Cadence)
			}
		case "storage", "genai", "notifier", "themes":
			a.log.Warn("config section changed; restart required for changes to take effect",
				logx.String("section", s))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so loops start unwinding, then bound
	// each shutdown step so one component cannot stall the whole stop.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
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
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
		}
	}

	step("ticker", 2*time.Second, func(c context.Context) error { a.tick.Stop(c); return nil })
	step("supervisor", 10*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
