// Package app wires the bot together: config, logging, storage, the
// Telegram adapter, the rate-limited notifier, the per-kind handlers and
// the scheduler itself.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"unionbot/internal/adapters/telegram"
	"unionbot/internal/config"
	"unionbot/internal/handlers"
	"unionbot/internal/notify"
	"unionbot/internal/sched"
	"unionbot/internal/status"
	"unionbot/internal/storage"
	"unionbot/pkg/logx"
)

type App struct {
	manager *config.Manager
	logSvc  *logx.Service
	log     logx.Logger

	store storage.Store
	sched *sched.Service
	stat  *status.Service

	giveaway *handlers.Giveaway

	watchCancel context.CancelFunc
	watchDone   chan struct{}
}

func New(cfgPath string) (*App, error) {
	manager := config.NewManager(cfgPath)
	cfg, err := manager.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(cfg.LogxConfig())
	manager.SetLogger(log.With(logx.String("comp", "config")))

	storeCfg, err := cfg.StorageConfigValue()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	tgTimeout, err := cfg.TelegramTimeout()
	if err != nil {
		return nil, err
	}
	token := cfg.Telegram.Token
	if token == "" {
		token = os.Getenv("TELEGRAM_TOKEN")
	}
	adapter, err := telegram.New(telegram.Config{
		Token:     token,
		Timeout:   tgTimeout,
		ParseMode: cfg.Telegram.ParseMode,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("telegram: %w", err)
	}

	notifier := notify.New(adapter, cfg.NotifyConfigValue(), log.With(logx.String("comp", "notify")))

	schedCfg, err := cfg.SchedConfig()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	schedSvc, err := sched.New(schedCfg, store, log.With(logx.String("comp", "sched")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	ledger := sched.NewLedger(store)
	hlog := log.With(logx.String("comp", "handlers"))
	giveaway := handlers.NewGiveaway(notifier, store, ledger, hlog)

	register := []struct {
		kind sched.Kind
		h    sched.Handler
	}{
		{sched.KindAnnouncement, handlers.NewAnnouncement(notifier, hlog)},
		{sched.KindReminder, handlers.NewReminder(notifier, hlog)},
		{sched.KindGiveawayEnd, giveaway},
		{sched.KindTicketClose, handlers.NewTicketClose(notifier, store, adapter, hlog)},
		{sched.KindDailyAlert, handlers.NewDailyAlert(notifier, hlog)},
	}
	for _, r := range register {
		if err := schedSvc.Register(r.kind, r.h); err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	stat := status.New(status.Config{
		Enabled: cfg.Status.Enabled,
		Addr:    cfg.Status.Addr,
	}, schedSvc, log.With(logx.String("comp", "status")))

	a := &App{
		manager:  manager,
		logSvc:   logSvc,
		log:      log,
		store:    store,
		sched:    schedSvc,
		stat:     stat,
		giveaway: giveaway,
	}
	manager.SetValidator(a.validateConfig)
	return a, nil
}

// Scheduler exposes the operator surface (Create, Cancel, List, Snapshot).
func (a *App) Scheduler() *sched.Service { return a.sched }

// Giveaway exposes the reroll operation.
func (a *App) Giveaway() *handlers.Giveaway { return a.giveaway }

func (a *App) Start(ctx context.Context) error {
	if err := a.sched.Start(ctx); err != nil {
		return err
	}
	if err := a.stat.Start(ctx); err != nil {
		a.log.Warn("status server failed to start", logx.Err(err))
	}

	wctx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel
	a.watchDone = make(chan struct{})
	go func() {
		defer close(a.watchDone)
		_ = a.manager.Watch(wctx)
	}()
	go a.applyReloads(wctx)

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("bot started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.watchCancel != nil {
		a.watchCancel()
		select {
		case <-a.watchDone:
		case <-time.After(2 * time.Second):
		}
	}

	a.sched.Stop(ctx)
	a.stat.Stop(ctx)
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	a.log.Info("bot stopped")
	a.logSvc.Close()
	return nil
}

// validateConfig gates hot reloads: a config whose scheduler overrides do
// not survive sched.New never replaces the running one.
func (a *App) validateConfig(ctx context.Context, cfg *config.Config) error {
	schedCfg, err := cfg.SchedConfig()
	if err != nil {
		return err
	}
	if _, err := sched.New(schedCfg, a.store, logx.Nop()); err != nil {
		return err
	}
	if _, err := cfg.StorageConfigValue(); err != nil {
		return err
	}
	return nil
}

// applyReloads applies the subset of config that is hot-swappable. Tick
// intervals and windows need a restart; logging does not.
func (a *App) applyReloads(ctx context.Context) {
	sub := a.manager.Subscribe(1)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.logSvc.Apply(cfg.LogxConfig())
			a.log.Debug("logging config applied")
		}
	}
}
