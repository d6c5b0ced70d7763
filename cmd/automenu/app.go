package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mpataki/automenu/internal/config"
	"github.com/mpataki/automenu/internal/discovery"
	"github.com/mpataki/automenu/internal/dispatch"
	"github.com/mpataki/automenu/internal/events"
	"github.com/mpataki/automenu/internal/history"
	alog "github.com/mpataki/automenu/internal/log"
	"github.com/mpataki/automenu/internal/models"
	"github.com/mpataki/automenu/internal/notify"
	"github.com/mpataki/automenu/internal/orchestrator"
	"github.com/mpataki/automenu/internal/runner"
	"github.com/mpataki/automenu/internal/sequences"
	"github.com/mpataki/automenu/internal/storage"
	"github.com/mpataki/automenu/internal/workspace"
)

// app holds everything a command needs, built once per invocation.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *storage.Storage
	catalog   *discovery.Catalog
	sequences map[string]*models.Sequence
	queue     *events.Queue
	history   *history.History
	orch      *orchestrator.Orchestrator

	closers []io.Closer
}

func newApp() (*app, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	logCfg := alog.FromEnv()
	if logCfg.File == "" {
		logCfg.File = cfg.LogPath
	}
	logger, logCloser := alog.New(logCfg)
	a := &app{cfg: cfg, logger: logger, closers: []io.Closer{logCloser}}

	ws, err := workspace.Prepare(cfg.LibDir)
	if err != nil {
		a.Close()
		return nil, err
	}

	store, err := storage.New(cfg.DBPath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store)

	scripts, err := discovery.Discover(cfg.ScriptDir)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to discover scripts: %w", err)
	}
	for _, s := range scripts {
		for _, w := range s.Warnings {
			logger.Warn("script metadata", alog.ScriptKey, s.Path, "warning", w)
		}
	}
	a.catalog = discovery.NewCatalog(scripts)

	a.sequences, err = sequences.LoadAll(cfg.SequenceDirs(), logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load sequences: %w", err)
	}

	a.queue = events.NewQueue()
	a.history = history.New()

	settings := cfg.Settings
	a.orch = orchestrator.New(a.queue, store, a.history, a.catalog, runner.Options{
		Interpreters:  runner.Interpreters(settings.Interpreters, settings.PythonExecutable),
		Env:           ws.Env(os.Environ()),
		Notifier:      notify.NewLogNotifier(logger),
		NotifyOnError: settings.SendMailOnError,
		OnFinish:      a.history.Add,
		Logger:        logger,
	})

	return a, nil
}

// rescan reloads scripts and sequences after the directories changed. The
// previous lists are kept for whatever fails to load.
func (a *app) rescan() ([]*models.Script, []*models.Sequence) {
	if scripts, err := discovery.Discover(a.cfg.ScriptDir); err != nil {
		a.logger.Warn("script rescan failed", "error", err)
	} else {
		a.catalog.Replace(scripts)
	}

	if seqs, err := sequences.LoadAll(a.cfg.SequenceDirs(), a.logger); err != nil {
		a.logger.Warn("sequence reload failed", "error", err)
	} else {
		a.sequences = seqs
	}

	return a.catalog.Scripts(), sequences.Sorted(a.sequences)
}

// dispatcher builds the output dispatcher for a presenter.
func (a *app) dispatcher(p dispatch.Presenter, handlers dispatch.Handlers, marshal func(func())) *dispatch.Dispatcher {
	return dispatch.New(dispatch.Config{
		Queue:        a.queue,
		Presenter:    p,
		Handlers:     handlers,
		Responder:    a.orch,
		History:      a.history,
		Marshal:      marshal,
		PollInterval: a.cfg.Settings.DispatcherPollInterval,
		Logger:       a.logger,
	})
}

// Close saves the session's history and releases resources.
func (a *app) Close() {
	if a.orch != nil {
		n, err := a.orch.FlushHistory()
		if err != nil {
			a.logger.Error("failed to save history", "error", err)
		} else if n > 0 {
			a.logger.Info("history saved", "records", n)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i].Close()
	}
}
