package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ab1355/ModuMind/internal/archive"
	"github.com/ab1355/ModuMind/internal/config"
	"github.com/ab1355/ModuMind/internal/dispatch"
	"github.com/ab1355/ModuMind/internal/health"
	"github.com/ab1355/ModuMind/internal/logging"
	"github.com/ab1355/ModuMind/internal/orchestrator"
	"github.com/ab1355/ModuMind/internal/registry"
)

// runtime is the in-process orchestrator shared by serve and mcp.
type runtime struct {
	cfg      *config.Config
	log      *zap.SugaredLogger
	agents   *registry.Store
	archive  archive.Store
	engine   *orchestrator.Engine
	monitor  *health.Monitor
	progress *orchestrator.ProgressReporter
}

// newRuntime loads config and wires the store, archive, engine and health
// monitor. Static agents from the config are registered up front.
func newRuntime(configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	agents := registry.NewStore()
	for _, d := range cfg.Descriptors() {
		if err := agents.Register(d); err != nil {
			return nil, fmt.Errorf("register %s: %w", d.Name, err)
		}
		log.Infow("agent_registered", "agent", d.Name, "address", d.Address, "capabilities", d.Capabilities)
	}

	arch, err := archive.Open(cfg.Archive)
	if err != nil {
		return nil, err
	}

	client := dispatch.NewHTTPClient(dispatch.WithUserAgent("modumind/" + version))
	progress := orchestrator.NewProgressReporter(cfg.Orchestrator.ProgressBuffer)
	engine := orchestrator.NewEngine(cfg.Orchestrator, agents, client,
		orchestrator.WithLogger(log),
		orchestrator.WithProgress(progress),
		orchestrator.WithSink(arch),
	)

	return &runtime{
		cfg:      cfg,
		log:      log,
		agents:   agents,
		archive:  arch,
		engine:   engine,
		monitor:  health.NewMonitor(cfg.Health, agents, client, log),
		progress: progress,
	}, nil
}

// run starts the health monitor and the progress logger, then blocks in
// serve until it returns or ctx ends. Everything is torn down before run
// returns.
func (rt *runtime) run(ctx context.Context, serve func(ctx context.Context) error, stop func(ctx context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return rt.monitor.Run(gctx) })
	g.Go(func() error {
		rt.logProgress()
		return nil
	})
	g.Go(func() error { return serve(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		return rt.shutdown(stop)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (rt *runtime) shutdown(stop func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), rt.cfg.Orchestrator.DispatchTimeout)
	defer cancel()

	var errs []error
	if stop != nil {
		if err := stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop server: %w", err))
		}
	}
	if err := rt.engine.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop engine: %w", err))
	}
	rt.progress.Close()
	if err := rt.archive.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close archive: %w", err))
	}
	_ = rt.log.Sync()
	return errors.Join(errs...)
}

// logProgress writes every progress event at debug level until the
// reporter is closed.
func (rt *runtime) logProgress() {
	for ev := range rt.progress.Subscribe() {
		rt.log.Debugw("task_progress",
			"task_id", ev.TaskID,
			"subtask_id", ev.SubtaskID,
			"status", ev.Status,
			"line", orchestrator.FormatEvent(ev),
		)
	}
}
