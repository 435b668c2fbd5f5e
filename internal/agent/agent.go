package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"github.com/mwantia/fabric/pkg/container"
	"github.com/mwantia/gamevault/internal/artifact"
	config "github.com/mwantia/gamevault/internal/config/server"
	"github.com/mwantia/gamevault/pkg/db/store"
	"github.com/mwantia/gamevault/pkg/log"
	"github.com/mwantia/gamevault/pkg/scheduler"
)

type GameVaultAgent struct {
	mutex sync.RWMutex
	wait  sync.WaitGroup

	cfg *config.BaseServerConfig
	sc  *container.ServiceContainer
	log log.LoggerService

	services  *Services
	scheduler *scheduler.Scheduler
}

func NewAgent(cfg *config.BaseServerConfig) *GameVaultAgent {
	return &GameVaultAgent{
		cfg: cfg,
		sc:  container.NewServiceContainer(),
		log: log.NewLoggerService("gamevault", cfg.Log),
	}
}

func (gva *GameVaultAgent) setupServices(ctx context.Context) error {
	errs := container.Errors{}

	gva.log.Debug("Registering 'LoggerService'...")
	errs.Add(container.Register[log.LoggerServiceImpl](gva.sc,
		container.With[log.LoggerService](),
		container.WithInstance(gva.log)))
	if err := errs.Errors(); err != nil {
		return err
	}

	logger, err := log.ResolveNamed(ctx, gva.sc, "")
	if err != nil {
		return err
	}

	services, err := OpenServices(ctx, gva.cfg, logger)
	if err != nil {
		return err
	}
	gva.services = services

	schedulerLog, err := log.ResolveNamed(ctx, gva.sc, "scheduler")
	if err != nil {
		return err
	}
	gva.scheduler = scheduler.New(schedulerLog)

	gva.log.Debug("Registering 'MetadataStore'...")
	errs.Add(container.Register[store.SQLiteStore](gva.sc,
		container.With[store.MetadataStore](),
		container.WithInstance(services.Store)))

	gva.log.Debug("Registering 'Scheduler'...")
	errs.Add(container.Register[scheduler.Scheduler](gva.sc,
		container.WithInstance(gva.scheduler)))

	gva.log.Debug("Registering 'ArtifactService'...")
	errs.Add(container.Register[artifact.Service](gva.sc,
		container.WithInstance(services.Artifacts)))

	for _, src := range services.Artifacts.Sources(gva.cfg.Scheduler) {
		errs.Add(gva.scheduler.Register(src))
	}

	return errs.Errors()
}

func (gva *GameVaultAgent) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	gva.mutex.Lock()

	if err := gva.setupServices(ctx); err != nil {
		gva.mutex.Unlock()
		if gva.services != nil {
			_ = gva.services.Close()
		}
		return err
	}

	gva.mutex.Unlock()

	// Tombstones left by a crash are reaped before any job can run.
	if err := gva.services.Recover(ctx); err != nil {
		_ = gva.services.Close()
		return fmt.Errorf("failed to recover from previous run: %w", err)
	}

	if err := gva.scheduler.Start(); err != nil {
		_ = gva.services.Close()
		return err
	}

	interval := gva.cfg.Scheduler.TickInterval()
	gva.log.Info("Agent started, ticking every %s", interval)

	gva.wait.Add(1)
	go func() {
		defer gva.wait.Done()
		_ = gva.scheduler.Run(ctx, interval)
	}()

	<-ctx.Done()
	gva.log.Info("Shutting down...")

	shutdown, cancel := context.WithTimeout(context.Background(), gva.cfg.Timeout())
	defer cancel()

	var errs []error
	if err := gva.scheduler.Shutdown(shutdown); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop scheduler: %w", err))
	}
	gva.wait.Wait()

	if err := gva.sc.Cleanup(shutdown); err != nil {
		errs = append(errs, fmt.Errorf("failed to complete service container cleanup: %w", err))
	}
	if err := gva.services.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close metadata store: %w", err))
	}

	return errors.Join(errs...)
}
