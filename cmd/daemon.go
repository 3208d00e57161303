package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cfgvault/internal/config"
	"cfgvault/internal/daemon"
	"cfgvault/internal/db"
	"cfgvault/internal/orchestrator"
	"cfgvault/internal/repository"
	"cfgvault/internal/scheduler"
	"cfgvault/internal/storage"
	"cfgvault/internal/tunnel"
	"cfgvault/internal/verify"
	"cfgvault/internal/watcher"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the backup daemon: scheduler, artifact audit and API",
	RunE:  runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}

	defer func() {
		_ = db.Close(conn)
	}()

	devices := repository.NewDeviceRepository(conn)
	backups := repository.NewBackupRepository(conn)
	schedules := repository.NewScheduleRepository(conn)

	tunnels, err := tunnel.NewManager(tunnel.Options{
		KnownHostsFile:   cfg.KnownHosts,
		LegacyAlgorithms: cfg.SSHLegacyAlgorithms,
	}, log)
	if err != nil {
		return err
	}

	appDir, err := config.AppDir()
	if err != nil {
		return err
	}

	remote, err := storage.NewRemote(ctx, cfg.Remote, tunnels.HostKeys(), appDir, log)
	if err != nil {
		return fmt.Errorf("failed to set up remote storage: %w", err)
	}

	keep := storage.Retention{
		Type:     cfg.Backup.Retention.Type,
		MaxCount: cfg.Backup.MaxBackups,
		MaxAge:   cfg.Backup.Retention.MaxAge,
		MinCount: cfg.Backup.Retention.MinCount,
	}
	store, err := storage.New(cfg.BackupDir, keep, remote, log)
	if err != nil {
		return err
	}

	engine := verify.NewEngine(cfg.Backup.ValidateSyntax, log)
	orch := orchestrator.New(orchestrator.Deps{
		Devices:        devices,
		Backups:        backups,
		Artifacts:      store,
		Connector:      tunnels,
		Verifier:       engine,
		StoreUnchanged: cfg.Backup.StoreUnchanged,
		MaxConcurrency: cfg.Backup.MaxConcurrency,
	}, log)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	opts := orchestrator.OptionsFromConfig(cfg.Backup)
	sched := scheduler.New(schedules, devices, orch, scheduler.Config{
		Options:  opts,
		Interval: cfg.Scheduler.Interval,
		Location: loc,
	}, log)

	var background *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		background = sched
	}

	var w *watcher.Watcher
	var auditor *storage.Auditor
	if cfg.Watcher.Enabled {
		w, err = watcher.New(cfg.Watcher.BufferSize, log)
		if err != nil {
			return err
		}
		if err := w.Watch(store.Dir()); err != nil {
			return err
		}
		auditor = storage.NewAuditor(backups, engine, log)
	}

	manager := daemon.NewManager(background, w, auditor, cfg.Watcher.IgnoreList, log)
	manager.Start(ctx)

	srv := daemon.NewServer(daemon.Deps{
		Devices:      devices,
		Groups:       repository.NewGroupRepository(conn),
		Backups:      backups,
		Schedules:    schedules,
		Orchestrator: orch,
		Scheduler:    sched,
		Manager:      manager,
		Options:      opts,
	}, cfg.DaemonPort, log)
	srv.Start()

	remoteName := "none"
	if remote != nil {
		remoteName = remote.Name()
	}
	log.Info("cfgvault daemon started",
		zap.Int("port", cfg.DaemonPort),
		zap.String("backup_dir", store.Dir()),
		zap.String("remote", remoteName),
		zap.Bool("scheduler", cfg.Scheduler.Enabled),
		zap.Bool("watcher", cfg.Watcher.Enabled))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case <-srv.StopCh():
		log.Info("stop requested via API")
	}

	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	return srv.Stop(shutdownCtx)
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
