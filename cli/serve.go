package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/waffletower/invokeai-graph/core"
	"github.com/waffletower/invokeai-graph/daemon"
	"github.com/waffletower/invokeai-graph/invoker"
	"github.com/waffletower/invokeai-graph/queue"
	"github.com/waffletower/invokeai-graph/store"
)

// NewServeCmd creates the "serve" subcommand: a long-running daemon that
// advances pending execution states on a poll interval and prunes
// completed sessions on a cron schedule, grounded on the teacher's
// cli/serve.go (a stub in the teacher; filled in here since this
// engine's daemon has no HTTP surface to wait on, only the scheduler).
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon: advance pending sessions and prune completed ones",
		RunE:  runServe,
	}

	cmd.Flags().String("config", "", "Path to daemon config file")
	cmd.Flags().String("store-dsn", "", "Override the SQLite store DSN")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		discovered, found, err := daemon.DiscoverConfigPath("")
		if err != nil {
			return exitError(exitRuntime, "discovering config: %v", err)
		}
		if found {
			configPath = discovered
		}
	}

	cfg, err := daemon.LoadConfig(configPath)
	if err != nil {
		return exitError(exitRuntime, "loading config: %v", err)
	}
	if dsn, _ := cmd.Flags().GetString("store-dsn"); dsn != "" {
		cfg.Store.DSN = dsn
	}

	sqliteStore, err := store.NewSQLiteStore(store.SQLiteStoreConfig{
		DSN:          cfg.Store.DSN,
		RetentionAge: cfg.Store.RetentionAge,
	})
	if err != nil {
		return exitError(exitRuntime, "opening session store: %v", err)
	}
	defer sqliteStore.Close()

	workQueue := queue.NewMemQueue(cfg.Queue.Buffer)
	defer workQueue.Close()

	inv := invoker.New(sqliteStore, workQueue, core.NewServices())
	if err := inv.Start(cmd.Context()); err != nil {
		return exitError(exitRuntime, "starting services: %v", err)
	}
	defer inv.Stop(context.Background())

	scheduler, err := daemon.NewScheduler(daemon.SchedulerConfig{
		Invoker:      inv,
		Pruner:       sqliteStore,
		PollInterval: cfg.Scheduler.PollInterval,
		PruneCron:    cfg.Scheduler.PruneCron,
	})
	if err != nil {
		return exitError(exitRuntime, "creating scheduler: %v", err)
	}

	if err := scheduler.Start(cmd.Context()); err != nil {
		return exitError(exitRuntime, "starting scheduler: %v", err)
	}

	fmt.Fprintf(out, "daemon running (invoker %s, store %s)\n", inv.ID, cfg.Store.DSN)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Fprintln(out, "shutting down")
	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.PollInterval*5)
	defer cancel()
	return scheduler.Stop(stopCtx)
}
