package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	ledgerpostgres "github.com/guidy/payments/internal/ledger/postgres"
	"github.com/guidy/payments/internal/reconciliation"
	"github.com/guidy/payments/pkg/logger"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start and manage background workers`,
}

var sweeperCmd = &cobra.Command{
	Use:   "sweeper",
	Short: "Start the pending-transaction sweeper",
	Long:  `Periodically expires pending transactions older than the completion window`,
	Run: func(cmd *cobra.Command, args []string) {
		startSweeper()
	},
}

func init() {
	workerCmd.AddCommand(sweeperCmd)
}

func startSweeper() {
	config, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(config.Observability.Logging.Format, config.Observability.Logging.Level)
	lg := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	gormDB, err := initGorm(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize orm: %v\n", err)
		os.Exit(1)
	}

	store := ledgerpostgres.NewLedgerStore(gormDB)

	// The sweep is a batch update with no per-transaction events; lifecycle
	// events and their email notifications are produced by the server
	// process, which reconciles individual notifications.
	service := reconciliation.NewService(store, nil, config.Reconciliation.PendingTTL, lg)

	lg.Info("sweeper started",
		"pending_ttl", config.Reconciliation.PendingTTL,
		"sweep_interval", config.Reconciliation.SweepInterval)

	ticker := time.NewTicker(config.Reconciliation.SweepInterval)
	defer ticker.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if _, err := service.SweepExpired(ctx); err != nil {
				lg.Error("sweep failed", "error", err)
			}
			cancel()
		case sig := <-sigChan:
			lg.Info("received signal, shutting down sweeper", "signal", sig)
			return
		}
	}
}
