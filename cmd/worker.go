package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samitochi04/cameroon-marketplace-sub000/internal/auth"
	"github.com/samitochi04/cameroon-marketplace-sub000/internal/order"
	"github.com/samitochi04/cameroon-marketplace-sub000/internal/payment"
	paymentpg "github.com/samitochi04/cameroon-marketplace-sub000/internal/payment/postgres"
	"github.com/samitochi04/cameroon-marketplace-sub000/internal/pendingorder"
	"github.com/samitochi04/cameroon-marketplace-sub000/internal/recordstore"
	"github.com/samitochi04/cameroon-marketplace-sub000/pkg/logger"

	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start and manage background workers for the payment service`,
}

// Reconciler worker command
var reconcilerWorkerCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Start the order submission reconciler",
	Long:  `Retry order submission for confirmed payments whose order was never created`,
	Run: func(cmd *cobra.Command, args []string) {
		startReconcilerWorker()
	},
}

func startReconcilerWorker() {
	config, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(config.Observability.Logging.Level, config.Observability.Logging.Format)
	lg := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	gormDB, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: db.DB}), &gorm.Config{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to wrap database connection: %v\n", err)
		os.Exit(1)
	}

	staging, err := pendingorder.Open(config.Staging.Path, lg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open staging store: %v\n", err)
		os.Exit(1)
	}

	creds := auth.NewJWTCredentialProvider(auth.StaticTokenSource(config.Backend.ServiceToken), lg)
	backendStore := recordstore.NewClient(config.Backend.BaseURL, config.Backend.HTTPTimeout, creds, lg)
	submitter := order.NewSubmitter(backendStore, lg)
	journal := paymentpg.NewAttemptRepository(gormDB)

	reconciler := payment.NewReconciler(journal, staging, submitter, lg,
		config.Reconciler.Interval, config.Reconciler.BatchSize)

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		lg.Info("received signal, shutting down reconciler", "signal", sig)
		cancel()
	}()

	reconciler.Run(ctx)
	lg.Info("reconciler worker stopped")
}

func init() {
	workerCmd.AddCommand(reconcilerWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}
