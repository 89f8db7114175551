package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samitochi04/cameroon-marketplace-sub000/internal"
	"github.com/samitochi04/cameroon-marketplace-sub000/internal/auth"
	"github.com/samitochi04/cameroon-marketplace-sub000/internal/core/events"
	"github.com/samitochi04/cameroon-marketplace-sub000/internal/gateway"
	"github.com/samitochi04/cameroon-marketplace-sub000/internal/order"
	"github.com/samitochi04/cameroon-marketplace-sub000/internal/payment"
	paymentpg "github.com/samitochi04/cameroon-marketplace-sub000/internal/payment/postgres"
	"github.com/samitochi04/cameroon-marketplace-sub000/internal/pendingorder"
	"github.com/samitochi04/cameroon-marketplace-sub000/internal/recordstore"
	"github.com/samitochi04/cameroon-marketplace-sub000/internal/transport/rest"
	"github.com/samitochi04/cameroon-marketplace-sub000/internal/transport/swagger"
	"github.com/samitochi04/cameroon-marketplace-sub000/pkg/logger"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle payment API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config         *internal.Config
	DB             *sqlx.DB
	Router         *chi.Mux
	Staging        *pendingorder.Store
	PaymentService *payment.Service
	PaymentHandler *payment.Handler
	Reconciler     *payment.Reconciler
	Logger         *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	rest.RegisterAllRoutes(deps.Router, deps.DB.DB, deps.Staging, deps.PaymentHandler, deps.Logger)

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      deps.Router,
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
		IdleTimeout:  deps.Config.Server.IdleTimeout,
	}

	// the reconciler shares the process so a lone deployment still recovers
	// stuck submissions
	reconcilerCtx, stopReconciler := context.WithCancel(context.Background())
	go deps.Reconciler.Run(reconcilerCtx)

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("received signal, shutting down", "signal", sig)
		stopReconciler()
		deps.PaymentService.Shutdown()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("server shutdown error", "error", err)
		}
		if err := deps.DB.Close(); err != nil {
			deps.Logger.Error("database close error", "error", err)
		}
	case err := <-serverErrChan:
		stopReconciler()
		if err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}

	deps.Logger.Info("server stopped")
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(config.Observability.Logging.Level, config.Observability.Logging.Format)
	lg := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: db.DB}), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to wrap database connection: %w", err)
	}

	staging, err := pendingorder.Open(config.Staging.Path, lg)
	if err != nil {
		return nil, fmt.Errorf("failed to open staging store: %w", err)
	}

	if err := swagger.ValidateSpec("./api/openapi.yml"); err != nil {
		lg.Warn("openapi spec failed validation, swagger UI may be degraded", "error", err)
	}

	// HTTP requests authenticate outbound calls as the caller; the
	// reconciler uses the service token since it has no caller
	callerCreds := auth.NewJWTCredentialProvider(auth.ContextTokenSource(), lg)
	serviceCreds := auth.NewJWTCredentialProvider(auth.StaticTokenSource(config.Backend.ServiceToken), lg)

	gatewayClient := gateway.NewClient(config.Gateway.BaseURL, config.Gateway.HTTPTimeout, callerCreds, lg)
	backendStore := recordstore.NewClient(config.Backend.BaseURL, config.Backend.HTTPTimeout, callerCreds, lg)
	serviceStore := recordstore.NewClient(config.Backend.BaseURL, config.Backend.HTTPTimeout, serviceCreds, lg)

	submitter := order.NewSubmitter(backendStore, lg)
	serviceSubmitter := order.NewSubmitter(serviceStore, lg)

	journal := paymentpg.NewAttemptRepository(gormDB)
	bus := events.NewEventBus(lg)

	paymentService := payment.NewService(config.Session, gatewayClient, staging, submitter, journal, bus, lg)
	paymentHandler := payment.NewHandler(paymentService, lg)

	reconciler := payment.NewReconciler(journal, staging, serviceSubmitter, lg,
		config.Reconciler.Interval, config.Reconciler.BatchSize)

	return &Dependencies{
		Config:         config,
		DB:             db,
		Router:         chi.NewRouter(),
		Staging:        staging,
		PaymentService: paymentService,
		PaymentHandler: paymentHandler,
		Reconciler:     reconciler,
		Logger:         lg,
	}, nil
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// verify connection; close underlying *sql.DB on failure
	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}
