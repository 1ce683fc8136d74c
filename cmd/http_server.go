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

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/guidy/payments/internal"
	"github.com/guidy/payments/internal/admin"
	"github.com/guidy/payments/internal/auth"
	authpostgres "github.com/guidy/payments/internal/auth/postgres"
	"github.com/guidy/payments/internal/checkout"
	"github.com/guidy/payments/internal/core/events"
	"github.com/guidy/payments/internal/gateway"
	"github.com/guidy/payments/internal/ledger"
	ledgerpostgres "github.com/guidy/payments/internal/ledger/postgres"
	"github.com/guidy/payments/internal/notification"
	"github.com/guidy/payments/internal/reconciliation"
	"github.com/guidy/payments/internal/transport/rest"
	"github.com/guidy/payments/internal/wallet"
	"github.com/guidy/payments/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server handling gateway webhooks and API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config   *internal.Config
	DB       *sqlx.DB
	GormDB   *gorm.DB
	Router   *chi.Mux
	Logger   *slog.Logger
	EventBus *events.EventBus
	Store    ledger.Store
	Mailer   *notification.Mailer
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	setupRoutes(deps)

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("starting http server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("received signal, shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("server shutdown error", "error", err)
		}
		if deps.Mailer != nil {
			deps.Mailer.Shutdown()
		}
		if err := deps.DB.Close(); err != nil {
			deps.Logger.Error("database close error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}

	deps.Logger.Info("server stopped")
}

func setupRoutes(deps *Dependencies) {
	cfg := deps.Config
	lg := deps.Logger

	registry := gateway.NewRegistry(
		gateway.NewCinetPayAdapter(cfg.Gateways.CinetPay, lg),
		gateway.NewNotchPayAdapter(cfg.Gateways.NotchPay, lg),
		gateway.NewPayPalAdapter(cfg.Gateways.PayPal, lg),
		gateway.NewFapshiAdapter(cfg.Gateways.Fapshi, lg),
	)

	reconcileService := reconciliation.NewService(deps.Store, deps.EventBus, cfg.Reconciliation.PendingTTL, lg)
	checkoutService := checkout.NewService(deps.Store, cfg.Gateways, lg)
	walletService := wallet.NewService(deps.Store, lg)
	adminService := admin.NewService(deps.Store, lg)

	tokenGenerator := auth.NewJWTTokenGenerator(cfg.Security)
	authService := auth.NewService(authpostgres.NewRepository(deps.GormDB), tokenGenerator, cfg.Security.BCryptCost)

	handlers := rest.Handlers{
		Webhook: reconciliation.NewWebhookHandler(lg, registry, reconcileService),
		Return: reconciliation.NewReturnHandler(lg, registry, reconcileService,
			cfg.Reconciliation.SuccessURL, cfg.Reconciliation.FailureURL),
		Checkout: checkout.NewHandler(lg, checkoutService),
		Wallet:   wallet.NewHandler(lg, walletService),
		Auth:     auth.NewHandler(lg, authService),
		Admin:    admin.NewHandler(lg, adminService),
	}

	rest.RegisterAllRoutes(deps.Router, deps.DB.DB, handlers, lg)
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(config.Observability.Logging.Format, config.Observability.Logging.Level)
	lg := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := initGorm(db)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize orm: %w", err)
	}

	eventBus := events.NewEventBus(lg)

	var mailer *notification.Mailer
	if config.Notification.Enabled {
		mailer = notification.NewMailer(config.Notification, lg)
		notification.NewEventHandler(mailer, config.Notification.OpsInbox, lg).Subscribe(eventBus)
	}

	return &Dependencies{
		Config:   config,
		Logger:   lg,
		DB:       db,
		GormDB:   gormDB,
		Router:   chi.NewRouter(),
		EventBus: eventBus,
		Store:    ledgerpostgres.NewLedgerStore(gormDB),
		Mailer:   mailer,
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

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

// initGorm layers the ORM over the already-open pgx pool. TranslateError is
// required: the ledger store relies on gorm.ErrDuplicatedKey to tell a
// duplicate apply from a storage fault.
func initGorm(db *sqlx.DB) (*gorm.DB, error) {
	return gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: db.DB}), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
}
