package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/facefinder/internal/auth"
	"github.com/example/facefinder/internal/config"
	"github.com/example/facefinder/internal/faceservice"
	"github.com/example/facefinder/internal/handlers"
	"github.com/example/facefinder/internal/logging"
	"github.com/example/facefinder/internal/metrics"
	"github.com/example/facefinder/internal/repository"
	"github.com/example/facefinder/internal/screening"
	"github.com/example/facefinder/internal/tracing"
	"github.com/example/facefinder/internal/usecase"
	"github.com/example/facefinder/internal/workspace"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the facefinder HTTP API.

Each authenticated user gets a workspace holding a reference photo and a batch
of candidates. Passes run in the background; finished passes are recorded when
DATABASE_DSN is set.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Address to listen on (overrides HTTP_ADDR)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if addr := mustGetString(cmd, "addr"); addr != "" {
		cfg.HTTP.Addr = addr
	}

	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if err := checkJWTSecret(cfg, logger); err != nil {
		return err
	}

	shutdownTracing, err := tracing.Setup(cmd.Context(), cfg.Tracing, os.Stdout, logger)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	startCtx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	client, closeClient, err := newFaceClient(startCtx, cfg.Compare, logger)
	if err != nil {
		return fmt.Errorf("face comparison backend: %w", err)
	}
	defer closeClient() //nolint:errcheck

	m := metrics.New()
	observers := screening.Observers{m}

	var history handlers.HistoryService
	if cfg.HistoryEnabled() {
		uc, cleanup, err := initHistory(startCtx, cfg, logger)
		if err != nil {
			return err
		}
		defer cleanup()
		observers = append(observers, uc)
		history = uc
	} else {
		logger.Warn("DATABASE_DSN not set, pass history disabled")
	}

	manager := workspace.NewManager(newWorkspaceFactory(client, observers, cfg.Compare.Timeout, logger), logger)
	m.TrackWorkspaces(manager.Len)

	// Passes outlive the request that started them and are only cancelled
	// when shutdown cannot drain them.
	passCtx, cancelPasses := context.WithCancel(context.Background())
	defer cancelPasses()

	router := newRouter(cfg, manager, history, passCtx, m, logger)
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("facefinder API listening",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("backend", cfg.Compare.Backend),
	)
	if err := serveHTTPServer(server, cfg.HTTP.ShutdownTimeout, logger); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	drainPasses(manager, cfg.HTTP.ShutdownTimeout, passCancelGrace, cancelPasses, logger)
	return nil
}

// passCancelGrace is how long cancelled passes get to report their outcome
// before stores are closed.
const passCancelGrace = 5 * time.Second

// drainPasses waits for running passes. Passes still running after timeout
// are cancelled and given grace to finish recording.
func drainPasses(manager *workspace.Manager, timeout, grace time.Duration, cancel context.CancelFunc, logger *zap.Logger) {
	drainCtx, drainCancel := context.WithTimeout(context.Background(), timeout)
	defer drainCancel()
	if err := manager.Wait(drainCtx); err == nil {
		return
	}

	logger.Warn("cancelling passes still running at shutdown", zap.Duration("waited", timeout))
	cancel()

	graceCtx, graceCancel := context.WithTimeout(context.Background(), grace)
	defer graceCancel()
	if err := manager.Wait(graceCtx); err != nil {
		logger.Error("passes did not stop after cancellation", zap.Error(err))
	}
}

// checkJWTSecret refuses the development secret unless development mode is on.
func checkJWTSecret(cfg *config.Config, logger *zap.Logger) error {
	if !cfg.UsesDefaultJWTSecret() {
		return nil
	}
	if !cfg.Log.Development {
		return fmt.Errorf("JWT_SECRET is not set; refusing to accept tokens signed with the development secret (set LOG_DEVELOPMENT=true for local use)")
	}
	logger.Warn("JWT_SECRET not set, using the development secret")
	return nil
}

func newWorkspaceFactory(client faceservice.Client, observer screening.Observer, compareTimeout time.Duration, logger *zap.Logger) workspace.Factory {
	return func(owner string) *screening.Orchestrator {
		return screening.New(client, logger,
			screening.WithOwner(owner),
			screening.WithObserver(observer),
			screening.WithCompareTimeout(compareTimeout),
		)
	}
}

func newRouter(cfg *config.Config, manager *workspace.Manager, history handlers.HistoryService, passCtx context.Context, m *metrics.Metrics, logger *zap.Logger) *gin.Engine {
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize
	r.Use(handlers.CORS(cfg.HTTP.AllowedOrigins))

	authMiddleware := auth.JWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience)
	h := handlers.NewHandler(manager, history, passCtx, logger)
	handlers.RegisterRoutes(r, h, authMiddleware, m.Handler())
	return r
}

func initHistory(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*usecase.PassHistoryUseCase, func(), error) {
	db, err := initDatabase(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	repo := repository.NewPassRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		return nil, nil, fmt.Errorf("auto migrate failed: %w", err)
	}

	closers := []func(){func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var cache usecase.Cache
	if cfg.Redis.Addr != "" {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		defer redisCancel()
		redisClient, err := initRedis(redisCtx, cfg.Redis.Addr)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		cache = usecase.NewRedisCache(redisClient, cfg.Redis.Prefix)
	} else {
		logger.Info("REDIS_ADDR not set, pass cache disabled")
	}

	return usecase.NewPassHistoryUseCase(repo, cache, logger), cleanup, nil
}

func initDatabase(ctx context.Context, cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access db handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return db, nil
}

func initRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
