package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ollamachat/ollamachat/config"
	"ollamachat/ollamachat/controllers"
	"ollamachat/ollamachat/middlewares"
	"ollamachat/ollamachat/routes"
	"ollamachat/ollamachat/services/catalog"
	"ollamachat/ollamachat/services/engine"
	"ollamachat/ollamachat/services/history"
	"ollamachat/ollamachat/services/inference"
	"ollamachat/ollamachat/sources/psql"
	"ollamachat/ollamachat/sources/psql/dao"
	"ollamachat/ollamachat/sources/session"
	"ollamachat/ollamachat/sources/sqlite"
	"ollamachat/ollamachat/sources/storage"
	"ollamachat/ollamachat/utils/logging"
	"ollamachat/ollamachat/utils/validation"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	logs, err := logging.New(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging error:", err)
		os.Exit(1)
	}
	defer logs.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := openSessionStore(ctx, cfg, logs)
	if err != nil {
		logs.Error.Error("session store error", zap.String("backend", cfg.SessionBackend), zap.Error(err))
		os.Exit(1)
	}
	defer closeStore()

	exporter, err := storage.NewLocalExporter(cfg.UploadDir)
	if err != nil {
		logs.Error.Error("upload directory error", zap.Error(err))
		os.Exit(1)
	}
	var archive controllers.Archiver
	if cfg.MinIOEnabled() {
		minioCtx, minioCancel := context.WithTimeout(ctx, 10*time.Second)
		minioClient, err := storage.NewMinIOClient(minioCtx, cfg)
		minioCancel()
		if err != nil {
			logs.Error.Error("minio connection error", zap.Error(err))
			os.Exit(1)
		}
		archive = minioClient
	}

	validator := validation.Validator{MaxPromptChars: cfg.MaxPromptChars, MaxModelName: cfg.MaxModelName}
	sessions := session.NewManager(store)
	eng := engine.NewClient(cfg, logs)
	cat := catalog.New(eng, validator, cfg.ModelCacheTTL, logs)
	hist := history.NewStore(logs)
	limiter := middlewares.NewRateLimiter(cfg.RateLimitPerMin, cfg.RateLimitBurst)
	go limiter.Run(ctx)

	handler := routes.NewRouter(routes.Deps{
		Config:  cfg,
		Logs:    logs,
		Limiter: limiter,
		Health:  controllers.NewHealthController(eng, logs),
		Models:  controllers.NewModelController(cat, sessions, validator, logs),
		History: controllers.NewHistoryController(hist, sessions, exporter, archive, validator, logs),
		Chat:    controllers.NewChatController(inference.NewService(eng, cat, hist, sessions, validator, logs)),
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logs.App.Info("starting server",
			zap.String("addr", cfg.Addr()),
			zap.String("ollama_path", cfg.EnginePath),
			zap.String("session_backend", cfg.SessionBackend),
			zap.Bool("debug", cfg.Debug),
			zap.Bool("export_archive", archive != nil),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logs.Error.Error("server listen error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logs.Error.Error("server shutdown error", zap.Error(err))
	}
	logs.App.Info("server shutdown complete")
}

// openSessionStore opens the configured session backend.
func openSessionStore(ctx context.Context, cfg config.Config, logs *logging.Loggers) (session.Store, func(), error) {
	switch cfg.SessionBackend {
	case config.BackendSQLite:
		s, err := sqlite.Open(cfg.SessionSQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case config.BackendPostgres:
		dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		db, err := psql.NewDatabase(dbCtx, cfg, logs.App)
		if err != nil {
			return nil, nil, err
		}
		return dao.NewSessionDAO(db.DB), db.Close, nil
	default:
		return session.NewMemoryStore(), func() {}, nil
	}
}
