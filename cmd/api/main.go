package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/bryanwahyu/xray-analyzer/internal/application"
	appaccounts "github.com/bryanwahyu/xray-analyzer/internal/application/accounts"
	appuploads "github.com/bryanwahyu/xray-analyzer/internal/application/uploads"
	"github.com/bryanwahyu/xray-analyzer/internal/config"
	"github.com/bryanwahyu/xray-analyzer/internal/domain/accounts"
	"github.com/bryanwahyu/xray-analyzer/internal/domain/analysis"
	domain "github.com/bryanwahyu/xray-analyzer/internal/domain/uploads"
	mysqlp "github.com/bryanwahyu/xray-analyzer/internal/infra/db/mysql"
	postgresp "github.com/bryanwahyu/xray-analyzer/internal/infra/db/postgres"
	"github.com/bryanwahyu/xray-analyzer/internal/infra/httpserver"
	"github.com/bryanwahyu/xray-analyzer/internal/infra/identity"
	"github.com/bryanwahyu/xray-analyzer/internal/infra/predict"
	"github.com/bryanwahyu/xray-analyzer/internal/infra/storage"
	"github.com/bryanwahyu/xray-analyzer/internal/logging"
	"github.com/bryanwahyu/xray-analyzer/internal/middleware"
)

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openDatabase(ctx, cfg)
	if err != nil {
		return fmt.Errorf("%s connect error: %w", cfg.Database.Driver, err)
	}
	defer st.db.Close()

	health := &middleware.Health{
		Checks:   map[string]middleware.Checker{"database": middleware.PingDB(st.db)},
		Critical: []string{"database"},
	}

	// previews: minio kalau enabled, kalau tidak simpan di memory
	var (
		previews domain.PreviewStore
		opener   httpserver.PreviewOpener
	)
	if cfg.Minio.Enabled {
		store, err := storage.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
			cfg.Previews.TTL,
		)
		if err != nil {
			return fmt.Errorf("minio init error: %w", err)
		}
		previews = store
		health.Checks["previews"] = store
		health.Critical = append(health.Critical, "previews")
	} else {
		baseURL := cfg.Previews.BaseURL
		if baseURL == "" {
			baseURL = "/v1/previews/"
		}
		mem := storage.NewMemory(baseURL)
		previews, opener = mem, mem
	}

	auth, err := identity.New(ctx, cfg.Identity.APIKey, cfg.Identity.RequestURI)
	if err != nil {
		return fmt.Errorf("identity init error: %w", err)
	}

	clock := application.SystemClock{}
	tokens := appaccounts.NewTokenStore(clock, cfg.Identity.TokenTTL)
	accountsSvc := &appaccounts.Service{
		Auth:     auth,
		Profiles: st.profiles,
		Tokens:   tokens,
		Clock:    clock,
		Log:      logger.Named("accounts"),
	}

	predictor := predict.NewClient(cfg.Predictor.Endpoint, cfg.Predictor.FieldName, logger.Named("predict"))
	// model server boleh telat siap; cuma dilaporkan, tidak gate readiness
	health.Checks["predictor"] = middleware.CheckFunc(predictor.Check)

	registry := appuploads.NewRegistry(appuploads.Deps{
		Predictor: predictor,
		Previews:  previews,
		History:   st.history,
		Failures:  st.failures,
		Clock:     clock,
		Timeout:   cfg.Predictor.Timeout,
		Logger:    logger.Named("uploads"),
	})

	limiter := middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)

	// background jobs berhenti saat ctx selesai
	go registry.Run(ctx, cfg.Sessions.SweepInterval, cfg.Sessions.MaxIdle)
	go tokens.Run(ctx, time.Minute)
	go limiter.Run(ctx)

	health.Sessions = registry

	uploadsCtx, cancelUploads := context.WithCancel(context.Background())
	defer cancelUploads()

	handler := httpserver.NewRouter(httpserver.Deps{
		Accounts:    accountsSvc,
		Sessions:    registry,
		History:     st.history,
		Failures:    st.failures,
		Previews:    opener,
		Metrics:     middleware.NewMetrics(),
		Limiter:     limiter,
		Health:      health,
		Origins:     cfg.CORS.AllowedOrigins,
		Log:         logger.Named("http"),
		BaseContext: uploadsCtx,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	cancelUploads()
	registry.CloseAll(ctx2)
	return nil
}

type stores struct {
	db       *sql.DB
	profiles accounts.ProfileRepository
	history  analysis.Repository
	failures domain.FailureRepository
}

func openDatabase(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.Database.Driver {
	case "postgres":
		db, err := postgresp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, err
		}
		if cfg.Database.Migrate {
			if err := postgresp.Migrate(ctx, db); err != nil {
				db.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		return &stores{
			db:       db,
			profiles: postgresp.NewProfileRepository(db),
			history:  postgresp.NewAnalysisRepository(db),
			failures: postgresp.NewFailureRepository(db),
		}, nil
	default:
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, err
		}
		if cfg.Database.Migrate {
			if err := mysqlp.Migrate(ctx, db); err != nil {
				db.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		return &stores{
			db:       db,
			profiles: mysqlp.NewProfileRepository(db),
			history:  mysqlp.NewAnalysisRepository(db),
			failures: mysqlp.NewFailureRepository(db),
		}, nil
	}
}
