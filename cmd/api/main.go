package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"hrcore.org/internal/audit"
	"hrcore.org/internal/auth"
	"hrcore.org/internal/config"
	"hrcore.org/internal/grpcapi"
	"hrcore.org/internal/httpapi"
	"hrcore.org/internal/jobs"
	"hrcore.org/internal/notify"
	"hrcore.org/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		obs.Logger().Fatal("load config", zap.Error(err))
	}

	logger, err := obs.NewLogger(obs.LogConfig{Level: cfg.LogLevel, Dev: cfg.LogDev})
	if err != nil {
		obs.Logger().Fatal("build logger", zap.Error(err))
	}
	obs.SetLogger(logger)
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		db         *sqlx.DB
		authStore  auth.Store
		auditStore audit.Store
	)
	if cfg.DatabaseURL != "" {
		db, err = sqlx.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("open db", zap.Error(err))
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		authStore = auth.NewPGStore(db)
		auditStore = audit.NewPGStore(db)
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory stores")
		authStore = auth.NewMemoryStore()
		auditStore = audit.NewMemoryStore()
	}

	var (
		rdb      *redis.Client
		notifier notify.Notifier = notify.LogNotifier{Logger: logger, IncludeToken: cfg.LogDev}
	)
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		rn, err := notify.NewRedisNotifier(rdb, cfg.ResetQueue)
		if err != nil {
			logger.Fatal("redis notifier", zap.Error(err))
		}
		notifier = rn
	}

	issuer, err := newIssuer(cfg)
	if err != nil {
		logger.Fatal("token issuer", zap.Error(err))
	}
	hasher, err := auth.NewHasher(cfg.PasswordAlgorithm, cfg.BcryptCost)
	if err != nil {
		logger.Fatal("password hasher", zap.Error(err))
	}
	svc, err := auth.NewService(authStore, issuer,
		auth.WithHasher(hasher),
		auth.WithNotifier(notifier),
		auth.WithRefreshTTL(cfg.RefreshTokenTTL),
		auth.WithResetTTL(cfg.ResetTokenTTL),
	)
	if err != nil {
		logger.Fatal("auth service", zap.Error(err))
	}

	policy := auth.DefaultPolicy()
	if cfg.PolicyFile != "" {
		if policy, err = auth.LoadPolicyFile(cfg.PolicyFile); err != nil {
			logger.Fatal("load policy", zap.String("path", cfg.PolicyFile), zap.Error(err))
		}
	}
	guard, err := auth.NewGuard(issuer, policy)
	if err != nil {
		logger.Fatal("guard", zap.Error(err))
	}
	recorder, err := audit.NewRecorder(auditStore)
	if err != nil {
		logger.Fatal("audit recorder", zap.Error(err))
	}

	if cfg.BootstrapAdminEmail != "" {
		created, err := svc.EnsureAdmin(ctx, cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword)
		if err != nil {
			logger.Fatal("bootstrap admin", zap.Error(err))
		}
		if created {
			logger.Info("bootstrap admin created", zap.String("email", cfg.BootstrapAdminEmail))
		}
	}

	ready := httpapi.ReadyProbe{}
	if db != nil {
		ready.DB = db
	}
	if rdb != nil {
		ready.Redis = rdb
	}

	api, err := httpapi.New(httpapi.Deps{
		Auth:          svc,
		Guard:         guard,
		Audit:         recorder,
		Ready:         ready,
		Version:       version,
		RateBurst:     cfg.RateLimitBurst,
		RatePerSecond: cfg.RateLimitPerSecond,
		MaxBodyBytes:  cfg.MaxBodyBytes,

		TrustedProxies: cfg.TrustedProxies,
	})
	if err != nil {
		logger.Fatal("http api", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv, err := grpcapi.NewServer(guard, grpcapi.WithReadiness(ready))
	if err != nil {
		logger.Fatal("grpc server", zap.Error(err))
	}
	grpcSrv.WatchReadiness(ctx, 10*time.Second)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("grpc listen", zap.String("addr", cfg.GRPCAddr), zap.Error(err))
	}

	sweepDone := jobs.StartTokenSweep(ctx, svc, cfg.TokenSweepInterval, cfg.TokenSweepTimeout)

	go func() {
		logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcSrv.GRPC().Serve(lis); err != nil {
			logger.Error("grpc serve", zap.Error(err))
			stop()
		}
	}()
	go func() {
		logger.Info("starting hrcore-api",
			zap.String("version", version),
			zap.String("addr", cfg.HTTPAddr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http listen", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	grpcSrv.Shutdown()
	<-sweepDone

	if rdb != nil {
		_ = rdb.Close()
	}
	if db != nil {
		_ = db.Close()
	}
	logger.Info("stopped")
}

func newIssuer(cfg config.Config) (*auth.Issuer, error) {
	opts := []auth.IssuerOption{
		auth.WithIssuerName(cfg.JWTIssuer),
		auth.WithAccessTTL(cfg.AccessTokenTTL),
	}
	if cfg.JWTKeyID != "" {
		opts = append(opts, auth.WithKeyID(cfg.JWTKeyID))
	}
	if cfg.JWTPrivateKey != "" {
		return auth.NewRS256Issuer(cfg.JWTPrivateKey, cfg.JWTPublicKey, opts...)
	}
	return auth.NewHS256Issuer([]byte(cfg.JWTSecret), opts...)
}
