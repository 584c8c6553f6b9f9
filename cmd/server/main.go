// Command keygate-server starts the activation gRPC server and the admin HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	pb "github.com/and161185/keygate/api/keygate/v1"
	"github.com/and161185/keygate/internal/codec"
	"github.com/and161185/keygate/internal/config"
	"github.com/and161185/keygate/internal/crypto"
	"github.com/and161185/keygate/internal/events"
	"github.com/and161185/keygate/internal/ledger"
	"github.com/and161185/keygate/internal/limiter"
	"github.com/and161185/keygate/internal/lock"
	"github.com/and161185/keygate/internal/metrics"
	"github.com/and161185/keygate/internal/migrate"
	"github.com/and161185/keygate/internal/repository"
	"github.com/and161185/keygate/internal/repository/memory"
	"github.com/and161185/keygate/internal/repository/postgres"
	"github.com/and161185/keygate/internal/repository/redis"
	grpcserver "github.com/and161185/keygate/internal/server/grpc"
	httpserver "github.com/and161185/keygate/internal/server/http"
	"github.com/and161185/keygate/internal/service"
	"github.com/and161185/keygate/internal/session"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("KEYGATE_CONFIG"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}

	var logger *zap.Logger
	if cfg.Debug {
		logger, _ = zap.NewDevelopment()
	} else {
		logger, _ = zap.NewProduction()
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("grpc", cfg.GRPCAddr),
		zap.String("admin", cfg.AdminAddr),
		zap.String("store", cfg.Store),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// backend is the opened key-value store plus what only some stores provide.
type backend struct {
	store   repository.KeyValueStore
	limiter limiter.Limiter
	close   func()
}

func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (*backend, error) {
	policy := limiter.Policy{Window: cfg.Limiter.Window, MaxFails: cfg.Limiter.MaxFails, BlockFor: cfg.Limiter.BlockFor}

	switch cfg.Store {
	case config.StoreRedis:
		s, err := redis.Connect(ctx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, err
		}
		return &backend{store: s, limiter: limiter.NewKV(s, policy), close: func() { _ = s.Close() }}, nil

	case config.StorePostgres:
		if err := migrate.Up(ctx, cfg.PostgresDSN, log); err != nil {
			return nil, err
		}
		db, err := postgres.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		kv := postgres.NewKVRepo(db)
		if cfg.SweepInterval > 0 {
			go sweep(ctx, kv, cfg.SweepInterval, log)
		}
		return &backend{store: kv, limiter: limiter.NewPG(db.Pool, policy), close: db.Close}, nil

	default:
		log.Warn("using in-memory store; state is lost on restart")
		s := memory.New()
		return &backend{store: s, limiter: limiter.NewKV(s, policy), close: func() {}}, nil
	}
}

// sweep removes expired PostgreSQL entries until ctx is done.
func sweep(ctx context.Context, kv *postgres.KVRepo, every time.Duration, log *zap.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := kv.DeleteExpired(ctx)
			if err != nil {
				log.Warn("sweep expired entries", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Debug("swept expired entries", zap.Int64("count", n))
			}
		}
	}
}

func setupTracing(enabled bool) (func(context.Context) error, error) {
	if !enabled {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	shutdownTracing, err := setupTracing(cfg.StdoutTracing)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	be, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.close()

	m := metrics.New()
	locker := lock.New(be.store,
		lock.WithMode(lock.Mode(cfg.LockMode)),
		lock.WithTTL(cfg.LockTTL),
		lock.WithObserver(m.ObserveLock),
	)
	if !locker.Atomic() {
		logger.Warn("lock is advisory; concurrent redemptions may over-grant")
	}

	var pub events.Publisher = events.Nop{}
	if cfg.AMQP.URL != "" {
		p, err := events.Dial(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			return err
		}
		pub = p
	}
	defer func() { _ = pub.Close() }()

	secret := []byte(cfg.ServerSecret)
	c := codec.New(crypto.NewKeyCache())

	authSvc := service.NewAuthService(c, secret, ledger.New(be.store), locker, logger,
		service.WithEvents(pub),
		service.WithObserver(m),
	)
	productSvc := service.NewProductService(be.store, locker, c, secret, logger, m, cfg.LockWait, cfg.LockRetry)

	keys := session.NewServerKeys(be.store, locker, cfg.KeyRotation, cfg.LockWait, cfg.LockRetry)
	channel := session.NewChannel(keys, session.NewRegistry(be.store, cfg.SessionTTL), cfg.TimestampTolerance, nil)

	// gRPC
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.LoggingUnary(logger),
			grpcserver.MetricsUnary(m),
			grpcserver.ClientIDUnary(),
		),
	}
	if cfg.TLSCert != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return err
		}
		opts = append(opts, grpc.Creds(creds))
	} else {
		logger.Warn("gRPC listener runs without TLS")
	}
	gs := grpc.NewServer(opts...)
	pb.RegisterActivationServer(gs, grpcserver.New(authSvc, channel, be.limiter, logger))

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	if cfg.Dev {
		reflection.Register(gs)
	}

	// Admin HTTP
	verifier, err := httpserver.NewSecretVerifier(cfg.AdminSecret)
	if err != nil {
		return err
	}
	allow, err := httpserver.ParseAllowList(cfg.AdminAllowList)
	if err != nil {
		return err
	}
	proxies, err := httpserver.ParseAllowList(cfg.AdminTrustedProxies)
	if err != nil {
		return err
	}
	hsrv := &http.Server{
		Addr: cfg.AdminAddr,
		Handler: httpserver.NewRouter(productSvc, m.Handler(), httpserver.Config{
			Secret:         verifier,
			AllowList:      allow,
			TrustedProxies: proxies,
			RateLimit:      cfg.AdminRateLimit,
			Burst:          cfg.AdminBurst,
		}, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
		errCh <- gs.Serve(lis)
	}()
	go func() {
		logger.Info("admin listening", zap.String("addr", cfg.AdminAddr))
		if err := hsrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	hs.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = hsrv.Shutdown(shutdownCtx)

	done := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		gs.Stop()
	}
	return serveErr
}
