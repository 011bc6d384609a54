package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"coachhub/internal/audit"
	auditrepo "coachhub/internal/audit/repository"
	"coachhub/internal/config"
	"coachhub/internal/db"
	healthhandler "coachhub/internal/health/handler"
	identityhandler "coachhub/internal/identity/handler"
	identityrepo "coachhub/internal/identity/repository"
	identityservice "coachhub/internal/identity/service"
	invitationhandler "coachhub/internal/invitation/handler"
	invitationrepo "coachhub/internal/invitation/repository"
	invitationservice "coachhub/internal/invitation/service"
	"coachhub/internal/logging"
	"coachhub/internal/metrics"
	"coachhub/internal/platform/httpx"
	"coachhub/internal/policy/engine"
	"coachhub/internal/security"
	"coachhub/internal/server"
	"coachhub/internal/server/interceptors"
	"coachhub/internal/server/middleware"
	sessionrepo "coachhub/internal/session/repository"
	"coachhub/internal/session/resolver"
	"coachhub/internal/telemetry"
	"coachhub/internal/telemetry/kafka"
	telemetryotel "coachhub/internal/telemetry/otel"
)

const serviceName = "coachhub"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(serviceName, cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("server exited")
	}
}

func run(cfg *config.Config, logger *logrus.Entry) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Settings{
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		ServiceName: serviceName,
		Environment: cfg.Env,
	})
	if err != nil {
		return err
	}
	providers.SetGlobal()
	emitters := []telemetry.EventEmitter{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	if events := kafka.NewEmitter(cfg.KafkaBrokerList(), cfg.TelemetryKafkaTopic); events != nil {
		defer events.Close()
		emitters = append(emitters, events)
	}
	emitter := telemetry.Fanout(emitters...)

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
	}

	authz, err := engine.NewOPAAuthorizer(ctx, engine.DefaultRolePolicy, logger)
	if err != nil {
		return err
	}
	m := metrics.New()
	hasher := security.NewHasher(cfg.BcryptCost)

	identities := identityrepo.NewPostgresRepository(conn)
	auditLogger := audit.NewLogger(auditrepo.NewPostgresRepository(conn), middleware.ClientIPFromContext, logger)
	sessions := sessionStore(cfg, conn, rdb)

	auth := identityservice.NewAuthService(identities, sessions, hasher, cfg.SessionTTL(),
		identityservice.WithAuditLogger(auditLogger),
		identityservice.WithEmitter(emitter),
		identityservice.WithLogger(logger),
	)
	invitations := invitationservice.NewService(
		invitationrepo.NewPostgresRepository(conn),
		identities,
		invitationrepo.NewPostgresTxRunner(conn),
		authz,
		hasher,
		cfg.BaseURL,
		cfg.InvitationTTL(),
		invitationservice.WithAuditLogger(auditLogger),
		invitationservice.WithEmitter(emitter),
		invitationservice.WithOutcomeRecorder(m),
		invitationservice.WithLogger(logger),
	)

	policy := engine.New(cfg.PublicRouteList(), engine.WithSignInPath(cfg.SignInPath))
	cookie := httpx.SessionCookie{Name: cfg.SessionCookieName, Secure: cfg.CookieSecure}
	checker := healthhandler.NewChecker(conn, authz)

	proxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxyList())
	if err != nil {
		return err
	}

	var limiter middleware.RateLimiter
	if rdb != nil {
		limiter = middleware.NewRedisRateLimiter(rdb, logger)
	} else {
		limiter = middleware.NewMemoryRateLimiter()
	}
	defer limiter.Close()

	handler := server.NewHTTPHandler(server.HTTPDeps{
		Gate: middleware.NewGate(
			resolver.New(sessions, cfg.SessionLookupTimeout(), resolver.WithLogger(logger)),
			policy, cookie, m, logger,
		),
		Auth:        identityhandler.NewHandler(auth, authz, cookie, "", logger),
		Invitations: invitationhandler.NewHandler(invitations, auth, cookie, "", logger),
		Pages:       server.NewPages(invitations, auditrepo.NewPostgresRepository(conn), authz, logger),
		Health:      healthhandler.HTTPHandler(checker, logger),
		Metrics:     m.Handler(),
		Observer:    m,
		Limits: server.RateLimits{
			Limiter:    limiter,
			SignIn:     cfg.RateLimitSignIn,
			Invitation: cfg.RateLimitInvitations,
			Window:     cfg.RateLimitWindow(),
		},
		Proxies: proxies,
		Log:     logger,
	})

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 2)

	grpcSrv := server.NewGRPCServer(
		healthhandler.NewServer(checker, serviceName, logger),
		grpc.ChainUnaryInterceptor(interceptors.LoggingUnary(logger, nil)),
	)
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		go func() {
			logger.WithField("addr", cfg.GRPCAddr).Info("grpc ops server listening")
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- err
			}
		}()
	}

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.WithError(err).Error("listener failed; shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownDrain())
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown")
	}
	stopGRPC(shutdownCtx, grpcSrv.GracefulStop, grpcSrv.Stop)
	if err := providers.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("telemetry shutdown")
	}
	logger.Info("server stopped")
	return nil
}

// sessionStore returns the Redis store when selected, Postgres otherwise.
func sessionStore(cfg *config.Config, conn *sql.DB, rdb *redis.Client) sessionrepo.Repository {
	if cfg.SessionStore == config.SessionStoreRedis && rdb != nil {
		return sessionrepo.NewRedisRepository(rdb)
	}
	return sessionrepo.NewPostgresRepository(conn)
}

// stopGRPC waits for in-flight RPCs until ctx expires, then forces the stop.
func stopGRPC(ctx context.Context, graceful, force func()) {
	done := make(chan struct{})
	go func() {
		graceful()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		force()
	}
}
