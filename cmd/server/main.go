package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"degreeproof/internal/audit"
	audithandler "degreeproof/internal/audit/handler"
	credhandler "degreeproof/internal/credential/handler"
	"degreeproof/internal/credential/issuer"
	jwttoken "degreeproof/internal/jwt_token"
	"degreeproof/internal/platform/config"
	"degreeproof/internal/platform/health"
	"degreeproof/internal/platform/logger"
	"degreeproof/internal/platform/metrics"
	"degreeproof/internal/ratelimit"
	httptransport "degreeproof/internal/transport/http"
	"degreeproof/internal/verification/engine"
	verhandler "degreeproof/internal/verification/handler"
	"degreeproof/pkg/platform/tracer"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in the internal service packages.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	log.Info("initializing degreeproof",
		"addr", cfg.Server.Addr,
		"environment", cfg.Environment,
		"store_backend", cfg.Store.Backend,
		"audit_backend", cfg.Audit.Backend,
	)

	m := metrics.New()
	tr := tracer.NewOTel()
	probes := health.New(cfg.Environment)

	infra, err := openInfra(ctx, cfg, log, m, probes)
	if err != nil {
		return err
	}
	defer infra.close(log)

	keyring, err := buildKeyring(cfg.Keys)
	if err != nil {
		return err
	}
	credentials, err := buildCredentialStore(cfg.Store, infra)
	if err != nil {
		return err
	}

	iss, err := issuer.New(credentials, keyring,
		issuer.WithLogger(log),
		issuer.WithMetrics(m.Credentials),
		issuer.WithTracer(tr),
		issuer.WithConfig(issuer.Config{
			DefaultTTL:      cfg.Issuer.DefaultTTL,
			MaxRetries:      cfg.Issuer.MaxRetries,
			RetryInterval:   cfg.Issuer.RetryInterval,
			BulkConcurrency: cfg.Issuer.BulkConcurrency,
		}),
	)
	if err != nil {
		return fmt.Errorf("create issuer: %w", err)
	}

	publisher, err := buildAuditPublisher(ctx, cfg.Audit, log, m, probes, infra)
	if err != nil {
		return err
	}
	defer publisher.Close()

	eng, err := engine.New(credentials, keyring,
		engine.WithLogger(log),
		engine.WithMetrics(m.Verification),
		engine.WithTracer(tr),
		engine.WithAuditSink(publisher),
		engine.WithPolicy(engine.Policy{
			MatchThreshold:    cfg.Verification.MatchThreshold,
			CompareFields:     cfg.Verification.CompareFields,
			ExtractionTimeout: cfg.Verification.ExtractionTimeout,
			MaxDocumentBytes:  cfg.Verification.MaxDocumentBytes,
		}),
	)
	if err != nil {
		return fmt.Errorf("create verification engine: %w", err)
	}

	proxies, err := parseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}
	limiter, err := buildRateLimitStore(cfg.RateLimit, infra)
	if err != nil {
		return err
	}
	verifyLimit := ratelimit.Middleware(limiter, "verify", ratelimit.Policy{
		Limit:  cfg.RateLimit.VerifyLimit,
		Window: cfg.RateLimit.VerifyWindow,
	}, log)
	tokens := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Auth.TokenTTL)

	router := httptransport.NewRouter(httptransport.Dependencies{
		Logger:         log,
		Validator:      jwttoken.NewJWTServiceAdapter(tokens),
		Health:         probes,
		Credentials:    credhandler.New(iss, log, cfg.Issuer.MaxBulkRows),
		Verification:   verhandler.New(eng, buildExtractor(cfg.Verification, log, tr), cfg.Verification.AllowedContentTypes, log),
		Audit:          audithandler.New(audit.NewService(publisher.Store()), log),
		VerifyLimit:    verifyLimit,
		Latency:        m.HTTP,
		MetricsHandler: m.Handler(),
		RequestTimeout: cfg.Server.RequestTimeout,
		TrustedProxies: proxies,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting http server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
