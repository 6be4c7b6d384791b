package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/nats-io/nats.go"

	"degreeproof/internal/audit"
	"degreeproof/internal/audit/outbox"
	"degreeproof/internal/credential/keys"
	"degreeproof/internal/credential/store"
	"degreeproof/internal/platform/config"
	"degreeproof/internal/platform/database"
	"degreeproof/internal/platform/health"
	"degreeproof/internal/platform/kafka"
	"degreeproof/internal/platform/kafka/producer"
	"degreeproof/internal/platform/metrics"
	"degreeproof/internal/platform/redis"
	"degreeproof/internal/ratelimit"
	"degreeproof/internal/verification/extraction"
	"degreeproof/pkg/platform/tracer"
)

const (
	poolStatsInterval = 15 * time.Second
	producerFlush     = 5 * time.Second
)

// infra holds the connections shared by the stores and stream sinks.
type infra struct {
	db       *database.Pool
	redis    *redis.Client
	admin    *kafka.Admin
	producer *producer.Producer
	nats     *nats.Conn
	outbox   *outbox.Worker
	stop     context.CancelFunc
}

func openInfra(ctx context.Context, cfg config.Config, log *slog.Logger, m *metrics.Metrics, probes *health.Handler) (*infra, error) {
	in := &infra{stop: func() {}}

	if cfg.Store.Backend == config.BackendPostgres || cfg.Audit.Backend == config.BackendPostgres {
		pool, err := database.New(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		in.db = pool
		probes.RegisterCheck("postgres", pool.Health)
		m.Registry.MustRegister(pool.Collector("degreeproof"))
		if cfg.Database.Migrate {
			applied, err := database.Migrate(ctx, pool.DB())
			if err != nil {
				in.close(log)
				return nil, fmt.Errorf("migrate database: %w", err)
			}
			log.Info("database migrated", "applied", applied)
		}
	}

	client, err := redis.New(ctx, cfg.Redis, m.RedisPool)
	if err != nil {
		in.close(log)
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if client != nil {
		in.redis = client
		probes.RegisterCheck("redis", client.Health)
		statsCtx, cancel := context.WithCancel(context.Background())
		in.stop = cancel
		go recordPoolStats(statsCtx, client)
	}
	return in, nil
}

func recordPoolStats(ctx context.Context, client *redis.Client) {
	ticker := time.NewTicker(poolStatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			client.RecordPoolStats()
		}
	}
}

func (in *infra) close(log *slog.Logger) {
	in.stop()
	if in.outbox != nil {
		ctx, cancel := context.WithTimeout(context.Background(), producerFlush)
		if err := in.outbox.Stop(ctx); err != nil {
			log.Warn("outbox worker did not drain", "error", err)
		}
		cancel()
	}
	if in.producer != nil {
		in.producer.Close(producerFlush)
	}
	if in.admin != nil {
		in.admin.Close()
	}
	if in.nats != nil {
		if err := in.nats.Drain(); err != nil {
			log.Warn("failed to drain nats connection", "error", err)
		}
	}
	if in.redis != nil {
		if err := in.redis.Close(); err != nil {
			log.Warn("failed to close redis client", "error", err)
		}
	}
	if in.db != nil {
		if err := in.db.Close(); err != nil {
			log.Warn("failed to close database", "error", err)
		}
	}
}

func buildKeyring(cfg config.Keys) (*keys.DerivedKeyring, error) {
	public, err := keys.ParsePublicKeys(cfg.PublicKeys)
	if err != nil {
		return nil, fmt.Errorf("parse public keys: %w", err)
	}
	ring, err := keys.NewDerivedKeyring([]byte(cfg.MasterSecret), public)
	if err != nil {
		return nil, fmt.Errorf("create keyring: %w", err)
	}
	return ring, nil
}

func buildCredentialStore(cfg config.Store, in *infra) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		return store.NewPostgres(in.db.DB()), nil
	case config.BackendRedis:
		if in.redis == nil {
			return nil, errors.New("store.backend=redis requires redis.url")
		}
		return store.NewRedis(in.redis.Client), nil
	default:
		return store.NewInMemoryStore(), nil
	}
}

func buildAuditPublisher(ctx context.Context, cfg config.Audit, log *slog.Logger, m *metrics.Metrics, probes *health.Handler, in *infra) (*audit.Publisher, error) {
	var primary audit.Store = audit.NewInMemoryStore()
	if cfg.Backend == config.BackendPostgres {
		var pgOpts []audit.PostgresOption
		if cfg.Outbox {
			pgOpts = append(pgOpts, audit.WithOutbox())
		}
		primary = audit.NewPostgres(in.db.DB(), pgOpts...)
	}

	opts := []audit.PublisherOption{
		audit.WithPublisherLogger(log),
		audit.WithPublisherMetrics(m.Audit),
		audit.WithAsyncBuffer(cfg.AsyncBuffer),
		audit.WithStreamTimeout(cfg.StreamTimeout),
	}

	if cfg.KafkaBrokers != "" {
		admin, err := kafka.NewAdmin(cfg.KafkaBrokers)
		if err != nil {
			return nil, err
		}
		in.admin = admin
		if err := admin.EnsureTopic(ctx, cfg.KafkaTopic, 1, 1); err != nil {
			log.Warn("could not ensure audit topic", "topic", cfg.KafkaTopic, "error", err)
		}
		pcfg := kafka.DefaultProducerConfig()
		pcfg.Brokers = cfg.KafkaBrokers
		prod, err := producer.New(pcfg, log)
		if err != nil {
			return nil, fmt.Errorf("create kafka producer: %w", err)
		}
		in.producer = prod
		probes.RegisterCheck(admin.Name(), admin.Check)
		if cfg.Outbox {
			in.outbox = outbox.NewWorker(outbox.NewPostgres(in.db.DB()), prod,
				outbox.WithTopic(cfg.KafkaTopic),
				outbox.WithPollInterval(cfg.OutboxPollInterval),
				outbox.WithBatchSize(cfg.OutboxBatchSize),
				outbox.WithRetention(cfg.OutboxRetention),
				outbox.WithMetrics(m.Outbox),
				outbox.WithLogger(log))
			in.outbox.Start()
			log.Info("audit stream enabled", "sink", "kafka", "topic", cfg.KafkaTopic, "outbox", true)
		} else {
			opts = append(opts, audit.WithStream("kafka", audit.NewKafkaSink(prod, cfg.KafkaTopic)))
			log.Info("audit stream enabled", "sink", "kafka", "topic", cfg.KafkaTopic)
		}
	}

	if cfg.NATSURL != "" {
		conn, err := audit.ConnectNATS(cfg.NATSURL)
		if err != nil {
			return nil, err
		}
		in.nats = conn
		probes.RegisterCheck("nats", func(context.Context) error {
			if !conn.IsConnected() {
				return errors.New("nats connection " + conn.Status().String())
			}
			return nil
		})
		opts = append(opts, audit.WithStream("nats", audit.NewNATSSink(conn, cfg.NATSSubject)))
		log.Info("audit stream enabled", "sink", "nats", "subject", cfg.NATSSubject)
	}

	return audit.NewPublisher(primary, opts...), nil
}

func buildRateLimitStore(cfg config.RateLimit, in *infra) (ratelimit.Store, error) {
	if cfg.Backend != config.BackendRedis {
		return ratelimit.NewInMemoryStore(), nil
	}
	if in.redis == nil {
		return nil, errors.New("rate_limit.backend=redis requires a redis connection")
	}
	return ratelimit.NewRedisStore(in.redis), nil
}

func buildExtractor(cfg config.Verification, log *slog.Logger, tr tracer.Tracer) extraction.Extractor {
	if cfg.ExtractorURL == "" {
		return extraction.NewTextExtractor()
	}
	return extraction.NewHTTPExtractor(extraction.HTTPConfig{
		BaseURL: cfg.ExtractorURL,
		APIKey:  cfg.ExtractorAPIKey,
		Timeout: cfg.ExtractionTimeout,
		Logger:  log,
		Tracer:  tr,
	})
}

// parseTrustedProxies accepts CIDR prefixes or bare addresses.
func parseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		if p, err := netip.ParsePrefix(e); err == nil {
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q is neither an address nor a prefix", e)
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}
