// Command audit-mirror consumes the verification audit topic and appends each
// entry to Postgres, so a replica audit trail can be rebuilt from the stream.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"degreeproof/internal/audit"
	"degreeproof/internal/platform/config"
	"degreeproof/internal/platform/database"
	"degreeproof/internal/platform/kafka"
	"degreeproof/internal/platform/kafka/consumer"
	"degreeproof/internal/platform/logger"
)

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
		log.Error("audit mirror exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("audit mirror stopped")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if cfg.Audit.KafkaBrokers == "" {
		return errors.New("audit.kafka_brokers is required")
	}
	if cfg.Database.URL == "" {
		return errors.New("database.url is required")
	}

	pool, err := database.New(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer pool.Close() //nolint:errcheck // process is exiting
	if cfg.Database.Migrate {
		if _, err := database.Migrate(ctx, pool.DB()); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
	}

	ccfg := kafka.DefaultConsumerConfig()
	ccfg.Brokers = cfg.Audit.KafkaBrokers
	ccfg.GroupID = cfg.Audit.KafkaGroupID
	ccfg.Topics = []string{cfg.Audit.KafkaTopic}

	c, err := consumer.New(ccfg, audit.NewMirror(audit.NewPostgres(pool.DB()), log), log)
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}
	defer c.Close()

	log.Info("mirroring audit stream",
		"topic", cfg.Audit.KafkaTopic,
		"group_id", cfg.Audit.KafkaGroupID,
	)
	return c.Run(ctx)
}
