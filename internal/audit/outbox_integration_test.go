//go:build integration

package audit_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"degreeproof/internal/audit"
	"degreeproof/internal/audit/outbox"
	"degreeproof/internal/platform/kafka"
	"degreeproof/internal/platform/kafka/consumer"
	"degreeproof/internal/platform/kafka/producer"
	"degreeproof/internal/verification/models"
	"degreeproof/pkg/testutil/containers"
)

type OutboxSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	kafka    *containers.KafkaContainer
	producer *producer.Producer
}

func TestOutboxSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(OutboxSuite))
}

func (s *OutboxSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.kafka = mgr.GetKafka(s.T())

	cfg := kafka.DefaultProducerConfig()
	cfg.Brokers = s.kafka.Brokers
	prod, err := producer.New(cfg, nil)
	s.Require().NoError(err)
	s.producer = prod
}

func (s *OutboxSuite) TearDownSuite() {
	if s.producer != nil {
		s.producer.Close(5 * time.Second)
	}
}

func (s *OutboxSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateAll(context.Background()))
}

func (s *OutboxSuite) TestAppendQueuesInSameTransaction() {
	ctx := context.Background()
	store := audit.NewPostgres(s.postgres.DB, audit.WithOutbox())
	pending := outbox.NewPostgres(s.postgres.DB)

	e := entry(models.OutcomeTampered, models.MethodProofScan, "v1", 0)
	s.Require().NoError(store.Append(ctx, e))
	s.ErrorIs(store.Append(ctx, e), audit.ErrDuplicate)

	n, oldest, err := pending.Pending(ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), n, "duplicate append rolls back its outbox row")
	s.False(oldest.IsZero())

	rows, err := pending.FetchUnprocessed(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Equal(e.Result.ID.String(), rows[0].ResultID.String())
	s.Equal(string(models.OutcomeTampered), rows[0].Outcome)

	var decoded audit.Entry
	s.Require().NoError(json.Unmarshal(rows[0].Payload, &decoded))
	s.Equal(e.Result.ID, decoded.Result.ID)

	s.Require().NoError(pending.MarkProcessed(ctx, rows[0].ID, time.Now()))
	s.Error(pending.MarkProcessed(ctx, rows[0].ID, time.Now()))

	deleted, err := pending.DeleteProcessedBefore(ctx, time.Now().Add(time.Minute))
	s.Require().NoError(err)
	s.Equal(int64(1), deleted)
}

func (s *OutboxSuite) TestWorkerStreamsToMirror() {
	ctx := context.Background()
	topic := "test-audit-outbox"
	s.Require().NoError(s.kafka.CreateTopic(ctx, topic))

	store := audit.NewPostgres(s.postgres.DB, audit.WithOutbox())
	e := entry(models.OutcomeVerified, models.MethodDocumentExtraction, "v2", 0)
	s.Require().NoError(store.Append(ctx, e))

	w := outbox.NewWorker(outbox.NewPostgres(s.postgres.DB), s.producer,
		outbox.WithTopic(topic), outbox.WithPollInterval(50*time.Millisecond))
	w.Start()
	defer func() { s.NoError(w.Stop(context.Background())) }()

	client, err := s.kafka.NewConsumer("outbox-test", topic)
	s.Require().NoError(err)
	defer client.Close()

	rec := s.kafka.WaitForKey(ctx, client, e.Result.ID.String(), 30*time.Second)
	s.Require().NotNil(rec, "entry was not streamed")

	mirrored := audit.NewInMemoryStore()
	m := audit.NewMirror(mirrored, nil)
	s.Require().NoError(m.Handle(ctx, toConsumerMessage(rec)))

	got, err := mirrored.Get(ctx, e.Result.ID)
	s.Require().NoError(err)
	s.Equal(models.OutcomeVerified, got.Result.Outcome)

	s.Eventually(func() bool {
		n, _, err := outbox.NewPostgres(s.postgres.DB).Pending(ctx)
		return err == nil && n == 0
	}, 10*time.Second, 100*time.Millisecond)
}

func toConsumerMessage(r *kgo.Record) *consumer.Message {
	headers := make(map[string]string, len(r.Headers))
	for _, h := range r.Headers {
		headers[h.Key] = string(h.Value)
	}
	return &consumer.Message{
		Topic:     r.Topic,
		Partition: r.Partition,
		Offset:    r.Offset,
		Key:       r.Key,
		Value:     r.Value,
		Headers:   headers,
		Timestamp: r.Timestamp,
	}
}
