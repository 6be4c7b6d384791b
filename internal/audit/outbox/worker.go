package outbox

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"degreeproof/internal/platform/kafka/producer"
)

const (
	DefaultTopic        = "degreeproof.verifications"
	DefaultBatchSize    = 100
	DefaultPollInterval = 250 * time.Millisecond
	drainTimeout        = 10 * time.Second
	pendingEvery        = 5 * time.Second
)

// Producer is the subset of the Kafka producer the worker needs.
type Producer interface {
	Produce(ctx context.Context, msg *producer.Message) error
}

// Worker polls the outbox and publishes pending entries. Entries are keyed
// by result id so consumers can drop redeliveries.
type Worker struct {
	store        Store
	producer     Producer
	topic        string
	batchSize    int
	pollInterval time.Duration
	retention    time.Duration
	metrics      *Metrics
	logger       *slog.Logger
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Worker)

func WithTopic(topic string) Option {
	return func(w *Worker) {
		if topic != "" {
			w.topic = topic
		}
	}
}

func WithBatchSize(size int) Option {
	return func(w *Worker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

// WithRetention prunes published entries older than d. Zero keeps them.
func WithRetention(d time.Duration) Option {
	return func(w *Worker) {
		w.retention = d
	}
}

func WithMetrics(m *Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		w.now = now
	}
}

func NewWorker(store Store, prod Producer, opts ...Option) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		store:        store,
		producer:     prod,
		topic:        DefaultTopic,
		batchSize:    DefaultBatchSize,
		pollInterval: DefaultPollInterval,
		logger:       slog.New(slog.DiscardHandler),
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins the polling loop in a background goroutine.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.run()
}

func (w *Worker) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	housekeeping := time.NewTicker(pendingEvery)
	defer housekeeping.Stop()

	for {
		select {
		case <-w.ctx.Done():
			w.drain()
			return
		case <-ticker.C:
			w.poll(w.ctx)
		case <-housekeeping.C:
			w.housekeep(w.ctx)
		}
	}
}

// poll publishes one batch and reports how many entries were published.
func (w *Worker) poll(ctx context.Context) int {
	entries, err := w.store.FetchUnprocessed(ctx, w.batchSize)
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to fetch outbox entries", "error", err)
		w.metrics.incFailures()
		return 0
	}
	if len(entries) == 0 {
		return 0
	}
	w.metrics.observeBatch(len(entries))

	published := 0
	for _, e := range entries {
		if err := w.publish(ctx, e); err != nil {
			w.logger.ErrorContext(ctx, "failed to publish outbox entry",
				"id", e.ID, "result_id", e.ResultID, "error", err)
			w.metrics.incFailures()
			continue
		}
		// A failed mark republishes the entry later; the mirror drops duplicates.
		if err := w.store.MarkProcessed(ctx, e.ID, w.now()); err != nil {
			w.logger.ErrorContext(ctx, "failed to mark outbox entry processed", "id", e.ID, "error", err)
			continue
		}
		w.metrics.incPublished()
		published++
	}
	return published
}

func (w *Worker) publish(ctx context.Context, e *Entry) error {
	start := time.Now()
	err := w.producer.Produce(ctx, &producer.Message{
		Topic: w.topic,
		Key:   []byte(e.ResultID.String()),
		Value: e.Payload,
		Headers: map[string]string{
			"outcome": e.Outcome,
			"method":  e.Method,
		},
	})
	if err != nil {
		return err
	}
	w.metrics.observePublish(time.Since(start).Seconds())
	return nil
}

func (w *Worker) housekeep(ctx context.Context) {
	count, oldest, err := w.store.Pending(ctx)
	if err != nil {
		w.logger.WarnContext(ctx, "failed to count pending outbox entries", "error", err)
	} else {
		age := 0.0
		if count > 0 && !oldest.IsZero() {
			age = w.now().Sub(oldest).Seconds()
		}
		w.metrics.setPending(count, age)
	}

	if w.retention <= 0 {
		return
	}
	n, err := w.store.DeleteProcessedBefore(ctx, w.now().Add(-w.retention))
	if err != nil {
		w.logger.WarnContext(ctx, "failed to prune outbox", "error", err)
		return
	}
	if n > 0 {
		w.logger.DebugContext(ctx, "pruned outbox", "deleted", n)
	}
}

// drain publishes what remains on shutdown. It stops early when a round
// makes no progress so a broker outage cannot hold shutdown open.
func (w *Worker) drain() {
	w.logger.Info("draining outbox worker")
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for ctx.Err() == nil {
		if w.poll(ctx) == 0 {
			return
		}
	}
}

// Stop cancels polling and waits for the drain to finish or ctx to expire.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
