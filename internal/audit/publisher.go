package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Publisher appends entries to the primary store and fans them out to
// secondary stream sinks (Kafka, NATS). Only the primary store's error is
// returned; stream failures are logged and counted.
type Publisher struct {
	store   Store
	streams []stream
	events  chan Entry
	wg      sync.WaitGroup
	logger  *slog.Logger
	metrics *Metrics
	timeout time.Duration
	async   bool
}

type stream struct {
	name string
	sink Sink
}

// PublisherOption configures the Publisher.
type PublisherOption func(*Publisher)

// WithStream adds a secondary sink.
func WithStream(name string, sink Sink) PublisherOption {
	return func(p *Publisher) {
		p.streams = append(p.streams, stream{name: name, sink: sink})
	}
}

// WithAsyncBuffer delivers stream sinks from a background goroutine with the
// given buffer. Entries are dropped when the buffer is full.
func WithAsyncBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		if size > 0 {
			p.events = make(chan Entry, size)
			p.async = true
		}
	}
}

// WithStreamTimeout bounds each async stream delivery.
func WithStreamTimeout(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.timeout = d
	}
}

func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithPublisherMetrics(m *Metrics) PublisherOption {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func NewPublisher(store Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		store:   store,
		logger:  slog.Default(),
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.async && len(p.streams) > 0 {
		p.wg.Add(1)
		go p.processEvents()
	}
	return p
}

// Store returns the primary store for queries.
func (p *Publisher) Store() Store {
	return p.store
}

// Append writes e to the primary store, then hands it to the streams.
func (p *Publisher) Append(ctx context.Context, e Entry) error {
	if err := p.store.Append(ctx, e); err != nil {
		return err
	}
	if len(p.streams) == 0 {
		return nil
	}
	if !p.async {
		p.deliver(ctx, e)
		return nil
	}
	select {
	case p.events <- e:
	default:
		for _, s := range p.streams {
			p.metrics.incDropped(s.name)
		}
		p.logger.WarnContext(ctx, "audit stream buffer full, entry dropped",
			"result_id", e.Result.ID,
			"outcome", e.Result.Outcome,
		)
	}
	return nil
}

func (p *Publisher) processEvents() {
	defer p.wg.Done()
	for e := range p.events {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		p.deliver(ctx, e)
		cancel()
	}
}

func (p *Publisher) deliver(ctx context.Context, e Entry) {
	for _, s := range p.streams {
		if err := s.sink.Append(ctx, e); err != nil {
			p.metrics.incFailure(s.name)
			p.logger.ErrorContext(ctx, "failed to stream audit entry",
				"sink", s.name,
				"result_id", e.Result.ID,
				"error", err,
			)
		}
	}
}

// Close stops the async worker after draining buffered entries.
func (p *Publisher) Close() {
	if p.async && p.events != nil && len(p.streams) > 0 {
		close(p.events)
		p.wg.Wait()
	}
}

var _ Sink = (*Publisher)(nil)
