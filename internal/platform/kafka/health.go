package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Admin checks broker connectivity and provisions topics.
type Admin struct {
	client  *kgo.Client
	admin   *kadm.Client
	timeout time.Duration
}

// NewAdmin creates an admin client for the given broker list.
func NewAdmin(brokers string) (*Admin, error) {
	seeds := SplitBrokers(brokers)
	if len(seeds) == 0 {
		return nil, errors.New("kafka brokers not configured")
	}
	client, err := kgo.NewClient(kgo.SeedBrokers(seeds...))
	if err != nil {
		return nil, fmt.Errorf("create kafka admin client: %w", err)
	}
	return &Admin{
		client:  client,
		admin:   kadm.NewClient(client),
		timeout: 5 * time.Second,
	}, nil
}

// Check verifies that at least one broker answers a metadata request.
func (a *Admin) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	brokers, err := a.admin.ListBrokers(ctx)
	if err != nil {
		return fmt.Errorf("no kafka brokers reachable: %w", err)
	}
	if len(brokers) == 0 {
		return errors.New("no kafka brokers in cluster metadata")
	}
	return nil
}

// Name returns the check name for health reporting.
func (a *Admin) Name() string {
	return "kafka"
}

// EnsureTopic creates topic if it does not exist. An existing topic is not an error.
func (a *Admin) EnsureTopic(ctx context.Context, topic string, partitions int32, replication int16) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.admin.CreateTopic(ctx, partitions, replication, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", topic, resp.Err)
	}
	return nil
}

// Close releases the admin client.
func (a *Admin) Close() {
	a.client.Close()
}
