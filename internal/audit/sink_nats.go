package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

// natsPublisher is the subset of *nats.Conn the sink uses.
type natsPublisher interface {
	Publish(subj string, data []byte) error
}

// NATSSink publishes entries on "<subject>.<outcome>", e.g.
// degreeproof.verifications.tampered, so consumers can subscribe per outcome.
type NATSSink struct {
	conn    natsPublisher
	subject string
}

func NewNATSSink(conn natsPublisher, subject string) *NATSSink {
	return &NATSSink{conn: conn, subject: subject}
}

// ConnectNATS dials url with a client name for server-side diagnostics.
func ConnectNATS(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url, nats.Name("degreeproof-audit"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

// Subject returns the subject an entry with outcome o is published on.
func (s *NATSSink) Subject(o string) string {
	return s.subject + "." + strings.ToLower(o)
}

func (s *NATSSink) Append(_ context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	if err := s.conn.Publish(s.Subject(string(e.Result.Outcome)), data); err != nil {
		return fmt.Errorf("publish audit entry: %w", err)
	}
	return nil
}
