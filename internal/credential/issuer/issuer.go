// Package issuer creates, revokes and re-issues signed degree credentials.
package issuer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"degreeproof/internal/credential/canonical"
	"degreeproof/internal/credential/keys"
	"degreeproof/internal/credential/metrics"
	"degreeproof/internal/credential/models"
	"degreeproof/internal/credential/store"
	"degreeproof/pkg/domain"
	dErrors "degreeproof/pkg/domain-errors"
	requesttime "degreeproof/pkg/platform/middleware/requesttime"
	"degreeproof/pkg/platform/tracer"
)

// KeyProvider resolves the signing key of an institute.
type KeyProvider interface {
	SigningKey(ctx context.Context, institute domain.InstituteID) (*keys.SigningKey, error)
}

// Config holds issuance policy.
type Config struct {
	// DefaultTTL applies when a request carries no TTL. Zero means credentials never expire.
	DefaultTTL time.Duration
	// MaxRetries bounds IssueWithRetry attempts after the first.
	MaxRetries uint64
	// RetryInterval is the initial backoff between conflict retries.
	RetryInterval time.Duration
	// BulkConcurrency bounds concurrent rows in BulkIssue.
	BulkConcurrency int
}

// DefaultConfig returns the policy used when none is configured.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		RetryInterval:   10 * time.Millisecond,
		BulkConcurrency: 8,
	}
}

// Service issues and manages credentials. It holds no credential state of its own.
type Service struct {
	store   store.Store
	keys    KeyProvider
	cfg     Config
	random  io.Reader
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  tracer.Tracer
}

// Option configures the Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// WithRandom replaces the credential id source. Tests use it to force collisions.
func WithRandom(r io.Reader) Option {
	return func(s *Service) {
		s.random = r
	}
}

func WithConfig(cfg Config) Option {
	return func(s *Service) {
		s.cfg = cfg
	}
}

func New(st store.Store, kp KeyProvider, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, errors.New("credential store is required")
	}
	if kp == nil {
		return nil, errors.New("key provider is required")
	}
	s := &Service{
		store:  st,
		keys:   kp,
		cfg:    DefaultConfig(),
		logger: slog.Default(),
		tracer: tracer.NewNoop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.BulkConcurrency <= 0 {
		s.cfg.BulkConcurrency = 1
	}
	return s, nil
}

// IssueRequest asks for one credential. Key is optional; when nil the key is
// resolved from the KeyProvider by the record's institute. A zero TTL falls
// back to Config.DefaultTTL.
type IssueRequest struct {
	Record models.DegreeRecord
	Key    *keys.SigningKey
	TTL    time.Duration
	Actor  domain.Actor
}

// Issue signs and persists a credential for req.Record. A duplicate id surfaces
// as ErrStoreConflict; IssueWithRetry handles that case.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*models.Credential, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, tracer.SpanIssue,
		tracer.String(tracer.AttrInstituteID, req.Record.NaturalKey().InstituteID.String()),
		tracer.String(tracer.AttrStudentHash, tracer.HashStudentID(req.Record.StudentID)),
	)
	c, err := s.issue(ctx, req)
	span.End(err)
	if err == nil {
		s.metrics.ObserveIssueDuration(time.Since(start).Seconds())
	}
	return c, err
}

func (s *Service) issue(ctx context.Context, req IssueRequest) (*models.Credential, error) {
	if err := s.authorizeIssue(req.Actor, req.Record); err != nil {
		return nil, err
	}

	record := req.Record.Clone()
	form, err := canonical.Canonicalize(record)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, err.Error())
	}
	hash, err := canonical.Digest(form)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to digest record")
	}

	key, err := s.signingKey(ctx, req.Key, record.NaturalKey().InstituteID)
	if err != nil {
		return nil, err
	}

	id, err := domain.NewCredentialID(s.random)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate credential id")
	}

	issuedAt := requesttime.Now(ctx).UTC().Truncate(time.Second)
	institute := key.InstituteID()
	c := models.Credential{
		ID:          id,
		RecordHash:  hash,
		Signature:   key.Sign(keys.SigningMessage(hash, id, issuedAt, institute)),
		IssuedAt:    issuedAt,
		Status:      models.StatusActive,
		InstituteID: institute,
		StudentID:   record.NaturalKey().StudentID,
		IssuedBy:    req.Actor.ID,
		Record:      record,
	}
	if ttl := s.ttl(req.TTL); ttl > 0 {
		exp := issuedAt.Add(ttl)
		c.ExpiresAt = &exp
	}

	if err := s.store.Put(ctx, c); err != nil {
		if errors.Is(err, store.ErrConflict) {
			s.metrics.IncConflict()
		} else {
			s.observeStoreError(ctx, "put", err)
		}
		return nil, translateStoreError(err, "store credential")
	}

	s.logger.InfoContext(ctx, "credential issued",
		"credential_id", c.ID,
		"institute_id", c.InstituteID,
		"issued_by", c.IssuedBy,
	)
	return &c, nil
}

// IssueWithRetry retries Issue on ErrStoreConflict only, drawing a fresh id
// each attempt with exponential backoff.
func (s *Service) IssueWithRetry(ctx context.Context, req IssueRequest) (*models.Credential, error) {
	c, err := s.issueWithRetry(ctx, req)
	if err == nil {
		s.metrics.IncIssued("single")
	}
	return c, err
}

func (s *Service) issueWithRetry(ctx context.Context, req IssueRequest) (*models.Credential, error) {
	var issued *models.Credential
	attempt := 0
	op := func() error {
		attempt++
		c, err := s.Issue(ctx, req)
		if err == nil {
			issued = c
			return nil
		}
		if errors.Is(err, ErrStoreConflict) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		s.logger.WarnContext(ctx, "credential id conflict, retrying",
			"attempt", attempt,
			"wait", wait,
		)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, s.cfg.MaxRetries), ctx)

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return issued, nil
}

func (s *Service) authorizeIssue(actor domain.Actor, record models.DegreeRecord) error {
	if err := actor.Require(domain.CapIssue); err != nil {
		return err
	}
	inst := record.NaturalKey().InstituteID
	if inst != "" && !actor.ActsFor(inst) {
		return dErrors.New(dErrors.CodeForbidden, "actor may not issue for this institute")
	}
	return nil
}

func (s *Service) signingKey(ctx context.Context, key *keys.SigningKey, institute domain.InstituteID) (*keys.SigningKey, error) {
	if key == nil {
		resolved, err := s.keys.SigningKey(ctx, institute)
		if err != nil {
			return nil, translateKeyError(err)
		}
		key = resolved
	}
	if key.InstituteID() != institute {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "signing key does not belong to the record's institute")
	}
	return key, nil
}

func (s *Service) ttl(requested time.Duration) time.Duration {
	if requested > 0 {
		return requested
	}
	return s.cfg.DefaultTTL
}

func (s *Service) observeStoreError(ctx context.Context, op string, err error) {
	if !dErrors.IsRetryable(translateStoreError(err, op)) {
		return
	}
	s.metrics.IncStoreUnavailable(op)
	s.logger.ErrorContext(ctx, "credential store unavailable",
		"op", op,
		"error", err,
	)
}
