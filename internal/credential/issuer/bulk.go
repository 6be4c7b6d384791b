package issuer

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"degreeproof/internal/credential/models"
	"degreeproof/pkg/domain"
	"degreeproof/pkg/platform/tracer"
)

// BulkRequest issues one credential per record.
type BulkRequest struct {
	Records []models.DegreeRecord
	TTL     time.Duration
	Actor   domain.Actor
}

// BulkRow is the outcome of one input record. Exactly one of Credential and Err is set.
type BulkRow struct {
	Index      int
	Credential *models.Credential
	Err        error
}

// BulkIssue issues every record concurrently, bounded by Config.BulkConcurrency.
// It never fails fast: each row carries its own result, in input order.
// The returned error is set only when the actor may not issue at all.
func (s *Service) BulkIssue(ctx context.Context, req BulkRequest) ([]BulkRow, error) {
	if err := req.Actor.Require(domain.CapIssue); err != nil {
		return nil, err
	}
	ctx, span := s.tracer.Start(ctx, tracer.SpanBulkIssue, tracer.Int64(tracer.AttrRows, int64(len(req.Records))))
	defer span.End(nil)

	rows := make([]BulkRow, len(req.Records))
	var g errgroup.Group
	g.SetLimit(s.cfg.BulkConcurrency)
	for i, record := range req.Records {
		g.Go(func() error {
			rows[i] = BulkRow{Index: i}
			if err := ctx.Err(); err != nil {
				rows[i].Err = err
				s.metrics.IncBulkRow("failed")
				return nil
			}
			c, err := s.issueWithRetry(ctx, IssueRequest{Record: record, TTL: req.TTL, Actor: req.Actor})
			if err != nil {
				rows[i].Err = err
				s.metrics.IncBulkRow("failed")
				return nil
			}
			rows[i].Credential = c
			s.metrics.IncIssued("bulk")
			s.metrics.IncBulkRow("issued")
			return nil
		})
	}
	_ = g.Wait()

	issued := 0
	for _, r := range rows {
		if r.Err == nil {
			issued++
		}
	}
	s.logger.InfoContext(ctx, "bulk issuance finished",
		"rows", len(rows),
		"issued", issued,
		"actor_id", req.Actor.ID,
	)
	return rows, nil
}
