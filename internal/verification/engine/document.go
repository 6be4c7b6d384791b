package engine

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"degreeproof/internal/credential/canonical"
	"degreeproof/internal/credential/models"
	"degreeproof/internal/verification/extraction"
	vmodels "degreeproof/internal/verification/models"
	"degreeproof/pkg/domain"
	requesttime "degreeproof/pkg/platform/middleware/requesttime"
	"degreeproof/pkg/platform/tracer"
)

// maxDocumentConfidence keeps the document path below the proof path's certainty.
const maxDocumentConfidence = 99

var coreFields = map[string]bool{
	canonical.FieldStudentID:   true,
	canonical.FieldStudentName: true,
	canonical.FieldDegreeName:  true,
	canonical.FieldInstituteID: true,
	canonical.FieldIssuedAt:    true,
}

// VerifyByDocument extracts fields from raw, locates candidates by natural key
// and scores each against its stored record. The best candidate below the
// match threshold is TAMPERED; at or above it, revocation and expiry apply.
func (e *Engine) VerifyByDocument(ctx context.Context, raw []byte, x extraction.Extractor, actx vmodels.AuditContext) (vmodels.Result, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, tracer.SpanVerifyDocument, tracer.Int64("document.bytes", int64(len(raw))))
	actx = withInputDigest(actx, raw)

	v, err := e.classifyDocument(ctx, span, raw, x)
	if err != nil {
		span.End(err)
		return vmodels.Result{}, err
	}
	res := e.finish(ctx, span, vmodels.MethodDocumentExtraction, v, actx, start)
	span.End(nil)
	return res, nil
}

func (e *Engine) classifyDocument(ctx context.Context, span tracer.Span, raw []byte, x extraction.Extractor) (verdict, error) {
	malformed := func(reason string) verdict {
		return verdict{outcome: vmodels.OutcomeMalformedInput, reason: reason}
	}
	switch {
	case len(raw) == 0:
		return malformed(vmodels.ReasonEmptyDocument), nil
	case len(raw) > e.policy.MaxDocumentBytes:
		return malformed(vmodels.ReasonDocumentTooLarge), nil
	case x == nil:
		return malformed(vmodels.ReasonExtraction), nil
	}

	xctx, cancel := context.WithTimeout(ctx, e.policy.ExtractionTimeout)
	ext, err := x.Extract(xctx, raw)
	cancel()
	if err != nil {
		category := extraction.CategoryOf(err)
		if category == "" && errors.Is(err, context.DeadlineExceeded) {
			category = extraction.CategoryTimeout
		}
		e.metrics.IncExtractionFailure(string(category))
		e.logger.WarnContext(ctx, "document extraction failed", "category", category, "error", err)
		return malformed(vmodels.ReasonExtraction), nil
	}

	extracted := extractedEntries(ext.Fields)
	key := models.NaturalKey{
		StudentID:   domain.StudentID(extracted[canonical.FieldStudentID]),
		InstituteID: domain.InstituteID(extracted[canonical.FieldInstituteID]),
	}
	if key.StudentID == "" || key.InstituteID == "" {
		return malformed(vmodels.ReasonNoNaturalKey), nil
	}

	candidates, err := e.store.FindByNaturalKey(ctx, key)
	if err != nil {
		return verdict{}, e.unavailable(ctx, "find_by_natural_key", err)
	}
	span.SetAttributes(tracer.Int64(tracer.AttrCandidates, int64(len(candidates))))
	if len(candidates) == 0 {
		return verdict{outcome: vmodels.OutcomeNotFound, reason: vmodels.ReasonNoCandidate}, nil
	}

	best, sim, conf := e.bestCandidate(candidates, extracted, ext.Confidence)
	span.SetAttributes(tracer.Float64(tracer.AttrSimilarity, sim))

	found := func(o vmodels.Outcome, reason string) verdict {
		return verdict{
			outcome:    o,
			reason:     reason,
			credential: best.ID,
			confidence: documentConfidence(sim, conf),
			similarity: &sim,
		}
	}
	switch {
	case sim < e.policy.MatchThreshold:
		return found(vmodels.OutcomeTampered, vmodels.ReasonBelowThreshold), nil
	case best.IsRevoked():
		return found(vmodels.OutcomeRevoked, vmodels.ReasonRevoked), nil
	case best.IsExpiredAt(requesttime.Now(ctx)):
		return found(vmodels.OutcomeExpired, vmodels.ReasonExpired), nil
	}
	return found(vmodels.OutcomeVerified, vmodels.ReasonMatch), nil
}

// bestCandidate returns the highest scoring candidate, preferring active then
// newest on equal similarity, with its similarity and extractor confidence.
func (e *Engine) bestCandidate(candidates []models.Credential, extracted map[string]string, scores map[string]float64) (models.Credential, float64, float64) {
	var (
		best     models.Credential
		bestSim  = -1.0
		bestConf float64
	)
	for _, c := range candidates {
		sim, conf := e.score(c.Record, extracted, scores)
		if bestSim >= 0 && !better(c, sim, best, bestSim) {
			continue
		}
		best, bestSim, bestConf = c, sim, conf
	}
	return best, bestSim, bestConf
}

func better(c models.Credential, sim float64, cur models.Credential, curSim float64) bool {
	if sim != curSim {
		return sim > curSim
	}
	if c.IsActive() != cur.IsActive() {
		return c.IsActive()
	}
	return c.IssuedAt.After(cur.IssuedAt)
}

// score compares the stored record's canonical entries with the extraction.
// Similarity is matched/compared. Confidence is the mean extractor score over
// compared fields that were extracted; unscored fields count as certain.
func (e *Engine) score(stored models.DegreeRecord, extracted map[string]string, scores map[string]float64) (float64, float64) {
	var restrict map[string]bool
	if len(e.policy.CompareFields) > 0 {
		restrict = make(map[string]bool, len(e.policy.CompareFields))
		for _, f := range e.policy.CompareFields {
			restrict[f] = true
		}
	}

	var compared, matched, present int
	var confSum float64
	for _, entry := range canonical.Entries(stored) {
		if restrict != nil && !restrict[entry.Name] {
			continue
		}
		compared++
		got, ok := extracted[entry.Name]
		if !ok {
			continue
		}
		present++
		confSum += fieldConfidence(scores, entry.Name)
		if fieldMatches(entry.Name, entry.Value, got) {
			matched++
		}
	}
	if compared == 0 || present == 0 {
		return 0, 0
	}
	conf := confSum / float64(present)
	return float64(matched) / float64(compared), math.Max(0, math.Min(1, conf))
}

func fieldConfidence(scores map[string]float64, name string) float64 {
	if v, ok := scores[name]; ok {
		return v
	}
	if v, ok := scores[strings.TrimPrefix(name, canonical.ExtraPrefix)]; ok {
		return v
	}
	return 1
}

// documentConfidence is floor(similarity × confidence × 100), capped below certainty.
func documentConfidence(sim, conf float64) int {
	// The epsilon absorbs float error such as 0.29*100 = 28.999999999999996.
	score := int(math.Floor(sim*conf*100 + 1e-9))
	return max(0, min(score, maxDocumentConfidence))
}

// extractedEntries maps extractor field names onto canonical entry names:
// core fields keep their names and everything else becomes an extra.
func extractedEntries(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		name := strings.TrimSpace(k)
		value := strings.TrimSpace(v)
		if name == "" || value == "" {
			continue
		}
		if !coreFields[name] && !strings.HasPrefix(name, canonical.ExtraPrefix) {
			name = canonical.ExtraPrefix + name
		}
		out[name] = value
	}
	return out
}

// fieldMatches compares after case folding and whitespace collapsing. Dates
// compare as instants; a date-only extraction matches the stored calendar day.
func fieldMatches(name, stored, got string) bool {
	if name == canonical.FieldIssuedAt {
		if want, err := time.Parse(time.RFC3339Nano, stored); err == nil {
			if t, err := time.Parse(time.RFC3339Nano, got); err == nil {
				return t.Equal(want)
			}
			if d, err := time.Parse(time.DateOnly, got); err == nil {
				return d.Format(time.DateOnly) == want.UTC().Format(time.DateOnly)
			}
		}
	}
	return strings.EqualFold(collapse(stored), collapse(got))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
