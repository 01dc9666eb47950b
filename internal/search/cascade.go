// Package search runs the documentation lookup cascade and turns its raw
// attempts into a transparency report with a per-query verdict.
package search

import (
	"context"

	"go.uber.org/zap"

	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/cascade"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/model"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/store"
	"github.com/Mikecranesync/Rivet-PRO-sub004/pkg/jina"
)

// Verdict classifies the best candidate of a search into the action the
// pipeline should take.
type Verdict string

const (
	// VerdictAccepted means the candidate cleared the accept threshold and
	// can be served directly.
	VerdictAccepted Verdict = "accepted"

	// VerdictAmbiguous means the candidate landed in the validation band
	// and should be presented to the operator for confirmation.
	VerdictAmbiguous Verdict = "ambiguous"

	// VerdictNone means no servable candidate was found.
	VerdictNone Verdict = "none"
)

// Rejection reasons recorded in search reports.
const (
	reasonProviderFailed = "provider failed"
	reasonBelowBar       = "below confidence bar"
	reasonUnreachable    = "document not reachable"
	reasonSuppressed     = "previously rejected by operator"
)

// Reader checks candidate URLs and fetches their content. Jina Reader in
// production. A nil Reader skips reachability checks and leaves accepted
// candidates carrying only their search snippet.
type Reader interface {
	Probe(ctx context.Context, url string) error
	Read(ctx context.Context, url string) (*jina.ReadResponse, error)
}

// maxDocumentChars caps fetched document text so a long manual does not
// blow out the analysis prompt.
const maxDocumentChars = 24000

// Result is the full outcome of one search: the attempt-by-attempt report,
// the verdict, and (for accepted or ambiguous verdicts) the candidate the
// verdict refers to.
type Result struct {
	Report    *model.SearchReport
	Verdict   Verdict
	Candidate *model.SearchCandidate
}

// Cascade runs search providers in cost order and applies confidence bands
// plus operator feedback to the outcome.
type Cascade struct {
	exec         *cascade.Executor[Query, model.SearchCandidate]
	store        store.Store
	reader       Reader
	acceptBar    float64
	bandLower    float64
	promotedConf float64
}

// NewCascade wires the search cascade.
func NewCascade(exec *cascade.Executor[Query, model.SearchCandidate], st store.Store, reader Reader, acceptBar, bandLower, promotedConf float64) *Cascade {
	return &Cascade{
		exec:         exec,
		store:        st,
		reader:       reader,
		acceptBar:    acceptBar,
		bandLower:    bandLower,
		promotedConf: promotedConf,
	}
}

// Execute runs the cascade for q. signature identifies the query for
// feedback lookup; prior operator confirmations short-circuit the cascade
// entirely, and prior rejections suppress matching candidates.
func (c *Cascade) Execute(ctx context.Context, q Query, signature string) (*Result, error) {
	confirmed, rejected := c.loadFeedback(ctx, signature)

	if confirmed != nil {
		promoted := *confirmed
		promoted.Confidence = c.promotedConf
		zap.L().Info("search served from prior confirmation",
			zap.String("signature", signature),
			zap.String("url", promoted.URL))
		c.fetchDocument(ctx, &promoted)
		return &Result{
			Report: &model.SearchReport{
				Query: q.Text(),
				Attempts: []model.SearchAttempt{{
					Provider:  "prior-confirmation",
					Candidate: &promoted,
				}},
			},
			Verdict:   VerdictAccepted,
			Candidate: &promoted,
		}, nil
	}

	outcome := c.exec.Run(ctx, q)
	report := c.buildReport(ctx, q, outcome, rejected)

	verdict, candidate := c.evaluate(report)
	if verdict == VerdictAccepted {
		c.fetchDocument(ctx, candidate)
	}
	zap.L().Info("search cascade finished",
		zap.String("query", report.Query),
		zap.Int("attempts", len(report.Attempts)),
		zap.String("verdict", string(verdict)),
		zap.Float64("total_cost_usd", report.TotalCostUSD))

	return &Result{Report: report, Verdict: verdict, Candidate: candidate}, nil
}

// loadFeedback splits prior feedback for signature into the most recent
// confirmed candidate (if any) and the set of rejected candidates. Feedback
// lookup failures degrade to an ordinary search rather than failing the run.
func (c *Cascade) loadFeedback(ctx context.Context, signature string) (*model.SearchCandidate, []model.SearchCandidate) {
	if signature == "" {
		return nil, nil
	}
	entries, err := c.store.ListFeedback(ctx, signature)
	if err != nil {
		zap.L().Warn("feedback lookup failed", zap.String("signature", signature), zap.Error(err))
		return nil, nil
	}

	var confirmed *model.SearchCandidate
	var rejectedList []model.SearchCandidate
	for i := range entries {
		fb := entries[i]
		if fb.Outcome {
			confirmed = &fb.Candidate
			continue
		}
		rejectedList = append(rejectedList, fb.Candidate)
		// A later rejection of the same candidate overrides the confirmation.
		if confirmed != nil && sameCandidate(*confirmed, fb.Candidate) {
			confirmed = nil
		}
	}
	return confirmed, rejectedList
}

func (c *Cascade) buildReport(ctx context.Context, q Query, outcome cascade.Outcome[model.SearchCandidate], rejected []model.SearchCandidate) *model.SearchReport {
	report := &model.SearchReport{
		Query:        q.Text(),
		TotalCostUSD: outcome.TotalCostUSD,
	}

	for i := range outcome.Attempts {
		at := outcome.Attempts[i]
		entry := model.SearchAttempt{
			Provider:  at.Provider,
			CostUSD:   at.CostUSD,
			LatencyMS: at.LatencyMS,
		}
		switch {
		case at.Err != "":
			entry.RejectionReason = reasonProviderFailed
		case at.Output.Empty():
			entry.RejectionReason = reasonProviderFailed
		default:
			cand := at.Output
			cand.Confidence = at.Confidence
			entry.Candidate = &cand
			entry.RejectionReason = c.classify(ctx, &cand, rejected)
		}
		report.Attempts = append(report.Attempts, entry)
	}
	return report
}

// classify returns the rejection reason for a candidate, or "" if it is
// acceptable as-is. The reachability probe only runs on candidates that
// would otherwise be servable, to avoid paying for fetches of documents the
// confidence bands already ruled out.
func (c *Cascade) classify(ctx context.Context, cand *model.SearchCandidate, rejected []model.SearchCandidate) string {
	for i := range rejected {
		if sameCandidate(*cand, rejected[i]) {
			return reasonSuppressed
		}
	}
	if cand.Confidence < c.bandLower {
		return reasonBelowBar
	}
	if c.reader != nil && cand.URL != "" {
		if err := c.reader.Probe(ctx, cand.URL); err != nil {
			zap.L().Warn("candidate document unreachable",
				zap.String("url", cand.URL),
				zap.Error(err))
			return reasonUnreachable
		}
	}
	return ""
}

// evaluate picks the best servable candidate and maps its confidence onto
// the verdict bands.
func (c *Cascade) evaluate(report *model.SearchReport) (Verdict, *model.SearchCandidate) {
	var best *model.SearchCandidate
	for i := range report.Attempts {
		at := report.Attempts[i]
		if at.Candidate == nil || at.RejectionReason != "" {
			continue
		}
		if best == nil || at.Candidate.Confidence > best.Confidence {
			best = at.Candidate
		}
	}
	if best == nil {
		return VerdictNone, nil
	}
	if best.Confidence >= c.acceptBar {
		return VerdictAccepted, best
	}
	return VerdictAmbiguous, best
}

func sameCandidate(a, b model.SearchCandidate) bool {
	if a.URL != "" || b.URL != "" {
		return a.URL == b.URL
	}
	return a.Answer == b.Answer
}

// fetchDocument pulls the accepted document's text so analysis can work from
// the manual itself rather than a search snippet. A candidate that already
// carries a synthesized answer keeps it; fetch failures keep the candidate
// too, since the document already passed the reachability check.
func (c *Cascade) fetchDocument(ctx context.Context, cand *model.SearchCandidate) {
	if c.reader == nil || cand == nil || cand.URL == "" || cand.Answer != "" {
		return
	}
	doc, err := c.reader.Read(ctx, cand.URL)
	if err != nil {
		zap.L().Warn("document fetch failed", zap.String("url", cand.URL), zap.Error(err))
		return
	}
	text := doc.Data.Content
	if len(text) > maxDocumentChars {
		text = text[:maxDocumentChars]
	}
	cand.Answer = text
}
