package search

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/cascade"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/model"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/resilience"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/store/storetest"
	"github.com/Mikecranesync/Rivet-PRO-sub004/pkg/jina"
)

type fakeReader struct {
	err     error
	readErr error
	content string
	calls   []string
	reads   []string
}

func (f *fakeReader) Probe(_ context.Context, url string) error {
	f.calls = append(f.calls, url)
	return f.err
}

func (f *fakeReader) Read(_ context.Context, url string) (*jina.ReadResponse, error) {
	f.reads = append(f.reads, url)
	if f.readErr != nil {
		return nil, f.readErr
	}
	return &jina.ReadResponse{Data: jina.ReadData{Content: f.content}}, nil
}

func searchProvider(name string, cand model.SearchCandidate, err error) cascade.Func[Query, model.SearchCandidate] {
	return cascade.Func[Query, model.SearchCandidate]{
		ProviderName: name,
		Fn: func(ctx context.Context, q Query) (cascade.Result[model.SearchCandidate], error) {
			if err != nil {
				return cascade.Result[model.SearchCandidate]{}, err
			}
			return cascade.Result[model.SearchCandidate]{Output: cand, Confidence: cand.Confidence, CostUSD: 0.01}, nil
		},
	}
}

func newSearch(t *testing.T, probe Reader, st *storetest.Fake, providers ...cascade.Provider[Query, model.SearchCandidate]) *Cascade {
	t.Helper()
	exec := cascade.New("search", cascade.StageConfig{Threshold: 0.85, CallTimeout: time.Second},
		providers, resilience.CircuitBreakerConfig{})
	return NewCascade(exec, st, probe, 0.85, 0.50, 0.95)
}

func manualFor(conf float64) model.SearchCandidate {
	return model.SearchCandidate{
		URL:        "https://library.abb.com/acs355-manual.pdf",
		Title:      "ACS355 user's manual",
		Confidence: conf,
	}
}

func query() Query {
	return Query{Manufacturer: "abb", Model: "acs355", Question: "fault 2001"}
}

func TestQueryTextOmitsSerial(t *testing.T) {
	q := Query{Manufacturer: "abb", Model: "acs355", Serial: "sn-9"}
	assert.Equal(t, "abb acs355 manual", q.Text())

	q.Question = "fault 2001"
	assert.Equal(t, "abb acs355 fault 2001", q.Text())
}

func TestExecuteAcceptsConfidentCandidate(t *testing.T) {
	probe := &fakeReader{}
	c := newSearch(t, probe, storetest.New(), searchProvider("jina-search", manualFor(0.9), nil))

	res, err := c.Execute(context.Background(), query(), "sig")
	require.NoError(t, err)
	assert.Equal(t, VerdictAccepted, res.Verdict)
	require.NotNil(t, res.Candidate)
	assert.Equal(t, manualFor(0.9).URL, res.Candidate.URL)
	assert.Equal(t, []string{manualFor(0.9).URL}, probe.calls)
}

func TestExecuteBandCandidateIsAmbiguous(t *testing.T) {
	c := newSearch(t, &fakeReader{}, storetest.New(), searchProvider("jina-search", manualFor(0.65), nil))

	res, err := c.Execute(context.Background(), query(), "sig")
	require.NoError(t, err)
	assert.Equal(t, VerdictAmbiguous, res.Verdict)
	assert.NotNil(t, res.Candidate)
}

func TestExecuteLowConfidenceSkipsProbe(t *testing.T) {
	probe := &fakeReader{}
	c := newSearch(t, probe, storetest.New(), searchProvider("jina-search", manualFor(0.2), nil))

	res, err := c.Execute(context.Background(), query(), "sig")
	require.NoError(t, err)
	assert.Equal(t, VerdictNone, res.Verdict)
	assert.Empty(t, probe.calls, "candidates ruled out by confidence must not be fetched")
	require.Len(t, res.Report.Attempts, 1)
	assert.Equal(t, "below confidence bar", res.Report.Attempts[0].RejectionReason)
}

func TestExecuteUnreachableDocumentRejected(t *testing.T) {
	probe := &fakeReader{err: errors.New("404")}
	c := newSearch(t, probe, storetest.New(), searchProvider("jina-search", manualFor(0.9), nil))

	res, err := c.Execute(context.Background(), query(), "sig")
	require.NoError(t, err)
	assert.Equal(t, VerdictNone, res.Verdict)
	require.Len(t, res.Report.Attempts, 1)
	assert.Equal(t, "document not reachable", res.Report.Attempts[0].RejectionReason)
}

func TestExecuteProviderFailureRecordedInReport(t *testing.T) {
	c := newSearch(t, &fakeReader{}, storetest.New(),
		searchProvider("jina-search", model.SearchCandidate{}, errors.New("rate limited")),
		searchProvider("perplexity-search", manualFor(0.9), nil),
	)

	res, err := c.Execute(context.Background(), query(), "sig")
	require.NoError(t, err)
	assert.Equal(t, VerdictAccepted, res.Verdict)
	require.Len(t, res.Report.Attempts, 2)
	assert.Equal(t, "provider failed", res.Report.Attempts[0].RejectionReason)
	assert.Empty(t, res.Report.Attempts[1].RejectionReason)
}

func TestExecuteAllFailuresYieldNone(t *testing.T) {
	c := newSearch(t, &fakeReader{}, storetest.New(),
		searchProvider("jina-search", model.SearchCandidate{}, errors.New("down")),
		searchProvider("perplexity-search", model.SearchCandidate{}, errors.New("down too")),
	)

	res, err := c.Execute(context.Background(), query(), "sig")
	require.NoError(t, err)
	assert.Equal(t, VerdictNone, res.Verdict)
	assert.Nil(t, res.Candidate)
	assert.Len(t, res.Report.Attempts, 2)
}

func TestExecutePriorConfirmationShortCircuits(t *testing.T) {
	fake := storetest.New()
	require.NoError(t, fake.PutFeedback(context.Background(), &model.ValidationFeedback{
		QuerySignature: "sig",
		Candidate:      manualFor(0.65),
		Outcome:        true,
	}))

	ran := false
	c := newSearch(t, &fakeReader{}, fake, cascade.Func[Query, model.SearchCandidate]{
		ProviderName: "jina-search",
		Fn: func(ctx context.Context, q Query) (cascade.Result[model.SearchCandidate], error) {
			ran = true
			return cascade.Result[model.SearchCandidate]{}, nil
		},
	})

	res, err := c.Execute(context.Background(), query(), "sig")
	require.NoError(t, err)
	assert.False(t, ran, "a confirmed document makes the search free")
	assert.Equal(t, VerdictAccepted, res.Verdict)
	require.NotNil(t, res.Candidate)
	assert.InDelta(t, 0.95, res.Candidate.Confidence, 1e-9)
	require.Len(t, res.Report.Attempts, 1)
	assert.Equal(t, "prior-confirmation", res.Report.Attempts[0].Provider)
}

func TestExecuteRejectionSuppressesCandidate(t *testing.T) {
	fake := storetest.New()
	require.NoError(t, fake.PutFeedback(context.Background(), &model.ValidationFeedback{
		QuerySignature: "sig",
		Candidate:      manualFor(0.65),
		Outcome:        false,
	}))

	c := newSearch(t, &fakeReader{}, fake, searchProvider("jina-search", manualFor(0.9), nil))

	res, err := c.Execute(context.Background(), query(), "sig")
	require.NoError(t, err)
	assert.Equal(t, VerdictNone, res.Verdict)
	require.Len(t, res.Report.Attempts, 1)
	assert.Equal(t, "previously rejected by operator", res.Report.Attempts[0].RejectionReason)
}

func TestExecuteLaterRejectionOverridesConfirmation(t *testing.T) {
	fake := storetest.New()
	base := time.Now().UTC()
	require.NoError(t, fake.PutFeedback(context.Background(), &model.ValidationFeedback{
		QuerySignature: "sig", Candidate: manualFor(0.65), Outcome: true, CreatedAt: base,
	}))
	require.NoError(t, fake.PutFeedback(context.Background(), &model.ValidationFeedback{
		QuerySignature: "sig", Candidate: manualFor(0.65), Outcome: false, CreatedAt: base.Add(time.Minute),
	}))

	c := newSearch(t, &fakeReader{}, fake, searchProvider("jina-search", manualFor(0.9), nil))

	res, err := c.Execute(context.Background(), query(), "sig")
	require.NoError(t, err)
	assert.Equal(t, VerdictNone, res.Verdict, "operator retraction must suppress, not promote")
}

func TestExecuteAcceptedCandidateCarriesDocumentText(t *testing.T) {
	reader := &fakeReader{content: "Fault 2001: overcurrent. Check motor cables."}
	c := newSearch(t, reader, storetest.New(), searchProvider("jina-search", manualFor(0.9), nil))

	res, err := c.Execute(context.Background(), query(), "sig")
	require.NoError(t, err)
	assert.Equal(t, VerdictAccepted, res.Verdict)
	require.NotNil(t, res.Candidate)
	assert.Equal(t, reader.content, res.Candidate.Answer)
	assert.Equal(t, []string{manualFor(0.9).URL}, reader.reads)
}

func TestExecuteDocumentFetchFailureKeepsCandidate(t *testing.T) {
	reader := &fakeReader{readErr: errors.New("timeout")}
	c := newSearch(t, reader, storetest.New(), searchProvider("jina-search", manualFor(0.9), nil))

	res, err := c.Execute(context.Background(), query(), "sig")
	require.NoError(t, err)
	assert.Equal(t, VerdictAccepted, res.Verdict, "a fetch failure must not demote a reachable document")
	require.NotNil(t, res.Candidate)
	assert.Empty(t, res.Candidate.Answer)
}

func TestExecuteDocumentTextIsCapped(t *testing.T) {
	long := strings.Repeat("x", maxDocumentChars+500)
	reader := &fakeReader{content: long}
	c := newSearch(t, reader, storetest.New(), searchProvider("jina-search", manualFor(0.9), nil))

	res, err := c.Execute(context.Background(), query(), "sig")
	require.NoError(t, err)
	require.NotNil(t, res.Candidate)
	assert.Len(t, res.Candidate.Answer, maxDocumentChars)
}

func TestExecuteSynthesizedAnswerNotOverwritten(t *testing.T) {
	cand := manualFor(0.9)
	cand.Answer = "Fault 2001 means overcurrent."
	reader := &fakeReader{content: "full manual text"}
	c := newSearch(t, reader, storetest.New(), searchProvider("perplexity-search", cand, nil))

	res, err := c.Execute(context.Background(), query(), "sig")
	require.NoError(t, err)
	require.NotNil(t, res.Candidate)
	assert.Equal(t, cand.Answer, res.Candidate.Answer)
	assert.Empty(t, reader.reads)
}

func TestExecutePriorConfirmationFetchesDocument(t *testing.T) {
	fake := storetest.New()
	require.NoError(t, fake.PutFeedback(context.Background(), &model.ValidationFeedback{
		QuerySignature: "sig",
		Candidate:      manualFor(0.65),
		Outcome:        true,
	}))

	reader := &fakeReader{content: "manual text"}
	c := newSearch(t, reader, fake, searchProvider("jina-search", model.SearchCandidate{}, errors.New("unused")))

	res, err := c.Execute(context.Background(), query(), "sig")
	require.NoError(t, err)
	assert.Equal(t, VerdictAccepted, res.Verdict)
	require.NotNil(t, res.Candidate)
	assert.Equal(t, "manual text", res.Candidate.Answer)
}

func TestExecuteFeedbackLookupFailureDegradesToPlainSearch(t *testing.T) {
	fake := storetest.New()
	fake.FailWith("ListFeedback", errors.New("db down"))

	c := newSearch(t, &fakeReader{}, fake, searchProvider("jina-search", manualFor(0.9), nil))

	res, err := c.Execute(context.Background(), query(), "sig")
	require.NoError(t, err)
	assert.Equal(t, VerdictAccepted, res.Verdict)
}
