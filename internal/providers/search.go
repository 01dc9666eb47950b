package providers

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/cascade"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/cost"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/model"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/search"
	"github.com/Mikecranesync/Rivet-PRO-sub004/pkg/anthropic"
	"github.com/Mikecranesync/Rivet-PRO-sub004/pkg/jina"
	"github.com/Mikecranesync/Rivet-PRO-sub004/pkg/perplexity"
)

// JinaSearch is the cheapest documentation lookup: a plain web search
// scored with domain heuristics rather than a model judgment.
type JinaSearch struct {
	client jina.Client
	calc   *cost.Calculator
}

func NewJinaSearch(client jina.Client, calc *cost.Calculator) *JinaSearch {
	return &JinaSearch{client: client, calc: calc}
}

func (p *JinaSearch) Name() string { return "jina-search" }

func (p *JinaSearch) Invoke(ctx context.Context, q search.Query) (cascade.Result[model.SearchCandidate], error) {
	var zero cascade.Result[model.SearchCandidate]

	resp, err := p.client.Search(ctx, q.Text())
	if err != nil {
		return zero, eris.Wrap(err, "jina search")
	}
	// Rough token accounting: the search API does not report usage.
	tokens := 0
	for _, r := range resp.Data {
		tokens += (len(r.Title) + len(r.Description)) / 4
	}
	spent := p.calc.Jina(tokens)

	if len(resp.Data) == 0 {
		zero.CostUSD = spent
		return zero, nil
	}

	best := resp.Data[0]
	bestScore := scoreResult(q, best)
	for _, r := range resp.Data[1:] {
		if s := scoreResult(q, r); s > bestScore {
			best, bestScore = r, s
		}
	}

	return cascade.Result[model.SearchCandidate]{
		Output: model.SearchCandidate{
			URL:    best.URL,
			Title:  best.Title,
			Answer: best.Description,
		},
		Confidence: bestScore,
		CostUSD:    spent,
	}, nil
}

// scoreResult estimates how likely a search result is the right document:
// exact model number matches and manufacturer-owned domains dominate.
func scoreResult(q search.Query, r jina.SearchResult) float64 {
	haystack := strings.ToLower(r.Title + " " + r.URL + " " + r.Description)
	score := 0.35
	if q.Model != "" && strings.Contains(haystack, strings.ToLower(q.Model)) {
		score += 0.30
	}
	if q.Manufacturer != "" {
		mfg := strings.ToLower(strings.ReplaceAll(q.Manufacturer, " ", ""))
		host := strings.ToLower(r.URL)
		if strings.Contains(host, mfg) {
			score += 0.20
		}
	}
	if strings.Contains(strings.ToLower(r.URL), ".pdf") ||
		strings.Contains(haystack, "manual") || strings.Contains(haystack, "datasheet") {
		score += 0.10
	}
	if score > 0.95 {
		score = 0.95
	}
	return score
}

// PerplexitySearch asks a grounded sonar model for the document, which
// handles obscure equipment better than raw web search.
type PerplexitySearch struct {
	client perplexity.Client
	model  string
	calc   *cost.Calculator
}

func NewPerplexitySearch(client perplexity.Client, modelName string, calc *cost.Calculator) *PerplexitySearch {
	return &PerplexitySearch{client: client, model: modelName, calc: calc}
}

func (p *PerplexitySearch) Name() string { return "perplexity-search" }

func (p *PerplexitySearch) Invoke(ctx context.Context, q search.Query) (cascade.Result[model.SearchCandidate], error) {
	var zero cascade.Result[model.SearchCandidate]

	resp, err := p.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Model: p.model,
		Messages: []perplexity.Message{
			{Role: "system", Content: searchSystemPrompt},
			{Role: "user", Content: "Find documentation for: " + q.Text()},
		},
	})
	if err != nil {
		return zero, eris.Wrap(err, "perplexity search")
	}
	spent := p.calc.PerplexityQuery()

	if len(resp.Choices) == 0 {
		zero.CostUSD = spent
		return zero, eris.New("perplexity search: no choices")
	}

	var payload model.SearchCandidate
	conf, err := decodeEnvelope(resp.Choices[0].Message.Content, &payload)
	if err != nil {
		zero.CostUSD = spent
		return zero, eris.Wrap(err, "perplexity search")
	}
	if payload.URL == "" && len(resp.Citations) > 0 {
		payload.URL = resp.Citations[0]
	}
	return cascade.Result[model.SearchCandidate]{
		Output:     payload,
		Confidence: conf,
		CostUSD:    spent,
	}, nil
}

// ClaudeSearch is the last-resort lookup: it answers from model knowledge
// and usually produces an answer without a document URL.
type ClaudeSearch struct {
	client anthropic.Client
	model  string
	calc   *cost.Calculator
}

func NewClaudeSearch(client anthropic.Client, modelName string, calc *cost.Calculator) *ClaudeSearch {
	return &ClaudeSearch{client: client, model: modelName, calc: calc}
}

func (p *ClaudeSearch) Name() string { return "claude-search" }

func (p *ClaudeSearch) Invoke(ctx context.Context, q search.Query) (cascade.Result[model.SearchCandidate], error) {
	var zero cascade.Result[model.SearchCandidate]

	resp, err := p.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     p.model,
		MaxTokens: claudeMaxTokens,
		System:    searchSystemPrompt,
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: "Find documentation for: " + q.Text(),
		}},
	})
	if err != nil {
		return zero, eris.Wrap(err, "claude search")
	}
	resp.Usage.LogUsage(p.model, string(model.StageSearch))
	spent := p.calc.Claude(p.model, int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens))

	var payload model.SearchCandidate
	conf, err := decodeEnvelope(resp.Text(), &payload)
	if err != nil {
		zero.CostUSD = spent
		return zero, eris.Wrap(err, "claude search")
	}
	return cascade.Result[model.SearchCandidate]{
		Output:     payload,
		Confidence: conf,
		CostUSD:    spent,
	}, nil
}
