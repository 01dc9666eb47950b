package providers

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/cascade"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/cost"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/model"
	"github.com/Mikecranesync/Rivet-PRO-sub004/pkg/anthropic"
)

const claudeMaxTokens = 2048

// ClaudeScreen is the screen-stage fallback: slower and costlier than the
// flash model, better on degraded photos.
type ClaudeScreen struct {
	client anthropic.Client
	model  string
	calc   *cost.Calculator
}

func NewClaudeScreen(client anthropic.Client, modelName string, calc *cost.Calculator) *ClaudeScreen {
	return &ClaudeScreen{client: client, model: modelName, calc: calc}
}

func (p *ClaudeScreen) Name() string { return "claude-screen" }

func (p *ClaudeScreen) Invoke(ctx context.Context, in ImageInput) (cascade.Result[model.ScreenPayload], error) {
	var zero cascade.Result[model.ScreenPayload]

	resp, err := p.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     p.model,
		MaxTokens: claudeMaxTokens,
		System:    screenSystemPrompt,
		Messages: []anthropic.Message{{
			Role:           "user",
			Content:        "Classify this photo.",
			Image:          in.Image,
			ImageMediaType: in.MediaType,
		}},
	})
	if err != nil {
		return zero, eris.Wrap(err, "claude screen")
	}
	resp.Usage.LogUsage(p.model, string(model.StageScreen))
	spent := p.calc.Claude(p.model, int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens))

	var payload model.ScreenPayload
	conf, err := decodeEnvelope(resp.Text(), &payload)
	if err != nil {
		zero.CostUSD = spent
		return zero, eris.Wrap(err, "claude screen")
	}
	return cascade.Result[model.ScreenPayload]{
		Output:     payload,
		Confidence: conf,
		CostUSD:    spent,
	}, nil
}

// ClaudeExtract is the extract-stage fallback.
type ClaudeExtract struct {
	client anthropic.Client
	model  string
	calc   *cost.Calculator
}

func NewClaudeExtract(client anthropic.Client, modelName string, calc *cost.Calculator) *ClaudeExtract {
	return &ClaudeExtract{client: client, model: modelName, calc: calc}
}

func (p *ClaudeExtract) Name() string { return "claude-extract" }

func (p *ClaudeExtract) Invoke(ctx context.Context, in ImageInput) (cascade.Result[model.ExtractPayload], error) {
	var zero cascade.Result[model.ExtractPayload]

	resp, err := p.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     p.model,
		MaxTokens: claudeMaxTokens,
		System:    extractSystemPrompt,
		Messages: []anthropic.Message{{
			Role:           "user",
			Content:        "Extract the nameplate fields from this photo.",
			Image:          in.Image,
			ImageMediaType: in.MediaType,
		}},
	})
	if err != nil {
		return zero, eris.Wrap(err, "claude extract")
	}
	resp.Usage.LogUsage(p.model, string(model.StageExtract))
	spent := p.calc.Claude(p.model, int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens))

	var payload model.ExtractPayload
	conf, err := decodeEnvelope(resp.Text(), &payload)
	if err != nil {
		zero.CostUSD = spent
		return zero, eris.Wrap(err, "claude extract")
	}
	return cascade.Result[model.ExtractPayload]{
		Output:     payload,
		Confidence: conf,
		CostUSD:    spent,
	}, nil
}

// ClaudeAnalyze produces the final troubleshooting answer. It is the only
// analyze-stage provider: analysis quality is the product, so there is no
// cheaper fallback to cascade through.
type ClaudeAnalyze struct {
	client anthropic.Client
	model  string
	calc   *cost.Calculator
}

func NewClaudeAnalyze(client anthropic.Client, modelName string, calc *cost.Calculator) *ClaudeAnalyze {
	return &ClaudeAnalyze{client: client, model: modelName, calc: calc}
}

func (p *ClaudeAnalyze) Name() string { return "claude-analyze" }

func (p *ClaudeAnalyze) Invoke(ctx context.Context, in AnalyzeInput) (cascade.Result[model.AnalyzePayload], error) {
	var zero cascade.Result[model.AnalyzePayload]

	docContext := ""
	if in.DocumentText != "" {
		docContext = "Referenced documentation:\n" + in.DocumentText + "\n"
	} else if in.DocumentURL != "" {
		docContext = "Referenced documentation: " + in.DocumentURL + "\n"
	}
	prompt := fmt.Sprintf(analyzeUserTemplate, in.Manufacturer, in.Model, in.Question, docContext)

	resp, err := p.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     p.model,
		MaxTokens: claudeMaxTokens,
		System:    in.System,
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return zero, eris.Wrap(err, "claude analyze")
	}
	resp.Usage.LogUsage(p.model, string(model.StageAnalyze))
	spent := p.calc.Claude(p.model, int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens))

	var payload model.AnalyzePayload
	conf, err := decodeEnvelope(resp.Text(), &payload)
	if err != nil {
		zero.CostUSD = spent
		return zero, eris.Wrap(err, "claude analyze")
	}
	if in.DocumentURL != "" {
		payload.Citations = append(payload.Citations, in.DocumentURL)
	}
	return cascade.Result[model.AnalyzePayload]{
		Output:     payload,
		Confidence: conf,
		CostUSD:    spent,
	}, nil
}
