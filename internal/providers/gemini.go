package providers

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/cascade"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/cost"
	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/model"
	"github.com/Mikecranesync/Rivet-PRO-sub004/pkg/gemini"
)

// GeminiScreen screens photos with a Gemini flash model. It sits first in
// the screen cascade because it is an order of magnitude cheaper than the
// Claude fallback.
type GeminiScreen struct {
	client gemini.Client
	model  string
	calc   *cost.Calculator
}

func NewGeminiScreen(client gemini.Client, modelName string, calc *cost.Calculator) *GeminiScreen {
	return &GeminiScreen{client: client, model: modelName, calc: calc}
}

func (p *GeminiScreen) Name() string { return "gemini-screen" }

func (p *GeminiScreen) Invoke(ctx context.Context, in ImageInput) (cascade.Result[model.ScreenPayload], error) {
	var zero cascade.Result[model.ScreenPayload]

	resp, err := p.client.GenerateJSON(ctx, gemini.GenerateRequest{
		Model:          p.model,
		System:         screenSystemPrompt,
		Prompt:         "Classify this photo.",
		Image:          in.Image,
		ImageMediaType: in.MediaType,
	})
	if err != nil {
		return zero, eris.Wrap(err, "gemini screen")
	}
	spent := p.calc.Gemini(p.model, resp.Usage.InputTokens, resp.Usage.OutputTokens)

	var payload model.ScreenPayload
	conf, err := decodeEnvelope(resp.Text, &payload)
	if err != nil {
		zero.CostUSD = spent
		return zero, eris.Wrap(err, "gemini screen")
	}
	return cascade.Result[model.ScreenPayload]{
		Output:     payload,
		Confidence: conf,
		CostUSD:    spent,
	}, nil
}

// GeminiExtract reads nameplate fields with a Gemini flash model.
type GeminiExtract struct {
	client gemini.Client
	model  string
	calc   *cost.Calculator
}

func NewGeminiExtract(client gemini.Client, modelName string, calc *cost.Calculator) *GeminiExtract {
	return &GeminiExtract{client: client, model: modelName, calc: calc}
}

func (p *GeminiExtract) Name() string { return "gemini-extract" }

func (p *GeminiExtract) Invoke(ctx context.Context, in ImageInput) (cascade.Result[model.ExtractPayload], error) {
	var zero cascade.Result[model.ExtractPayload]

	resp, err := p.client.GenerateJSON(ctx, gemini.GenerateRequest{
		Model:          p.model,
		System:         extractSystemPrompt,
		Prompt:         "Extract the nameplate fields from this photo.",
		Image:          in.Image,
		ImageMediaType: in.MediaType,
	})
	if err != nil {
		return zero, eris.Wrap(err, "gemini extract")
	}
	spent := p.calc.Gemini(p.model, resp.Usage.InputTokens, resp.Usage.OutputTokens)

	var payload model.ExtractPayload
	conf, err := decodeEnvelope(resp.Text, &payload)
	if err != nil {
		zero.CostUSD = spent
		return zero, eris.Wrap(err, "gemini extract")
	}
	return cascade.Result[model.ExtractPayload]{
		Output:     payload,
		Confidence: conf,
		CostUSD:    spent,
	}, nil
}
