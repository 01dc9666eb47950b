// Package gemini wraps the Google generative AI SDK behind a small
// interface for vision-capable JSON completions.
package gemini

import (
	"context"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rotisserie/eris"
	"google.golang.org/api/option"
)

// Client defines the Gemini operations used by the pipeline.
type Client interface {
	GenerateJSON(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
	Close() error
}

// GenerateRequest asks the model for a strict-JSON completion, optionally
// grounded on an image.
type GenerateRequest struct {
	Model          string
	System         string
	Prompt         string
	Image          []byte
	ImageMediaType string // e.g. "image/jpeg"; required when Image is set
}

// GenerateResponse carries the raw JSON text plus token usage.
type GenerateResponse struct {
	Text  string
	Usage TokenUsage
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

type sdkClient struct {
	client *genai.Client
}

// NewClient creates a Gemini client.
func NewClient(ctx context.Context, apiKey string) (Client, error) {
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, eris.Wrap(err, "gemini: create client")
	}
	return &sdkClient{client: cl}, nil
}

func (c *sdkClient) GenerateJSON(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	m := c.client.GenerativeModel(strings.TrimSpace(req.Model))
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0),
		ResponseMIMEType: "application/json",
	}
	if req.System != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}

	parts := make([]genai.Part, 0, 2)
	if req.Prompt != "" {
		parts = append(parts, genai.Text(req.Prompt))
	}
	if len(req.Image) > 0 {
		parts = append(parts, &genai.Blob{MIMEType: req.ImageMediaType, Data: req.Image})
	}

	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: generate content")
	}

	text := firstText(resp)
	if text == "" {
		return nil, eris.New("gemini: empty response")
	}

	out := &GenerateResponse{Text: stripCodeFences(text)}
	if resp.UsageMetadata != nil {
		out.Usage = TokenUsage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}

func (c *sdkClient) Close() error {
	return c.client.Close()
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

// stripCodeFences removes a surrounding markdown code fence if the model
// wrapped its JSON in one despite the response MIME type.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func ptrFloat32(v float32) *float32 { return &v }
