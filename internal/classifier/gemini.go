package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const systemPrompt = `You triage messages sent to a mental-health support service.
Return only JSON: {"risk_level": 0-3, "intent": "<short tag>", "next_step": "coach"|"human"|"resource"}.
risk_level: 0 none, 1 low, 2 elevated, 3 imminent crisis.
Use "human" whenever you are unsure.`

// GeminiCapability classifies text with a Gemini model.
type GeminiCapability struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGeminiCapability creates a client for the given model.
func NewGeminiCapability(ctx context.Context, apiKey, modelName string) (*GeminiCapability, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)
	model.ResponseMIMEType = "application/json"
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}
	return &GeminiCapability{client: client, model: model}, nil
}

// Classify sends the text and parses the JSON verdict.
func (g *GeminiCapability) Classify(ctx context.Context, req CapabilityRequest) (CapabilityResult, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(req.Text))
	if err != nil {
		return CapabilityResult{}, fmt.Errorf("gemini generate: %w", err)
	}
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
		break
	}
	return ParseVerdict(b.String())
}

// Close releases the client.
func (g *GeminiCapability) Close() error {
	return g.client.Close()
}

var jsonBlockRegex = regexp.MustCompile(`(?s)` + "```" + `(?:json)?\s*\n?(.*?)\n?` + "```")

// ParseVerdict decodes a model reply, accepting bare JSON or a fenced block.
func ParseVerdict(content string) (CapabilityResult, error) {
	var result CapabilityResult
	content = strings.TrimSpace(content)
	if content == "" {
		return result, fmt.Errorf("%w: empty reply", ErrMalformedResult)
	}

	if err := json.Unmarshal([]byte(content), &result); err != nil {
		matches := jsonBlockRegex.FindStringSubmatch(content)
		if len(matches) < 2 {
			return CapabilityResult{}, fmt.Errorf("%w: %s", ErrMalformedResult, content)
		}
		result = CapabilityResult{}
		if err := json.Unmarshal([]byte(strings.TrimSpace(matches[1])), &result); err != nil {
			return CapabilityResult{}, fmt.Errorf("%w: %s", ErrMalformedResult, content)
		}
	}
	if result.RiskLevel == nil {
		return CapabilityResult{}, fmt.Errorf("%w: risk_level missing", ErrMalformedResult)
	}
	return result, nil
}
