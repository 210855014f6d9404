package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"google.golang.org/genai"
)

// GenaiClient implements NLIClient and embedding generation using the Gemini
// embed/NLI models, the sole ML inference boundary this package crosses
//.
type GenaiClient struct {
	logger     arbor.ILogger
	client     *genai.Client
	embedModel string
	nliModel   string
}

func NewGenaiClient(ctx context.Context, logger arbor.ILogger, apiKey, embedModel, nliModel string) (*GenaiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}
	return &GenaiClient{logger: logger, client: client, embedModel: embedModel, nliModel: nliModel}, nil
}

// Embed returns a single embedding vector for text.
func (c *GenaiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.Models.EmbedContent(ctx, c.embedModel, []*genai.Content{
		{Role: genai.RoleUser, Parts: []*genai.Part{genai.NewPartFromText(text)}},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("embed request failed: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("embed response had no vectors")
	}
	return resp.Embeddings[0].Values, nil
}

type nliVerdict struct {
	FragmentID string  `json:"fragment_id"`
	Stance     string  `json:"stance"`
	Confidence float64 `json:"confidence"`
}

// ClassifyBatch asks the NLI model to classify claim against every fragment
// in a single batched prompt, returning one verdict per fragment. Fragments
// the model omits from its response are treated as neutral with zero
// confidence rather than dropped, so every candidate still gets a
// persist-or-skip decision upstream.
func (c *GenaiClient) ClassifyBatch(ctx context.Context, claimText string, fragments []Fragment) ([]NLIResult, error) {
	if len(fragments) == 0 {
		return nil, nil
	}

	prompt := buildNLIPrompt(claimText, fragments)
	resp, err := c.client.Models.GenerateContent(ctx, c.nliModel, []*genai.Content{
		{Role: genai.RoleUser, Parts: []*genai.Part{genai.NewPartFromText(prompt)}},
	}, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("nli request failed: %w", err)
	}

	verdicts, err := parseNLIResponse(extractText(resp))
	if err != nil {
		return nil, err
	}

	byFragment := make(map[string]nliVerdict, len(verdicts))
	for _, v := range verdicts {
		byFragment[v.FragmentID] = v
	}

	out := make([]NLIResult, 0, len(fragments))
	for _, f := range fragments {
		v, ok := byFragment[f.ID]
		if !ok {
			out = append(out, NLIResult{FragmentID: f.ID, Stance: StanceNeutral, Confidence: 0})
			continue
		}
		out = append(out, NLIResult{FragmentID: f.ID, Stance: normalizeStance(v.Stance), Confidence: v.Confidence})
	}
	return out, nil
}

func buildNLIPrompt(claimText string, fragments []Fragment) string {
	var b strings.Builder
	b.WriteString("Classify whether each fragment supports, refutes, or is neutral toward the claim.\n")
	b.WriteString("Claim: ")
	b.WriteString(claimText)
	b.WriteString("\n\nFragments:\n")
	for _, f := range fragments {
		b.WriteString(fmt.Sprintf("- id=%s: %s\n", f.ID, f.Text))
	}
	b.WriteString("\nRespond with JSON: a list of objects with fields fragment_id, stance (supports|refutes|neutral), confidence (0-1).")
	return b.String()
}

// extractText returns the concatenated text parts of the first candidate in
// a generation response that has any text.
func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				b.WriteString(part.Text)
			}
		}
		if b.Len() > 0 {
			break
		}
	}
	return b.String()
}

func parseNLIResponse(raw string) ([]nliVerdict, error) {
	var verdicts []nliVerdict
	if err := json.Unmarshal([]byte(raw), &verdicts); err != nil {
		return nil, fmt.Errorf("failed to parse nli response: %w", err)
	}
	return verdicts, nil
}

func normalizeStance(s string) Stance {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "supports":
		return StanceSupports
	case "refutes":
		return StanceRefutes
	default:
		return StanceNeutral
	}
}
