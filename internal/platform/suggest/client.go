package suggest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/soleforge/soleforge-backend/internal/domain"
	"github.com/soleforge/soleforge-backend/internal/platform/logger"
)

// Client proposes values for missing non-instrumental fields. The
// signature is the isolation boundary: a suggester receives and returns
// only the non-instrumental sub-structure, so no implementation can read
// or write geometry-driving data.
type Client interface {
	ProposeNonInstrumental(ctx context.Context, existing domain.NonInstrumentalSpec, missing []string) (domain.NonInstrumentalSpec, error)
}

// NewFromEnv returns the OpenAI-backed client when an API key is
// configured, otherwise the deterministic static suggester.
func NewFromEnv(log *logger.Logger) Client {
	key := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if key == "" {
		log.Info("No OPENAI_API_KEY set, using static suggestion tables")
		return NewStatic()
	}
	return NewOpenAI(log, key)
}

// Static proposes values from a fixed draft table. Deterministic; used in
// tests and when no model is configured.
type Static struct{}

func NewStatic() *Static { return &Static{} }

// draftTable mirrors the curated premium-draft styling defaults.
var draftTable = map[string]string{
	"materials.upper":             "croc_print_leather",
	"materials.lining":            "premium_mesh",
	"materials.outsole":           "rubber_outsole",
	"colors.primary_hex":          "#0A0A0A",
	"colors.secondary_hex":        "#F2F2F2",
	"branding.monogram_placement": "heel+toebox",
	"branding.embroidery_thread":  "white_thread",
	"textures.upper_texture":      "croc_print_tile_v1",
}

func (s *Static) ProposeNonInstrumental(_ context.Context, existing domain.NonInstrumentalSpec, missing []string) (domain.NonInstrumentalSpec, error) {
	out := existing
	for _, path := range missing {
		if v, ok := out.Field(path); !ok || v != "" {
			continue
		}
		if proposal, ok := draftTable[path]; ok {
			out.SetField(path, proposal)
		}
	}
	return out, nil
}

// OpenAI calls the chat completions endpoint and asks for a JSON object of
// dotted path to value, restricted to the missing fields. Unknown paths in
// the reply are dropped by SetField.
type OpenAI struct {
	log     *logger.Logger
	key     string
	model   string
	baseURL string
	client  *http.Client
}

func NewOpenAI(log *logger.Logger, key string) *OpenAI {
	model := strings.TrimSpace(os.Getenv("SUGGEST_MODEL"))
	if model == "" {
		model = "gpt-4o-mini"
	}
	baseURL := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAI{
		log:     log.With("service", "SuggestClient"),
		key:     key,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (o *OpenAI) ProposeNonInstrumental(ctx context.Context, existing domain.NonInstrumentalSpec, missing []string) (domain.NonInstrumentalSpec, error) {
	if len(missing) == 0 {
		return existing, nil
	}
	existingJSON, _ := json.Marshal(existing)
	prompt := fmt.Sprintf(
		"You style footwear appearance specs. Existing non-instrumental spec: %s. "+
			"Propose values for exactly these missing fields and no others: %s. "+
			"Reply with a single JSON object mapping each dotted field path to a short string value.",
		existingJSON, strings.Join(missing, ", "),
	)
	body, _ := json.Marshal(chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
		ResponseFormat: &respFormat{Type: "json_object"},
	})

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return domain.NonInstrumentalSpec{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
		proposals, err := o.call(ctx, body)
		if err != nil {
			lastErr = err
			o.log.Warn("Suggestion call failed", "attempt", attempt+1, "error", err)
			continue
		}
		out := existing
		for _, path := range missing {
			if v, ok := proposals[path]; ok && v != "" {
				out.SetField(path, v)
			}
		}
		return out, nil
	}
	return domain.NonInstrumentalSpec{}, fmt.Errorf("suggestion request failed: %w", lastErr)
}

func (o *OpenAI) call(ctx context.Context, body []byte) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+o.key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("suggestion endpoint returned %d: %s", resp.StatusCode, string(raw))
	}
	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil, err
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("suggestion endpoint returned no choices")
	}
	var proposals map[string]string
	if err := json.Unmarshal([]byte(cr.Choices[0].Message.Content), &proposals); err != nil {
		return nil, fmt.Errorf("parse suggestion payload: %w", err)
	}
	return proposals, nil
}
