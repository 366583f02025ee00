// Package ollama classifies images with a vision model served by Ollama.
package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/ollama/ollama/api"

	"neurogallery/internal/classifier"
	"neurogallery/internal/models"
	"neurogallery/internal/vision"
)

// Prompt asks for a single ImageNet-style label.
const Prompt = `You are an image classifier.

Name the single most prominent object in the image using a short common noun
phrase, the way an ImageNet label would (for example "golden retriever" or
"sports car"), and estimate your confidence.

Return JSON only:
{"label": "string", "confidence": 0.0}

confidence is a number between 0 and 1. No markdown, no code fences, no comments.`

type Client struct {
	client *api.Client
	model  string
}

// NewClient creates a classifier for model on the Ollama server at serverURL.
func NewClient(serverURL, model string) (*Client, error) {
	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL: %q needs scheme and host", serverURL)
	}
	if model == "" {
		return nil, errors.New("ollama model is required")
	}

	// Keep only scheme and host; callers sometimes pass .../api/chat.
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	return &Client{client: api.NewClient(baseURL, http.DefaultClient), model: model}, nil
}

func (c *Client) Name() string {
	return "ollama:" + c.model
}

func (c *Client) Classify(ctx context.Context, data []byte) (*models.Prediction, error) {
	// Reject undecodable uploads before paying for a model call.
	if _, err := vision.Decode(data); err != nil {
		return nil, errors.Join(classifier.ErrUnreadableImage, err)
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: Prompt,
				Images:  []api.ImageData{api.ImageData(data)},
			},
		},
		Stream:  &streamFalse,
		Format:  json.RawMessage(`"json"`),
		Options: map[string]any{"temperature": 0},
	}

	var responseContent string
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		responseContent += resp.Message.Content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat error: %w", err)
	}

	return parsePrediction(responseContent)
}

func (c *Client) Close() error {
	return nil
}

type reply struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// parsePrediction reads the model reply. Confidence may come back as a
// probability or as a percentage.
func parsePrediction(raw string) (*models.Prediction, error) {
	raw = sanitizeModelJSON(raw)
	if raw == "" {
		return nil, errors.New("empty response from ollama")
	}

	var r reply
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("failed to parse ollama reply: %w", err)
	}

	label := classifier.FormatLabel(r.Label)
	if label == "" {
		return nil, errors.New("ollama reply has no label")
	}

	p := r.Confidence
	if p > 1 && p <= 100 {
		p /= 100
	}
	return &models.Prediction{Label: label, Confidence: classifier.Percent(p)}, nil
}

var (
	reBlock    = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLine     = regexp.MustCompile(`(?m)//.*$`)
	reTrailing = regexp.MustCompile(`,(\s*[}\]])`)
)

// sanitizeModelJSON removes code fences, comments and trailing commas and
// keeps the outermost object.
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")

	raw = reBlock.ReplaceAllString(raw, "")
	raw = reLine.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return strings.TrimSpace(raw[start : end+1])
}
