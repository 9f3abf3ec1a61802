// Copyright 2025 The Camellones Authors
// SPDX-License-Identifier: Apache-2.0

package imagery

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Prompts for the vision model, one per question asked to the imagery.
const (
	MedianPrompt = `You are given a satellite image centred on a road median strip (the island separating the two carriageways of a divided road).
Estimate the probability that a building, business or other point of interest stands ON the median strip in the image.
Answer only with a JSON object: {"probability": <number between 0 and 1>}`

	SidesPrompt = `You are given a satellite image next to a divided road.
Estimate the probability that a building, business or other point of interest is visible in the image.
Answer only with a JSON object: {"probability": <number between 0 and 1>}`
)

// DefaultVisionModel is the model used when none is configured.
const DefaultVisionModel = openai.GPT4oMini

// VisionConfig configures a VisionModel.
type VisionConfig struct {
	APIKey string
	// BaseURL points to an OpenAI compatible API, the OpenAI one when empty.
	BaseURL    string
	Model      string
	Prompt     string
	HTTPClient *http.Client
}

// VisionModel asks a multimodal chat model for the probability.
type VisionModel struct {
	client *openai.Client
	model  string
	prompt string
}

// NewVisionModel creates a vision model classifier.
func NewVisionModel(config VisionConfig) (*VisionModel, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%w: vision model needs an API key", ErrClassifierUnavailable)
	}

	if config.Prompt == "" {
		return nil, fmt.Errorf("%w: vision model needs a prompt", ErrClassifierUnavailable)
	}

	cfg := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		cfg.BaseURL = config.BaseURL
	}

	if config.HTTPClient != nil {
		cfg.HTTPClient = config.HTTPClient
	}

	model := config.Model
	if model == "" {
		model = DefaultVisionModel
	}

	return &VisionModel{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		prompt: config.Prompt,
	}, nil
}

type visionAnswer struct {
	Probability *float64 `json:"probability"`
}

// Predict implements Classifier.
func (v *VisionModel) Predict(ctx context.Context, img image.Image) (float64, error) {
	png, err := EncodePNG(Resize(img))
	if err != nil {
		return 0, fmt.Errorf("encoding image: %w", err)
	}

	imageURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)

	resp, err := v.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: v.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: v.prompt,
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    imageURL,
							Detail: openai.ImageURLDetailLow,
						},
					},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: vision model: %w", ErrExternalService, err)
	}

	if len(resp.Choices) == 0 {
		return 0, fmt.Errorf("%w: vision model returned no choices", ErrExternalService)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)

	var answer visionAnswer
	if err := json.Unmarshal([]byte(content), &answer); err != nil || answer.Probability == nil {
		return 0, fmt.Errorf("%w: unexpected vision model answer %q", ErrExternalService, content)
	}

	return *answer.Probability, checkProbability(*answer.Probability)
}

// Ping implements Pinger.
func (v *VisionModel) Ping(ctx context.Context) error {
	if _, err := v.client.GetModel(ctx, v.model); err != nil {
		return fmt.Errorf("%w: %w", ErrClassifierUnavailable, err)
	}

	return nil
}
