// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guidance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o-mini"

const systemPrompt = `You are a secure-coding reviewer. Given a code context and a set of
security rules, respond with a single JSON object:
{"text": "...", "suggestions": ["..."], "severity": "...", "confidence": 0.0}
The text explains which rules apply to the code and why. Suggestions are
concrete edits. Respond with JSON only, no markdown fences.`

// OpenAIBackend generates guidance through the OpenAI chat API.
type OpenAIBackend struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIBackend builds a backend from the environment. The key is
// read from OPENAI_API_KEY or from the container secret path.
func NewOpenAIBackend(logger *slog.Logger) (*OpenAIBackend, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		data, err := os.ReadFile(secretPath)
		if err != nil {
			return nil, fmt.Errorf("OPENAI_API_KEY not set and secret not found at %s", secretPath)
		}
		apiKey = strings.TrimSpace(string(data))
	}

	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = defaultOpenAIModel
	}
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("initializing generation backend", slog.String("model", model))
	return &OpenAIBackend{
		client: openai.NewClient(apiKey),
		model:  model,
		logger: logger,
	}, nil
}

// Generate implements Backend.
func (b *OpenAIBackend) Generate(ctx context.Context, req *GenerationRequest) (*GenerationResponse, error) {
	prompt, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       b.model,
		Temperature: 0.2,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(prompt)},
		},
	})
	if err != nil {
		b.logger.Warn("backend call failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}

	var out GenerationResponse
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		b.logger.Warn("backend returned non-JSON content",
			slog.String("finish_reason", string(resp.Choices[0].FinishReason)))
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return &out, nil
}
