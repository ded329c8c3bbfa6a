package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/feichai0017/casefolio/internal/models"
)

// OpenAIDelegate calls the Chat Completions API.
type OpenAIDelegate struct {
	client *openai.Client
	config Config
}

func NewOpenAIDelegate(config Config) (*OpenAIDelegate, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIDelegate{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

func (p *OpenAIDelegate) Name() string { return "openai" }

func (p *OpenAIDelegate) Describe(ctx context.Context, req DescribeRequest) (string, error) {
	model := p.config.DescribeModel
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: describeSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: DescribePrompt(req)},
		},
		MaxTokens:   DescribeMaxTokens,
		Temperature: DescribeTemperature,
	})
	if err != nil {
		return "", &models.ExternalServiceError{Service: p.Name(), Op: "describe", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &models.ExternalServiceError{Service: p.Name(), Op: "describe", Err: fmt.Errorf("no choices in response")}
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (p *OpenAIDelegate) Confirm(ctx context.Context, req ConfirmRequest) (*Confirmation, error) {
	model := p.config.ConfirmModel
	if model == "" {
		model = openai.GPT4
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: confirmSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: ConfirmPrompt(req)},
		},
		MaxTokens:   ConfirmMaxTokens,
		Temperature: ConfirmTemperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, &models.ExternalServiceError{Service: p.Name(), Op: "confirm", Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &models.ExternalServiceError{Service: p.Name(), Op: "confirm", Err: fmt.Errorf("no choices in response")}
	}
	return decodeConfirmation(p.Name(), resp.Choices[0].Message.Content)
}

func decodeConfirmation(service, content string) (*Confirmation, error) {
	var c Confirmation
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &c); err != nil {
		return nil, &models.ExternalServiceError{Service: service, Op: "confirm", Err: fmt.Errorf("malformed JSON: %w", err)}
	}
	return &c, nil
}
