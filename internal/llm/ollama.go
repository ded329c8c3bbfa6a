package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/feichai0017/casefolio/internal/models"
)

// OllamaResponse 定义 Ollama API 响应结构
type OllamaResponse struct {
	Model           string `json:"model"`
	CreatedAt       string `json:"created_at"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	TotalDuration   int64  `json:"total_duration,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
	Error           string `json:"error,omitempty"`
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Format  string        `json:"format,omitempty"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// OllamaDelegate calls a local Ollama server through /api/generate.
type OllamaDelegate struct {
	endpoint   string
	config     Config
	httpClient *http.Client
}

func NewOllamaDelegate(config Config) (*OllamaDelegate, error) {
	if config.DescribeModel == "" {
		return nil, fmt.Errorf("ollama model must be specified (e.g., llama3.1:8b, mistral)")
	}
	endpoint := config.BaseURL
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &OllamaDelegate{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		config:   config,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

func (c *OllamaDelegate) Name() string { return "ollama" }

func (c *OllamaDelegate) Describe(ctx context.Context, req DescribeRequest) (string, error) {
	result, err := c.generate(ctx, ollamaRequest{
		Model:  c.config.DescribeModel,
		Prompt: DescribePrompt(req),
		System: describeSystemPrompt,
		Options: ollamaOptions{
			Temperature: DescribeTemperature,
			NumPredict:  DescribeMaxTokens,
		},
	})
	if err != nil {
		return "", &models.ExternalServiceError{Service: c.Name(), Op: "describe", Err: err}
	}
	return strings.TrimSpace(result.Response), nil
}

func (c *OllamaDelegate) Confirm(ctx context.Context, req ConfirmRequest) (*Confirmation, error) {
	model := c.config.ConfirmModel
	if model == "" {
		model = c.config.DescribeModel
	}
	result, err := c.generate(ctx, ollamaRequest{
		Model:  model,
		Prompt: ConfirmPrompt(req),
		System: confirmSystemPrompt,
		Format: "json",
		Options: ollamaOptions{
			Temperature: ConfirmTemperature,
			NumPredict:  ConfirmMaxTokens,
		},
	})
	if err != nil {
		return nil, &models.ExternalServiceError{Service: c.Name(), Op: "confirm", Err: err}
	}
	return decodeConfirmation(c.Name(), result.Response)
}

func (c *OllamaDelegate) generate(ctx context.Context, body ollamaRequest) (*OllamaResponse, error) {
	reqData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/generate", bytes.NewReader(reqData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(respBody))
	}

	var result OllamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("ollama error: %s", result.Error)
	}
	return &result, nil
}

func (c *OllamaDelegate) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
