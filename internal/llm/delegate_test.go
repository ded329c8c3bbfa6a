package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/casefolio/internal/models"
	"github.com/feichai0017/casefolio/pkg/logger"
)

func chatServer(t *testing.T, content string, check func(req openai.ChatCompletionRequest)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected path /chat/completions, got %s", r.URL.Path)
		}
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if check != nil {
			check(req)
		}
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:    "chatcmpl-1",
			Model: req.Model,
			Choices: []openai.ChatCompletionChoice{{
				Message:      openai.ChatCompletionMessage{Role: "assistant", Content: content},
				FinishReason: "stop",
			}},
		})
	}))
}

func TestOpenAIDescribe(t *testing.T) {
	server := chatServer(t, "  Emergency visit at Mercy Hospital.  ", func(req openai.ChatCompletionRequest) {
		assert.Equal(t, "gpt-3.5-turbo", req.Model)
		assert.Equal(t, DescribeMaxTokens, req.MaxTokens)
		assert.InDelta(t, DescribeTemperature, req.Temperature, 1e-6)
		if assert.Len(t, req.Messages, 2) {
			assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
		}
	})
	defer server.Close()

	cfg := DefaultConfig()
	cfg.APIKey = "test-key"
	cfg.BaseURL = server.URL
	p, err := NewOpenAIDelegate(cfg)
	require.NoError(t, err)

	desc, err := p.Describe(context.Background(), DescribeRequest{Facts: []FactSummary{amount(1)}})
	require.NoError(t, err)
	assert.Equal(t, "Emergency visit at Mercy Hospital.", desc)
}

func TestOpenAIConfirmRequestsJSON(t *testing.T) {
	server := chatServer(t, `{"is_contradiction":true,"confidence":0.8,"severity":"medium","explanation":"conflict","impact":"credibility"}`,
		func(req openai.ChatCompletionRequest) {
			assert.Equal(t, "gpt-4", req.Model)
			assert.Equal(t, ConfirmMaxTokens, req.MaxTokens)
			if assert.NotNil(t, req.ResponseFormat) {
				assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, req.ResponseFormat.Type)
			}
		})
	defer server.Close()

	cfg := DefaultConfig()
	cfg.APIKey = "test-key"
	cfg.BaseURL = server.URL
	p, err := NewOpenAIDelegate(cfg)
	require.NoError(t, err)

	c, err := p.Confirm(context.Background(), ConfirmRequest{PatternDescription: "x"})
	require.NoError(t, err)
	assert.True(t, c.IsContradiction)
	assert.Equal(t, "medium", c.Severity)
}

func TestOpenAIRequiresKey(t *testing.T) {
	_, err := NewOpenAIDelegate(Config{})
	assert.Error(t, err)
}

func TestOllamaDelegate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var req ollamaRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)

		resp := OllamaResponse{Model: req.Model, Done: true, Response: "Physical therapy session."}
		if req.Format == "json" {
			resp.Response = `{"is_contradiction":false,"confidence":0.2,"severity":"low","explanation":"","impact":""}`
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p, err := NewOllamaDelegate(Config{DescribeModel: "llama3.1:8b", BaseURL: server.URL + "/"})
	require.NoError(t, err)
	defer p.Close()

	desc, err := p.Describe(context.Background(), DescribeRequest{})
	require.NoError(t, err)
	assert.Equal(t, "Physical therapy session.", desc)

	c, err := p.Confirm(context.Background(), ConfirmRequest{})
	require.NoError(t, err)
	assert.False(t, c.IsContradiction)
}

func TestOllamaErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	p, err := NewOllamaDelegate(Config{DescribeModel: "missing", BaseURL: server.URL})
	require.NoError(t, err)
	_, err = p.Describe(context.Background(), DescribeRequest{})
	var ext *models.ExternalServiceError
	require.ErrorAs(t, err, &ext)
	assert.Contains(t, err.Error(), "404")
}

// stubDelegate answers with fixed values and counts calls.
type stubDelegate struct {
	desc    string
	confirm *Confirmation
	err     error
	delay   time.Duration
	calls   atomic.Int32
}

func (s *stubDelegate) Name() string { return "stub" }

func (s *stubDelegate) Describe(ctx context.Context, _ DescribeRequest) (string, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.desc, s.err
}

func (s *stubDelegate) Confirm(_ context.Context, _ ConfirmRequest) (*Confirmation, error) {
	s.calls.Add(1)
	return s.confirm, s.err
}

func guardConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = time.Second
	cfg.RequestsPerSecond = 0
	return cfg
}

func emergencyRequest() DescribeRequest {
	return DescribeRequest{Facts: []FactSummary{amount(3450), name("Mercy Hospital Emergency Room")}}
}

func TestGuardPassesValidOutput(t *testing.T) {
	g := NewGuard(&stubDelegate{desc: "A valid sentence."}, guardConfig(), logger.NewTestLogger())
	desc, err := g.Describe(context.Background(), emergencyRequest())
	require.NoError(t, err)
	assert.Equal(t, "A valid sentence.", desc)
}

func TestGuardFallsBackOnMalformedOutput(t *testing.T) {
	want := FallbackDescription(emergencyRequest())
	for _, bad := range []string{"", "   ", strings.Repeat("x", 301), "two\nlines"} {
		log := logger.NewTestLogger()
		g := NewGuard(&stubDelegate{desc: bad}, guardConfig(), log)
		desc, err := g.Describe(context.Background(), emergencyRequest())
		require.NoError(t, err)
		assert.Equal(t, want, desc)
		assert.Len(t, log.Messages("WARN"), 1)
	}
}

func TestGuardFallsBackOnTimeout(t *testing.T) {
	cfg := guardConfig()
	cfg.Timeout = 20 * time.Millisecond
	g := NewGuard(&stubDelegate{desc: "late", delay: time.Second}, cfg, logger.NewTestLogger())

	desc, err := g.Describe(context.Background(), emergencyRequest())
	require.NoError(t, err)
	assert.Contains(t, desc, "Emergency")
}

func TestGuardOverQuotaUsesFallback(t *testing.T) {
	cfg := guardConfig()
	cfg.Timeout = 50 * time.Millisecond
	cfg.RequestsPerSecond = 0.001
	cfg.Burst = 1
	stub := &stubDelegate{desc: "from model"}
	g := NewGuard(stub, cfg, logger.NewTestLogger())

	first, _ := g.Describe(context.Background(), emergencyRequest())
	second, _ := g.Describe(context.Background(), emergencyRequest())
	assert.Equal(t, "from model", first)
	assert.Equal(t, FallbackDescription(emergencyRequest()), second)
	assert.Equal(t, int32(1), stub.calls.Load())
}

func TestGuardConfirmValidation(t *testing.T) {
	req := ConfirmRequest{
		Event1Description: "injury reported",
		Event2Description: "no pain",
		PatternType:       models.PatternInjuryDenial,
	}

	bad := &stubDelegate{confirm: &Confirmation{IsContradiction: true, Confidence: 1.7, Severity: "high", Explanation: "x"}}
	c, err := NewGuard(bad, guardConfig(), logger.NewTestLogger()).Confirm(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0.92, c.Confidence)

	odd := &stubDelegate{confirm: &Confirmation{IsContradiction: true, Confidence: 0.5, Severity: "critical", Explanation: "x"}}
	c, err = NewGuard(odd, guardConfig(), logger.NewTestLogger()).Confirm(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "high", c.Severity)

	good := &stubDelegate{confirm: &Confirmation{IsContradiction: true, Confidence: 0.6, Severity: "low", Explanation: "minor"}}
	c, err = NewGuard(good, guardConfig(), logger.NewTestLogger()).Confirm(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "low", c.Severity)
}

func TestNewDelegates(t *testing.T) {
	log := logger.NewTestLogger()

	d, c, err := NewDelegates(Config{}, log)
	require.NoError(t, err)
	assert.Equal(t, "fallback", NameOf(d))
	assert.Equal(t, "fallback", NameOf(c))

	d, _, err = NewDelegates(Config{Provider: "openai", APIKey: "k"}, log)
	require.NoError(t, err)
	assert.IsType(t, &Guard{}, d)
	assert.Equal(t, "openai", NameOf(d))

	_, _, err = NewDelegates(Config{Provider: "bard"}, log)
	assert.Error(t, err)
}
