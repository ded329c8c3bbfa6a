package config

import (
	"sync"

	"github.com/feichai0017/casefolio/internal/llm"
)

var (
	llmOnce   sync.Once
	llmConfig *llm.Config
)

// GetLLMConfig reads the delegate settings. LLM_PROVIDER unset means deterministic fallback only.
func GetLLMConfig() *llm.Config {
	llmOnce.Do(func() {
		loadEnv()
		d := llm.DefaultConfig()
		llmConfig = &llm.Config{
			Provider:             getEnv("LLM_PROVIDER", d.Provider),
			DescribeModel:        getEnv("LLM_DESCRIBE_MODEL", d.DescribeModel),
			ConfirmModel:         getEnv("LLM_CONFIRM_MODEL", d.ConfirmModel),
			APIKey:               getEnv("OPENAI_API_KEY", ""),
			BaseURL:              getEnv("LLM_BASE_URL", ""),
			Timeout:              getDuration("LLM_TIMEOUT", d.Timeout),
			RequestsPerSecond:    getFloat("LLM_REQUESTS_PER_SECOND", d.RequestsPerSecond),
			Burst:                getInt("LLM_BURST", d.Burst),
			MaxDescriptionLength: getInt("LLM_MAX_DESCRIPTION_LENGTH", d.MaxDescriptionLength),
		}
	})
	return llmConfig
}
