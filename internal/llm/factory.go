package llm

import (
	"fmt"
	"strings"

	"github.com/feichai0017/casefolio/pkg/logger"
)

// NewDelegates builds the describer and confirmer for the configured provider. Live providers come back wrapped in a
// Guard; an empty provider or "mock" selects the deterministic fallback.
func NewDelegates(config Config, log logger.Logger) (Describer, Confirmer, error) {
	var live Delegate
	var err error

	switch strings.ToLower(config.Provider) {
	case "openai":
		live, err = NewOpenAIDelegate(config)
	case "ollama":
		live, err = NewOllamaDelegate(config)
	case "", "mock", "fallback":
		log.Info("LLM provider not configured, using deterministic fallback")
		return Fallback{}, Fallback{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown LLM provider: %s (supported: openai, ollama, mock)", config.Provider)
	}
	if err != nil {
		return nil, nil, err
	}

	guard := NewGuard(live, config, log)
	log.Info("LLM delegates ready",
		logger.String("provider", live.Name()),
		logger.String("describeModel", config.DescribeModel),
		logger.String("confirmModel", config.ConfirmModel),
	)
	return guard, guard, nil
}

// NameOf returns the provider name of a delegate, or "custom".
func NameOf(v interface{}) string {
	if n, ok := v.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "custom"
}
