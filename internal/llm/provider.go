package llm

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/talentscout/internal/common"
)

// systemPrompt frames every oracle request
const systemPrompt = "You are an AI assistant helping to decide actions for an automated people-search collector."

// Advisor is the advisory decision oracle. Decide sends a textual state
// summary and returns the raw model output; callers parse and validate it.
type Advisor interface {
	Decide(ctx context.Context, prompt string) (string, error)
	Close() error
}

// NewAdvisor creates the configured advisor implementation
func NewAdvisor(config *common.LLMConfig, logger arbor.ILogger) (Advisor, error) {
	logger.Info().Str("provider", config.Provider).Msg("Initializing advisory oracle")

	switch config.Provider {
	case common.LLMProviderClaude:
		return NewClaudeAdvisor(config, logger)
	case common.LLMProviderGemini:
		return NewGeminiAdvisor(config, logger)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", config.Provider)
	}
}
