package llm

import (
	"time"

	"go.uber.org/zap"
)

// NewLLMClient creates the mock client when mock is set, otherwise an HTTP client.
func NewLLMClient(baseURL, apiKey string, timeout time.Duration, mock bool, logger *zap.Logger) Client {
	if mock {
		if logger != nil {
			logger.Info("mock mode enabled, using mock completion client")
		}
		return NewMockClient()
	}
	return NewClient(baseURL, apiKey, timeout)
}
