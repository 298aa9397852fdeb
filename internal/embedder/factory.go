package embedder

import (
	"fmt"
	"os"
	"strings"
)

// EnvProvider selects the embedding provider by name.
const EnvProvider = "SEMDEX_EMBEDDING_PROVIDER"

// EnvModel overrides the default model for the selected provider.
const EnvModel = "SEMDEX_EMBEDDING_MODEL"

// NewProviderFromEnv constructs a provider from environment configuration.
// Selection order: explicit SEMDEX_EMBEDDING_PROVIDER, then whichever API
// key is present (OpenAI first), then the local deterministic provider.
func NewProviderFromEnv() (Provider, error) {
	model := os.Getenv(EnvModel)

	switch strings.ToLower(os.Getenv(EnvProvider)) {
	case ProviderOpenAI:
		return NewOpenAIProvider("", model)
	case ProviderJina:
		return NewJinaProvider("", model)
	case ProviderLocal:
		return NewLocalProvider(), nil
	case "":
		// fall through to key detection
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", os.Getenv(EnvProvider))
	}

	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return NewOpenAIProvider("", model)
	}
	if os.Getenv(EnvJinaAPIKey) != "" {
		return NewJinaProvider("", model)
	}
	return NewLocalProvider(), nil
}

// NewProvider constructs a provider by name, using environment credentials.
func NewProvider(name, model string) (Provider, error) {
	switch strings.ToLower(name) {
	case ProviderOpenAI:
		return NewOpenAIProvider("", model)
	case ProviderJina:
		return NewJinaProvider("", model)
	case ProviderLocal, "":
		return NewLocalProvider(), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", name)
	}
}
