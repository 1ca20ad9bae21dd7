package config

// Provider constants for model routing.
const (
	ProviderAnthropic = "anthropic"
)

// ModelInfo contains static information about a known model.
// This data is hardcoded in the application, not user-configurable.
type ModelInfo struct {
	ID               string  // Full model identifier
	Provider         string  // API provider
	InputCPM         float64 // Cost per million input tokens (USD)
	OutputCPM        float64 // Cost per million output tokens (USD)
	MaxContextTokens int     // Maximum context window size in tokens
	MaxOutputTokens  int     // Maximum output tokens per request
}

// KnownModels registers pricing and provider information for the model
// aliases the subprocess accepts. Unrecognized names pass through to the
// CLI untouched; they just lose cost estimation.
//
//nolint:gochecknoglobals // Intentional global for static model registry
var KnownModels = map[string]ModelInfo{
	"sonnet": {
		ID:               "claude-sonnet-4-5",
		Provider:         ProviderAnthropic,
		InputCPM:         3.0,
		OutputCPM:        15.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	"opus": {
		ID:               "claude-opus-4-5",
		Provider:         ProviderAnthropic,
		InputCPM:         15.0,
		OutputCPM:        75.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  16384,
	},
	"haiku": {
		ID:               "claude-3-5-haiku-latest",
		Provider:         ProviderAnthropic,
		InputCPM:         0.8,
		OutputCPM:        4.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
}

// ResolveModel looks up a model alias or full identifier.
func ResolveModel(name string) (ModelInfo, bool) {
	if info, ok := KnownModels[name]; ok {
		return info, true
	}
	for _, info := range KnownModels {
		if info.ID == name {
			return info, true
		}
	}
	return ModelInfo{}, false
}

// EstimateCost computes the dollar cost of a request against a known model.
func EstimateCost(info ModelInfo, inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1e6*info.InputCPM + float64(outputTokens)/1e6*info.OutputCPM
}
