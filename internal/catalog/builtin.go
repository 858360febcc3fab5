package catalog

import "github.com/suPer8Hu/gopherchat/internal/ai"

const DefaultModelKey = "gpt-4o"

func fp(v float64) *float64 { return &v }

// Builtin returns the compiled-in model definitions.
func Builtin() []Model {
	return []Model{
		{
			Key: "gpt-4o", Label: "GPT-4o", Provider: ai.ProviderOpenAI, Deployment: "gpt-4o",
			ContextLength: 128000, MaxOutputTokens: 4096, Temperature: fp(0.7), TopP: fp(0.95),
			FrequencyPenalty: fp(0), PresencePenalty: fp(0),
			SupportsSystemInstruction: true, ClassificationClearance: 1,
		},
		{
			Key: "gpt-4o-mini", Label: "GPT-4o mini", Provider: ai.ProviderOpenAI, Deployment: "gpt-4o-mini",
			ContextLength: 128000, MaxOutputTokens: 4096, Temperature: fp(0.7),
			SupportsSystemInstruction: true, ClassificationClearance: 1, Weak: true,
		},
		{
			Key: "azure-gpt-4o", Label: "GPT-4o (Azure, EU)", Provider: ai.ProviderAzure, Deployment: "gpt-4o",
			ContextLength: 128000, MaxOutputTokens: 4096, Temperature: fp(0.7), TopP: fp(0.95),
			SupportsSystemInstruction: true, ClassificationClearance: 3,
		},
		{
			Key: "claude-3-5-sonnet", Label: "Claude 3.5 Sonnet", Provider: ai.ProviderAnthropic,
			Deployment: "claude-3-5-sonnet-latest", ContextLength: 200000, MaxOutputTokens: 8192,
			Temperature: fp(0.7), SupportsSystemInstruction: true, ClassificationClearance: 2,
		},
		{
			Key: "claude-3-5-haiku", Label: "Claude 3.5 Haiku", Provider: ai.ProviderAnthropic,
			Deployment: "claude-3-5-haiku-latest", ContextLength: 200000, MaxOutputTokens: 4096,
			Temperature: fp(0.5), SupportsSystemInstruction: true, ClassificationClearance: 2, Weak: true,
		},
		{
			Key: "llama3-local", Label: "Llama 3 (local)", Provider: ai.ProviderOllama, Deployment: "llama3:latest",
			ContextLength: 8192, MaxOutputTokens: 2048, Temperature: fp(0.7),
			SupportsSystemInstruction: true, ClassificationClearance: 5,
		},
	}
}
