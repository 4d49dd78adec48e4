package main

import (
	"github.com/calder-ai/rudder/internal/config"
	"github.com/calder-ai/rudder/internal/provider"
)

// newProviderClient builds the model client from configuration. Bedrock
// routing and credentials come from the anthropic config section.
func newProviderClient(cfg *config.Config) (*provider.Client, error) {
	return provider.NewClient(provider.ClientConfig{
		Model:      cfg.Anthropic.Model,
		APIKey:     cfg.Anthropic.APIKey,
		UseBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:  cfg.Anthropic.AWSRegion,
		AWSProfile: cfg.Anthropic.AWSProfile,
	})
}
