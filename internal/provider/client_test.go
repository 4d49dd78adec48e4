package provider

import (
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
)

func TestNewClient_RequiresAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	_, err := NewClient(ClientConfig{})
	if err == nil {
		t.Fatal("expected error without an API key")
	}
	if !strings.Contains(err.Error(), "ANTHROPIC_API_KEY") {
		t.Errorf("error = %q, should name the missing variable", err)
	}
}

func TestNewClient_DefaultsModel(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")

	c, err := NewClient(ClientConfig{})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if c.Model() == "" {
		t.Error("Model() is empty, want a default")
	}
}

func TestTranslateModelForBedrock(t *testing.T) {
	tests := []struct {
		name  string
		model anthropic.Model
		want  string
	}{
		{
			name:  "known model gains inference profile prefix",
			model: anthropic.ModelClaudeSonnet4_20250514,
			want:  "us.anthropic.claude-sonnet-4-20250514-v1:0",
		},
		{
			name:  "already translated passes through",
			model: anthropic.Model("us.anthropic.claude-sonnet-4-20250514-v1:0"),
			want:  "us.anthropic.claude-sonnet-4-20250514-v1:0",
		},
		{
			name:  "unknown model passes through",
			model: anthropic.Model("custom-model"),
			want:  "custom-model",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translateModelForBedrock(tt.model)
			if string(got) != tt.want {
				t.Errorf("translateModelForBedrock(%s) = %s, want %s", tt.model, got, tt.want)
			}
		})
	}
}
