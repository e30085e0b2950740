package provider

import (
	"testing"
)

func TestResolveOllamaPrefix(t *testing.T) {
	t.Parallel()

	client, err := Resolve("ollama::llama3", ResolverConfig{})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if client.Name() != "ollama" {
		t.Errorf("Name() = %q, want ollama", client.Name())
	}
	if client.Model() != "llama3" {
		t.Errorf("Model() = %q, want llama3", client.Model())
	}
	if client.RequiresCredential() {
		t.Error("ollama variant should not require a credential")
	}
}

func TestResolveDefaultsToOpenAI(t *testing.T) {
	t.Parallel()

	client, err := Resolve("gpt-4o-mini", ResolverConfig{})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if client.Name() != "openai" {
		t.Errorf("Name() = %q, want openai", client.Name())
	}
	if client.Model() != "gpt-4o-mini" {
		t.Errorf("Model() = %q, want gpt-4o-mini", client.Model())
	}
	if !client.RequiresCredential() {
		t.Error("openai variant should require a credential")
	}
}

func TestResolveRejectsEmptyIdentifiers(t *testing.T) {
	t.Parallel()

	for _, model := range []string{"", "   ", "ollama::", "ollama::   "} {
		if _, err := Resolve(model, ResolverConfig{}); err == nil {
			t.Errorf("Resolve(%q) should fail", model)
		}
	}
}
