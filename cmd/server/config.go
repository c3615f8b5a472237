package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tarwood/hearth/internal/agent"
	"github.com/tarwood/hearth/internal/services"
)

// provider bundles the three roles a model backend plays: chat streaming, title
// generation, and the health probe.
type provider interface {
	agent.LLM
	agent.TitleGenerator
	Health(ctx context.Context) ([]string, error)
}

type llmConfig interface {
	provider(systemPrompt string, logger *slog.Logger) (provider, error)
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type config struct {
	Port         string `yaml:"port"`
	SystemPrompt string `yaml:"systemPrompt"`
	SearxURL     string `yaml:"searxURL"`

	LLM llmConfig `yaml:"llm"`

	MCPSSEServers   map[string]mcpSSEServerConfig   `yaml:"mcpSSEServers"`
	MCPStdIOServers map[string]mcpStdIOServerConfig `yaml:"mcpStdIOServers"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

type openAIConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string                 `yaml:"apiKey"`
	BaseURL       string                 `yaml:"baseURL"`
	Parameters    services.LLMParameters `yaml:"parameters"`
}

type mcpSSEServerConfig struct {
	URL string `yaml:"url"`
}

type mcpStdIOServerConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port            string                          `yaml:"port"`
		SystemPrompt    string                          `yaml:"systemPrompt"`
		SearxURL        string                          `yaml:"searxURL"`
		LLM             map[string]any                  `yaml:"llm"`
		MCPSSEServers   map[string]mcpSSEServerConfig   `yaml:"mcpSSEServers"`
		MCPStdIOServers map[string]mcpStdIOServerConfig `yaml:"mcpStdIOServers"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	c.SystemPrompt = rawConfig.SystemPrompt
	c.SearxURL = rawConfig.SearxURL

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm llmConfig
	switch llmProvider {
	case "ollama":
		llm = &ollamaConfig{}
	case "openai":
		llm = &openAIConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}

	c.LLM = llm
	c.MCPSSEServers = rawConfig.MCPSSEServers
	c.MCPStdIOServers = rawConfig.MCPStdIOServers

	return nil
}

func (o ollamaConfig) provider(systemPrompt string, logger *slog.Logger) (provider, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = "http://localhost:11434"
	}
	return services.NewOllama(host, o.Model, systemPrompt, logger), nil
}

func (o openAIConfig) provider(systemPrompt string, logger *slog.Logger) (provider, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" && o.BaseURL == "" {
		return nil, fmt.Errorf("apiKey is required")
	}
	return services.NewOpenAI(apiKey, o.BaseURL, o.Model, systemPrompt, o.Parameters, logger), nil
}
