package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/dotsetgreg/homeagent/pkg/config"
)

const (
	defaultAnthropicModel     = "claude-3-5-haiku-latest"
	defaultAnthropicMaxTokens = 1024
)

func init() {
	RegisterFactory(ProviderAnthropic, newAnthropicProviderFromConfig, validateAnthropicConfig, anthropicCredentialStatus)
}

type anthropicProvider struct {
	client       anthropic.Client
	defaultModel string
}

func validateAnthropicConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if strings.TrimSpace(cfg.Providers.Anthropic.APIKey) == "" {
		return fmt.Errorf("Anthropic API key is required (set providers.anthropic.api_key or HOMEAGENT_PROVIDERS_ANTHROPIC_API_KEY)")
	}
	return nil
}

func anthropicCredentialStatus(cfg *config.Config) (bool, string) {
	if cfg == nil {
		return false, ""
	}
	return apiKeyStatus(cfg.Providers.Anthropic.APIKey)
}

func newAnthropicProviderFromConfig(cfg *config.Config) (LLMProvider, error) {
	if err := validateAnthropicConfig(cfg); err != nil {
		return nil, err
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.Providers.Anthropic.APIKey)),
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.Providers.Anthropic.APIBase); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	if client, err := proxiedHTTPClient(ProviderAnthropic, cfg.Providers.Anthropic.Proxy); err != nil {
		return nil, err
	} else if client != nil {
		opts = append(opts, option.WithHTTPClient(client))
	}

	return &anthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: defaultAnthropicModel,
	}, nil
}

func (p *anthropicProvider) Chat(ctx context.Context, messages []Message, model string, options map[string]interface{}) (*LLMResponse, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := defaultAnthropicMaxTokens
	if v, ok := optionAsInt(options, "max_tokens"); ok && v > 0 {
		maxTokens = v
	}

	var system []anthropic.TextBlockParam
	turns := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		case "assistant":
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  turns,
		MaxTokens: int64(maxTokens),
	}
	if len(system) > 0 {
		params.System = system
	}
	if temperature, ok := optionAsFloat(options, "temperature"); ok {
		params.Temperature = anthropic.Float(temperature)
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, NewStatusError(ProviderAnthropic, apiErr.StatusCode, apiErr.Error(), err)
		}
		return nil, classifyTransportError(ProviderAnthropic, err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &LLMResponse{
		Content:      text.String(),
		FinishReason: string(resp.StopReason),
		Usage: &UsageInfo{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}, nil
}

func (p *anthropicProvider) GetDefaultModel() string { return p.defaultModel }

func (p *anthropicProvider) Name() string { return ProviderAnthropic }
