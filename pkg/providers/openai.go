package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/dotsetgreg/homeagent/pkg/config"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenAIModel = "gpt-4o-mini"

func init() {
	RegisterFactory(ProviderOpenAI, newOpenAIProviderFromConfig, validateOpenAIConfig, openAICredentialStatus)
}

type openAIProvider struct {
	client       openai.Client
	defaultModel string
}

func validateOpenAIConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if strings.TrimSpace(cfg.Providers.OpenAI.APIKey) == "" {
		return fmt.Errorf("OpenAI API key is required (set providers.openai.api_key or HOMEAGENT_PROVIDERS_OPENAI_API_KEY)")
	}
	return nil
}

func openAICredentialStatus(cfg *config.Config) (bool, string) {
	if cfg == nil {
		return false, ""
	}
	return apiKeyStatus(cfg.Providers.OpenAI.APIKey)
}

func newOpenAIProviderFromConfig(cfg *config.Config) (LLMProvider, error) {
	if err := validateOpenAIConfig(cfg); err != nil {
		return nil, err
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.Providers.OpenAI.APIKey)),
		// Retries are owned by the intent adapter.
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.Providers.OpenAI.APIBase); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	if client, err := proxiedHTTPClient(ProviderOpenAI, cfg.Providers.OpenAI.Proxy); err != nil {
		return nil, err
	} else if client != nil {
		opts = append(opts, option.WithHTTPClient(client))
	}

	return &openAIProvider{
		client:       openai.NewClient(opts...),
		defaultModel: defaultOpenAIModel,
	}, nil
}

func (p *openAIProvider) Chat(ctx context.Context, messages []Message, model string, options map[string]interface{}) (*LLMResponse, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		model = p.defaultModel
	}

	params := openai.ChatCompletionNewParams{
		Messages: toOpenAIMessages(messages),
		Model:    openai.ChatModel(model),
	}
	if maxTokens, ok := optionAsInt(options, "max_tokens"); ok {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}
	if temperature, ok := optionAsFloat(options, "temperature"); ok {
		params.Temperature = openai.Float(temperature)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, NewStatusError(ProviderOpenAI, apiErr.StatusCode, apiErr.Error(), err)
		}
		return nil, classifyTransportError(ProviderOpenAI, err)
	}
	if len(resp.Choices) == 0 {
		return &LLMResponse{Content: "", FinishReason: "stop"}, nil
	}

	choice := resp.Choices[0]
	return &LLMResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: &UsageInfo{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

func (p *openAIProvider) GetDefaultModel() string { return p.defaultModel }

func (p *openAIProvider) Name() string { return ProviderOpenAI }

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			out = append(out, openai.SystemMessage(msg.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

func proxiedHTTPClient(providerName, proxy string) (*http.Client, error) {
	proxy = strings.TrimSpace(proxy)
	if proxy == "" {
		return nil, nil
	}
	proxyURL, err := url.Parse(proxy)
	if err != nil {
		return nil, fmt.Errorf("parse %s proxy: %w", providerName, err)
	}
	return &http.Client{
		Timeout:   defaultHTTPTimeout,
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
	}, nil
}
