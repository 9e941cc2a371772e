package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dotsetgreg/homeagent/pkg/config"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

func init() {
	RegisterFactory(ProviderGemini, newGeminiProviderFromConfig, validateGeminiConfig, geminiCredentialStatus)
}

type geminiProvider struct {
	client       *genai.Client
	defaultModel string
}

func validateGeminiConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if strings.TrimSpace(cfg.Providers.Gemini.APIKey) == "" {
		return fmt.Errorf("Gemini API key is required (set providers.gemini.api_key or HOMEAGENT_PROVIDERS_GEMINI_API_KEY)")
	}
	return nil
}

func geminiCredentialStatus(cfg *config.Config) (bool, string) {
	if cfg == nil {
		return false, ""
	}
	return apiKeyStatus(cfg.Providers.Gemini.APIKey)
}

func newGeminiProviderFromConfig(cfg *config.Config) (LLMProvider, error) {
	if err := validateGeminiConfig(cfg); err != nil {
		return nil, err
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.Providers.Gemini.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if base := strings.TrimSpace(cfg.Providers.Gemini.APIBase); base != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}
	if client, err := proxiedHTTPClient(ProviderGemini, cfg.Providers.Gemini.Proxy); err != nil {
		return nil, err
	} else if client != nil {
		clientCfg.HTTPClient = client
	}

	client, err := genai.NewClient(context.Background(), clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &geminiProvider{client: client, defaultModel: defaultGeminiModel}, nil
}

func (p *geminiProvider) Chat(ctx context.Context, messages []Message, model string, options map[string]interface{}) (*LLMResponse, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		model = p.defaultModel
	}

	genCfg := &genai.GenerateContentConfig{}
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			system = append(system, msg.Content)
		case "assistant":
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}
	if len(system) > 0 {
		genCfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	if temperature, ok := optionAsFloat(options, "temperature"); ok {
		genCfg.Temperature = genai.Ptr(float32(temperature))
	}
	if maxTokens, ok := optionAsInt(options, "max_tokens"); ok {
		genCfg.MaxOutputTokens = int32(maxTokens)
	}
	if jsonMode, _ := options["json"].(bool); jsonMode {
		genCfg.ResponseMIMEType = "application/json"
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, genCfg)
	if err != nil {
		return nil, classifyGeminiError(err)
	}
	return &LLMResponse{Content: resp.Text(), FinishReason: "stop"}, nil
}

func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return NewStatusError(ProviderGemini, apiErr.Code, apiErr.Message, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return NewStatusError(ProviderGemini, apiErrPtr.Code, apiErrPtr.Message, err)
	}
	return classifyTransportError(ProviderGemini, err)
}

func (p *geminiProvider) GetDefaultModel() string { return p.defaultModel }

func (p *geminiProvider) Name() string { return ProviderGemini }
