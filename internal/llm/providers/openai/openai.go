// internal/llm/providers/openai/openai.go
package openai

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/Corphon/StoryReel/internal/errors"
	"github.com/Corphon/StoryReel/internal/llm"
	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

func init() {
	llm.Register("openai", func() llm.Provider {
		return &Provider{defaultModel: openai.ChatModelGPT4oMini}
	})
}

// Provider talks to the chat completions API, with strict JSON schema output when requested.
type Provider struct {
	client       openai.Client
	defaultModel string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey := config["api_key"]
	if apiKey == "" {
		return errors.New("openai api key not configured")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := config["base_url"]; baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model := config["model"]; model != "" {
		p.defaultModel = model
	}

	p.client = openai.NewClient(opts...)
	return nil
}

func (p *Provider) GetName() string {
	return "openai"
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(float64(req.Temperature))
	}
	if req.Schema != nil {
		schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
			Name:        req.Schema.Name,
			Description: openai.String(req.Schema.Description),
			Schema:      req.Schema.Schema,
			Strict:      openai.Bool(true),
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{JSONSchema: schemaParam},
		}
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}
	if len(completion.Choices) == 0 {
		return nil, apperrors.NewTransientProviderError("openai returned no choices", nil)
	}

	choice := completion.Choices[0]
	return &llm.CompletionResponse{
		Text:         choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		PromptTokens: int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
		ModelName:    completion.Model,
		ProviderName: p.GetName(),
	}, nil
}

// classify maps SDK errors onto the provider error taxonomy.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apperrors.ClassifyHTTPStatus("openai", apiErr.StatusCode, fmt.Sprintf("%s: %s", apiErr.Code, apiErr.Message))
	}
	return apperrors.ClassifyTransportError("openai", err)
}
