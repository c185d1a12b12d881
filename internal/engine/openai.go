package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

var (
	_ Generator = (*OpenAI)(nil)
	_ Embedder  = (*OpenAI)(nil)
)

// OpenAIOptions configures an OpenAI-compatible backend.
type OpenAIOptions struct {
	APIKey     string
	BaseURL    string
	ChatModel  string
	EmbedModel string
	Dimensions int
}

// OpenAI uses the official SDK against api.openai.com or any compatible
// server reachable at BaseURL.
type OpenAI struct {
	client     openai.Client
	chatModel  string
	embedModel string
	dims       int
}

// NewOpenAI creates an OpenAI backend. An empty API key is a configuration
// error since every request would be rejected.
func NewOpenAI(opts OpenAIOptions) (*OpenAI, error) {
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(key)}
	if trimmed := strings.TrimRight(opts.BaseURL, "/"); trimmed != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(trimmed))
	}
	// Retries would outlive the per-call timeouts the caller sets.
	reqOpts = append(reqOpts, option.WithMaxRetries(0))

	return &OpenAI{
		client:     openai.NewClient(reqOpts...),
		chatModel:  opts.ChatModel,
		embedModel: opts.EmbedModel,
		dims:       opts.Dimensions,
	}, nil
}

func (o *OpenAI) Name() string { return "openai/" + o.chatModel + "+" + o.embedModel }

func (o *OpenAI) Dimensions() int { return o.dims }

// Chat sends a chat completion request. A schema is translated to a strict
// json_schema response format.
func (o *OpenAI) Chat(ctx context.Context, messages []Message, jsonSchema *Schema) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.chatModel),
		Messages: toOpenAIMessages(messages),
	}
	if jsonSchema != nil {
		raw, err := schemaMap(jsonSchema)
		if err != nil {
			return "", err
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "response",
					Schema: raw,
					Strict: openai.Bool(false),
				},
			},
		}
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai chat: %w: %w", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat: %w: no choices returned", ErrUnavailable)
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed requests one embedding with the configured dimension count.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(o.embedModel),
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	}
	if o.dims > 0 {
		params.Dimensions = openai.Int(int64(o.dims))
	}

	resp, err := o.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w: %w", ErrUnavailable, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embed: %w: empty data", ErrUnavailable)
	}
	src := resp.Data[0].Embedding
	vec := make([]float32, len(src))
	for i, f := range src {
		vec[i] = float32(f)
	}
	return vec, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func schemaMap(s *Schema) (map[string]any, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decoding schema: %w", err)
	}
	return m, nil
}
