package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// BedrockProvider calls an Anthropic-family model hosted on Amazon
// Bedrock via InvokeModel. Grounded on the teacher's LLMRouterConfig
// BedrockRegion/BedrockModel fields; generalized into its own Provider.
type BedrockProvider struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrockProvider loads the default AWS config for region and
// constructs a bedrockruntime client bound to modelID.
func NewBedrockProvider(ctx context.Context, region, modelID string) (*BedrockProvider, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("llm: load aws config: %w", err)
	}
	return &BedrockProvider{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
	}, nil
}

func (b *BedrockProvider) Name() string { return "bedrock" }

// anthropicRequest is the Bedrock-flavored Anthropic Messages API body.
type anthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	Temperature      float64            `json:"temperature,omitempty"`
	Messages         []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (b *BedrockProvider) Query(ctx context.Context, prompt string, opts Options) (*Response, error) {
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}

	body, err := json.Marshal(anthropicRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		Temperature:      opts.Temperature,
		Messages:         []anthropicMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("llm: marshal bedrock request: %w", err)
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: bedrock invoke: %w", err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(out.Body, &parsed); err != nil {
		return nil, fmt.Errorf("llm: unmarshal bedrock response: %w", err)
	}

	var text string
	if len(parsed.Content) > 0 {
		text = parsed.Content[0].Text
	}

	return &Response{
		Content:      text,
		Provider:     b.Name(),
		Model:        b.modelID,
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
	}, nil
}

// IsHealthy is a cheap liveness signal; Bedrock has no lightweight ping
// endpoint, so a constructed client is considered healthy until a call
// fails. Workers treat query errors as transient and rely on the retry
// policy rather than on this flag alone.
func (b *BedrockProvider) IsHealthy() bool {
	return b.client != nil
}
