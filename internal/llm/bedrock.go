package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/google/uuid"
)

// BedrockClient classifies messages with an Anthropic model on AWS Bedrock.
// All traffic stays inside AWS, which matters for mailboxes that cannot
// leave the account boundary.
type BedrockClient struct {
	client  *bedrockruntime.Client
	modelID string
	timeout time.Duration
}

type bedrockMessage struct {
	Role    string                `json:"role"`
	Content []bedrockContentBlock `json:"content"`
}

type bedrockContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	Temperature      float64          `json:"temperature"`
}

type bedrockResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// NewBedrockClient loads the default AWS config for region and targets
// modelID. Empty modelID defaults to Claude 3 Haiku, which is fast and cheap
// enough for per-message classification.
func NewBedrockClient(ctx context.Context, region, modelID string, timeout time.Duration) (*BedrockClient, error) {
	if region == "" {
		region = "us-east-1"
	}
	if modelID == "" {
		modelID = "anthropic.claude-3-haiku-20240307-v1:0"
	}
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("llm: loading AWS config: %w", err)
	}

	log.Printf("BedrockClient: initialized with model=%s, region=%s", modelID, region)
	return &BedrockClient{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
		timeout: timeout,
	}, nil
}

// ClassifyOne invokes the model once for one message.
func (b *BedrockClient) ClassifyOne(ctx context.Context, req Request) (RawVerdict, error) {
	requestID := uuid.NewString()[:8]
	prompt, err := userPrompt(req)
	if err != nil {
		return RawVerdict{}, err
	}

	if Disabled() {
		log.Printf("[LLM BLOCKED] feature=email_classification request_id=%s reason=DISABLE_LLM prompt_chars=%d",
			requestID, len(prompt))
		return RawVerdict{}, ErrDisabled
	}

	payload := bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        512,
		System:           SystemPrompt,
		Messages: []bedrockMessage{
			{Role: "user", Content: []bedrockContentBlock{{Type: "text", Text: prompt}}},
		},
		Temperature: 0,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return RawVerdict{}, fmt.Errorf("llm: encoding bedrock request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	log.Printf("[LLM START] feature=email_classification request_id=%s model=%s", requestID, b.modelID)
	started := time.Now()

	out, err := b.client.InvokeModel(callCtx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Body:        encoded,
	})
	if err != nil {
		log.Printf("[LLM ERROR] feature=email_classification request_id=%s latency_ms=%d reason=%v",
			requestID, latencyMS(started), err)
		return RawVerdict{}, &TransportError{Err: err}
	}

	var reply bedrockResponse
	if err := json.Unmarshal(out.Body, &reply); err != nil {
		return RawVerdict{}, &TransportError{Err: fmt.Errorf("decoding bedrock response: %w", err)}
	}

	text := ""
	for _, block := range reply.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	log.Printf("[LLM END] feature=email_classification request_id=%s latency_ms=%d prompt_chars=%d input_tokens=%d output_tokens=%d",
		requestID, latencyMS(started), len(prompt), reply.Usage.InputTokens, reply.Usage.OutputTokens)

	return parseVerdict(text)
}
