package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/offertracker/internal/pkg/httpretry"
)

// OpenAIClient speaks the OpenAI Responses API (or any compatible endpoint
// reachable at baseURL).
type OpenAIClient struct {
	httpClient httpretry.HTTPDoer
	baseURL    string
	apiKey     string
	model      string
	timeout    time.Duration
}

// NewOpenAIClient builds a client against baseURL with a bounded-retry HTTP
// transport. A zero timeout defaults to 60s.
func NewOpenAIClient(baseURL, apiKey, model string, timeout time.Duration) *OpenAIClient {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIClient{
		httpClient: httpretry.NewRetryClient(&http.Client{Timeout: timeout}, 3),
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		timeout:    timeout,
	}
}

type responsesRequest struct {
	Model       string             `json:"model"`
	Temperature float64            `json:"temperature"`
	Text        responsesTextOpts  `json:"text"`
	Input       []responsesMessage `json:"input"`
}

type responsesTextOpts struct {
	Format responsesTextFormat `json:"format"`
}

type responsesTextFormat struct {
	Type string `json:"type"`
}

type responsesMessage struct {
	Role    string             `json:"role"`
	Content []responsesContent `json:"content"`
}

type responsesContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// responsesReply tolerates both the Responses API output shape and the
// legacy chat-completions shape, since compatible gateways vary.
type responsesReply struct {
	OutputText string `json:"output_text"`
	Output     []struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (r responsesReply) text() string {
	if strings.TrimSpace(r.OutputText) != "" {
		return r.OutputText
	}
	var chunks []string
	for _, item := range r.Output {
		for _, part := range item.Content {
			if part.Text != "" {
				chunks = append(chunks, part.Text)
			}
		}
	}
	if len(chunks) > 0 {
		return strings.Join(chunks, "\n")
	}
	if len(r.Choices) > 0 {
		return r.Choices[0].Message.Content
	}
	return ""
}

// ClassifyOne sends one message for classification. Rate limiting and
// server errors surface as typed errors so the caller can degrade
// per-message instead of failing the run.
func (c *OpenAIClient) ClassifyOne(ctx context.Context, req Request) (RawVerdict, error) {
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
	if c.apiKey == "" {
		return RawVerdict{}, &TransportError{Err: fmt.Errorf("missing API key")}
	}

	body := responsesRequest{
		Model:       c.model,
		Temperature: 0,
		Text:        responsesTextOpts{Format: responsesTextFormat{Type: "json_object"}},
		Input: []responsesMessage{
			{Role: "system", Content: []responsesContent{{Type: "input_text", Text: SystemPrompt}}},
			{Role: "user", Content: []responsesContent{{Type: "input_text", Text: prompt}}},
		},
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return RawVerdict{}, fmt.Errorf("llm: encoding request body: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(encoded))
	if err != nil {
		return RawVerdict{}, fmt.Errorf("llm: building request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	log.Printf("[LLM START] feature=email_classification request_id=%s model=%s", requestID, c.model)
	started := time.Now()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		log.Printf("[LLM ERROR] feature=email_classification request_id=%s latency_ms=%d reason=%v",
			requestID, latencyMS(started), err)
		return RawVerdict{}, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return RawVerdict{}, &TransportError{Err: err}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		log.Printf("[LLM ERROR] feature=email_classification request_id=%s latency_ms=%d status=429",
			requestID, latencyMS(started))
		return RawVerdict{}, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		log.Printf("[LLM ERROR] feature=email_classification request_id=%s latency_ms=%d status=%d",
			requestID, latencyMS(started), resp.StatusCode)
		return RawVerdict{}, &TransportError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(raw))),
		}
	}

	var reply responsesReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return RawVerdict{}, &TransportError{Err: fmt.Errorf("decoding response: %w", err)}
	}

	log.Printf("[LLM END] feature=email_classification request_id=%s latency_ms=%d prompt_chars=%d input_tokens=%d output_tokens=%d",
		requestID, latencyMS(started), len(prompt), reply.Usage.InputTokens, reply.Usage.OutputTokens)

	return parseVerdict(reply.text())
}
