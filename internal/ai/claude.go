package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/nhle/mailpipe/internal/breaker"
)

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 512
	defaultTimeout   = 20 * time.Second
	apiURL           = "https://api.anthropic.com/v1/messages"
	apiVersion       = "2023-06-01"
)

const classifySystem = `You label email for a triage inbox.
Answer with a single JSON object and nothing else:
{"label": "<URGENT|IMPORTANT|TASK|PROMOTION|SPAM|GRAY>", "confidence": <0..1>}
URGENT needs action now. IMPORTANT matters but can wait. TASK asks the reader
to do something. PROMOTION is marketing. SPAM is unsolicited junk. GRAY is
everything else.`

const summarizeSystem = `Summarize the email in at most two plain sentences.
Do not add a preamble.`

// ClaudeOptions configures the Claude Messages API client.
type ClaudeOptions struct {
	Model             string
	MaxTokens         int
	Timeout           time.Duration
	RequestsPerSecond float64

	// Endpoint overrides the API URL.
	Endpoint   string
	HTTPClient *http.Client
	Logger     *log.Logger
}

// Claude is a Capability backed by the Anthropic Messages API.
type Claude struct {
	apiKey    string
	model     string
	maxTokens int
	endpoint  string
	client    *http.Client
	limiter   *rate.Limiter
	breaker   *breaker.Breaker
}

var _ Capability = (*Claude)(nil)

// NewClaude creates a client. Zero option values take defaults.
func NewClaude(apiKey string, opts ClaudeOptions) *Claude {
	if opts.Model == "" {
		opts.Model = defaultModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Endpoint == "" {
		opts.Endpoint = apiURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &Claude{
		apiKey:    apiKey,
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
		endpoint:  opts.Endpoint,
		client:    opts.HTTPClient,
		limiter:   rate.NewLimiter(limit, 1),
		breaker:   breaker.New("claude-api", opts.Logger),
	}
}

// Classify asks the model for a label. Unparseable answers are reported
// as CapabilityUnavailableError.
func (c *Claude) Classify(ctx context.Context, in Input) (Classification, error) {
	prompt := fmt.Sprintf("From: %s\nSubject: %s\n\n%s", in.Sender, in.Subject, in.Content)

	text, err := c.complete(ctx, classifySystem, prompt)
	if err != nil {
		return Classification{}, &CapabilityUnavailableError{Op: "classify", Err: err}
	}

	cls, err := ParseClassification(text)
	if err != nil {
		return Classification{}, &CapabilityUnavailableError{Op: "classify", Err: err}
	}
	return cls, nil
}

// Summarize asks the model for a short summary.
func (c *Claude) Summarize(ctx context.Context, text string) (string, error) {
	out, err := c.complete(ctx, summarizeSystem, text)
	if err != nil {
		return "", &CapabilityUnavailableError{Op: "summarize", Err: err}
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", &CapabilityUnavailableError{Op: "summarize", Err: errors.New("empty summary")}
	}
	return out, nil
}

// Rewrite asks the model to restyle text in the given tone.
func (c *Claude) Rewrite(ctx context.Context, text string, tone Tone) (string, error) {
	system := fmt.Sprintf(
		"Rewrite the user's email in a %s tone. Keep the meaning. Reply with the rewritten email only.",
		tone,
	)
	out, err := c.complete(ctx, system, text)
	if err != nil {
		return "", &CapabilityUnavailableError{Op: "rewrite", Err: err}
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", &CapabilityUnavailableError{Op: "rewrite", Err: errors.New("empty rewrite")}
	}
	return out, nil
}

// complete sends one user turn and returns the concatenated text blocks.
func (c *Claude) complete(ctx context.Context, system, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	var resp *apiResponse
	err := c.breaker.Do(func() error {
		var err error
		resp, err = c.callAPI(ctx, system, prompt)
		return err
	}, func(err error) bool {
		return !errors.Is(err, context.Canceled)
	})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

// callAPI makes a single request to the Claude Messages API.
func (c *Claude) callAPI(ctx context.Context, system, prompt string) (*apiResponse, error) {
	reqBody := apiRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    system,
		Messages: []apiMessage{{
			Role:    "user",
			Content: []apiContentBlock{{Type: "text", Text: prompt}},
		}},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.endpoint, bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling Claude API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result apiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return &result, nil
}

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	System    string       `json:"system,omitempty"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string            `json:"role"`
	Content []apiContentBlock `json:"content"`
}

type apiContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type apiResponse struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Role       string            `json:"role"`
	Content    []apiContentBlock `json:"content"`
	Model      string            `json:"model"`
	StopReason string            `json:"stop_reason"`
}

type apiErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
