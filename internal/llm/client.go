// Package llm talks to the Anthropic Messages API for configuration
// selection and agent resolution plans.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-dispatch/internal/domain"
)

const (
	defaultBaseURL      = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"
	defaultModel        = "claude-sonnet-4-5-20250929"
	maxTokens           = 1024
)

// Client is a minimal Messages API client.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another endpoint.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client. An empty model selects the default.
func NewClient(apiKey, model string, timeout time.Duration, logger *zap.Logger, opts ...Option) *Client {
	if model == "" {
		model = defaultModel
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("llm"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type messageRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messageResponse struct {
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

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(messageRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  []message{{Role: "user", Content: user}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return "", fmt.Errorf("anthropic api error (%d): %s - %s", resp.StatusCode, apiErr.Error.Type, apiErr.Error.Message)
		}
		return "", fmt.Errorf("anthropic api error (%d): %s", resp.StatusCode, string(raw))
	}

	var parsed messageResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Content) == 0 {
		return "", fmt.Errorf("empty response")
	}
	c.logger.Debug("completion received",
		zap.Int("input_tokens", parsed.Usage.InputTokens),
		zap.Int("output_tokens", parsed.Usage.OutputTokens))
	return parsed.Content[0].Text, nil
}

// extractJSON cuts the outermost object out of text that may be wrapped
// in a markdown code block.
func extractJSON(text string) string {
	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			return text[start : end+1]
		}
	}
	return text
}

const selectSystemPrompt = `Du ordnest Support-Tickets einem Eintrag aus einem Konfigurationskatalog zu.
Antworte ausschließlich mit JSON: {"index": <Nummer des passenden Eintrags>, "reason": "..."}.
Passt kein Eintrag, antworte mit {"index": -1, "reason": "..."}.`

// SelectConfiguration asks the model which item explains the ticket.
func (c *Client) SelectConfiguration(ctx context.Context, ticket *domain.Ticket, items []*domain.ConfigurationItem) (*domain.ConfigurationItem, error) {
	if len(items) == 0 {
		return nil, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Ticket:\nTitel: %s\nBeschreibung: %s\n\nKatalog:\n", ticket.Title, ticket.Description)
	for i, item := range items {
		fmt.Fprintf(&b, "%d. [%s] %s - %s", i, item.Type, item.Name, item.Description)
		if len(item.PotentialIssues) > 0 {
			fmt.Fprintf(&b, " (Symptome: %s)", strings.Join(item.PotentialIssues, "; "))
		}
		b.WriteString("\n")
	}

	text, err := c.complete(ctx, selectSystemPrompt, b.String())
	if err != nil {
		return nil, err
	}
	var pick struct {
		Index  int    `json:"index"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), &pick); err != nil {
		return nil, fmt.Errorf("parse selection: %w", err)
	}
	if pick.Index < 0 || pick.Index >= len(items) {
		return nil, nil
	}
	c.logger.Debug("configuration selected",
		zap.String("ticket_id", ticket.ID),
		zap.String("item", items[pick.Index].Key()),
		zap.String("reason", pick.Reason))
	return items[pick.Index], nil
}

const planSystemPrompt = `Du bist %s, ein Agent im Kundensupport. Erstelle einen Lösungsplan für das Ticket.
Antworte ausschließlich mit JSON:
{"status": "investigating|waiting_customer|resolved", "summary": "...",
 "actions": [{"type": "autopatch_plan|supabase_query|hetzner_command|ux_update|manual_followup", "description": "...", "fixId": "..."}]}`

// GeneratePlan asks the model for a resolution plan.
func (c *Client) GeneratePlan(ctx context.Context, req domain.PlanRequest) (domain.ResolutionPlan, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticket %s\nTitel: %s\nBeschreibung: %s\nStatus: %s\nPriorität: %s\n",
		req.Ticket.ID, req.Ticket.Title, req.Ticket.Description, req.Ticket.Status, req.Ticket.Priority)
	if len(req.Knowledge) > 0 {
		b.WriteString("\nWissensbasis:\n")
		for _, k := range req.Knowledge {
			b.WriteString("- " + k + "\n")
		}
	}

	text, err := c.complete(ctx, fmt.Sprintf(planSystemPrompt, req.Agent), b.String())
	if err != nil {
		return domain.ResolutionPlan{}, err
	}
	var plan domain.ResolutionPlan
	if err := json.Unmarshal([]byte(extractJSON(text)), &plan); err != nil {
		return domain.ResolutionPlan{}, fmt.Errorf("parse plan: %w", err)
	}
	if plan.Status == "" {
		plan.Status = domain.TicketStatusInvestigating
	}
	return plan, nil
}
