// Package llm adapts the Anthropic Messages API to the narrow oracle
// interface the self-healing extractor needs: given a broken selector's
// semantic and the page DOM, produce a replacement selector. Nothing else in
// the system talks to an LLM directly.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
)

// RepairRequest is the input to a selector-repair call.
type RepairRequest struct {
	Semantic    string
	OldSelector string
	DOM         string
	URL         string
	TenantID    string
	MaxDOMSize  int
	DeadlineMs  int
}

const truncationMarker = "\n...[truncated]"

const repairSystemPrompt = "You are a CSS selector repair tool. Given a semantic description of what data a selector should match, the selector that stopped working, and the current page HTML, respond with ONLY a single CSS selector that matches the described data. Do not include explanation, markdown formatting, or code fences. Output nothing but the selector."

// Oracle is the interface the self-healing extractor depends on; production
// code uses AnthropicOracle, tests use a fake.
type Oracle interface {
	RepairSelector(ctx context.Context, req RepairRequest) (string, error)
}

// AnthropicOracle implements Oracle against the Anthropic Messages API.
type AnthropicOracle struct {
	client *anthropic.Client
	model  anthropic.Model
}

// NewAnthropicOracle builds an oracle using the given model identifier
// (e.g. "claude-haiku-4-5"). The client picks up its API key from the
// environment the way anthropic.NewClient() always does.
func NewAnthropicOracle(model string) *AnthropicOracle {
	client := anthropic.NewClient()
	return &AnthropicOracle{client: &client, model: anthropic.Model(model)}
}

// RepairSelector asks the model for a replacement selector. It does not
// validate or apply the result — that is the selfheal state machine's job.
func (o *AnthropicOracle) RepairSelector(ctx context.Context, req RepairRequest) (string, error) {
	maxDOM := req.MaxDOMSize
	if maxDOM <= 0 {
		maxDOM = 50000
	}
	dom := req.DOM
	if len(dom) > maxDOM {
		dom = dom[:maxDOM] + truncationMarker
	}

	deadline := time.Duration(req.DeadlineMs) * time.Millisecond
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	prompt := fmt.Sprintf(
		"Semantic: %s\nBroken selector: %s\nURL: %s\nTenant: %s\nDOM:\n%s",
		req.Semantic, req.OldSelector, req.URL, req.TenantID, dom,
	)

	msg, err := o.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       o.model,
		MaxTokens:   200,
		Temperature: anthropic.Float(0.1),
		System: []anthropic.TextBlockParam{
			{Text: repairSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("llm: repair selector: %w", err)
	}

	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("llm: no text block in repair response")
}
