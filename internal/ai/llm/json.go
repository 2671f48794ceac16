package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"fx-scalper-bot/internal/logging"
	"fx-scalper-bot/internal/metrics"
)

// ErrMalformedOutput is returned when the model keeps producing
// unparseable output after every repair attempt.
var ErrMalformedOutput = errors.New("llm output not valid JSON after repairs")

var codeBlockRe = regexp.MustCompile("(?s)^```(?:json)?\\s*\\n?(.*?)\\n?```$")

// stripMarkdownCodeBlock removes markdown code block formatting from LLM responses
// Handles formats like: ```json\n{...}\n``` or ```\n{...}\n```
func stripMarkdownCodeBlock(response string) string {
	response = strings.TrimSpace(response)
	if matches := codeBlockRe.FindStringSubmatch(response); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}
	return response
}

const repairPrompt = "Your previous reply was not valid JSON matching the requested schema. " +
	"Reply again with ONLY the JSON object, no prose, no markdown fences."

// CompleteJSON runs a completion and unmarshals the reply into out.
// Transport failures are retried up to MaxRetries with a short backoff;
// malformed JSON triggers up to MaxRepairs re-prompts carrying the
// model's own reply. agent labels the call for metrics.
func (c *Client) CompleteJSON(ctx context.Context, agent, systemPrompt, userPrompt string, out interface{}) error {
	log := logging.WithComponent("llm")

	var response string
	var err error
	for attempt := 0; ; attempt++ {
		response, err = c.Complete(ctx, systemPrompt, userPrompt)
		if err == nil {
			break
		}
		if attempt >= c.config.MaxRetries || ctx.Err() != nil {
			metrics.LLMCalls.WithLabelValues(agent, "transport_error").Inc()
			return fmt.Errorf("llm call failed after %d attempts: %w", attempt+1, err)
		}
		log.Warn("llm call failed, retrying", "agent", agent, "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			metrics.LLMCalls.WithLabelValues(agent, "transport_error").Inc()
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * time.Second):
		}
	}

	messages := []Message{{Role: "user", Content: userPrompt}}
	for repair := 0; ; repair++ {
		clean := stripMarkdownCodeBlock(response)
		if err := json.Unmarshal([]byte(clean), out); err == nil {
			metrics.LLMCalls.WithLabelValues(agent, "ok").Inc()
			return nil
		}

		if repair >= c.config.MaxRepairs || ctx.Err() != nil {
			metrics.LLMCalls.WithLabelValues(agent, "malformed").Inc()
			return ErrMalformedOutput
		}

		log.Warn("llm output malformed, re-prompting", "agent", agent, "repair", repair+1)
		messages = append(messages,
			Message{Role: "assistant", Content: response},
			Message{Role: "user", Content: repairPrompt},
		)
		response, err = c.CompleteMessages(ctx, systemPrompt, messages)
		if err != nil {
			metrics.LLMCalls.WithLabelValues(agent, "transport_error").Inc()
			return fmt.Errorf("llm repair call failed: %w", err)
		}
	}
}
