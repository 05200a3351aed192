package llm

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"codelens-ci/internal/telemetry"
)

// Message is one transcript entry: who spoke and what they said. Tool output
// is recorded as a message from the executor speaker, which keeps the wire
// conversation valid regardless of which role speaks next.
type Message struct {
	Speaker string
	Content string
}

// ToolSpec declares one callable tool the model may invoke.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ToolCall is one invocation the model requested before its next turn.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Turn is the reasoning capability's response: content, possibly tool calls
// to execute before the conversation continues.
type Turn struct {
	Content   string
	ToolCalls []ToolCall
}

// Reasoner produces the next turn for a named speaker given the transcript
// so far. Implementations are synchronous; the caller bounds each call with
// a context deadline.
type Reasoner interface {
	NextTurn(ctx context.Context, systemPrompt, speaker string, transcript []Message, tools []ToolSpec) (Turn, error)
}

// Client is the OpenAI-compatible Reasoner. Pointing BaseURL at Gemini's
// OpenAI endpoint works too; only the chat-completions surface is used.
type Client struct {
	client *openai.Client
	model  string
}

// NewClient builds a chat client. baseURL may be empty for api.openai.com.
func NewClient(apiKey, baseURL, model string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm api key is not set")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

// NextTurn implements Reasoner. The speaker's own prior messages replay as
// assistant turns; everyone else's are labeled user turns, so a single
// completion endpoint can play every pipeline role.
func (c *Client) NextTurn(ctx context.Context, systemPrompt, speaker string, transcript []Message, tools []ToolSpec) (Turn, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(transcript)+1)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, m := range transcript {
		if m.Speaker == speaker {
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: m.Content,
			})
			continue
		}
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: fmt.Sprintf("[%s] %s", m.Speaker, m.Content),
		})
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: 0,
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	telemetry.LLMTurns.Inc()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Turn{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Turn{}, fmt.Errorf("chat completion returned no choices")
	}

	choice := resp.Choices[0].Message
	turn := Turn{Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		turn.ToolCalls = append(turn.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return turn, nil
}
