package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/vikashloomba/mcphub-go/pkg/conversation"
	"github.com/vikashloomba/mcphub-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcphub-go/pkg/toolrouter"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

type chatRequest struct {
	Model      string        `json:"model"`
	Messages   []chatMessage `json:"messages"`
	Tools      []chatTool    `json:"tools,omitempty"`
	ToolChoice string        `json:"tool_choice,omitempty"`
	MaxTokens  int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    *string        `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatTool struct {
	Type     string          `json:"type"`
	Function chatFunctionDef `json:"function"`
}

type chatFunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// OpenAI talks to an OpenAI-compatible /chat/completions endpoint.
type OpenAI struct {
	cfg Config
}

// NewOpenAI returns an OpenAI-compatible model client.
func NewOpenAI(cfg Config) *OpenAI {
	cfg = cfg.withDefaults()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OpenAI{cfg: cfg}
}

// Decide implements conversation.Model.
func (m *OpenAI) Decide(ctx context.Context, history []conversation.Turn, tools []mcpmgr.ToolDescriptor) (conversation.Decision, error) {
	names := newToolNames(tools)
	req := chatRequest{
		Model:     m.cfg.ModelID,
		Messages:  openAIMessages(m.cfg.SystemPrompt, history),
		MaxTokens: m.cfg.MaxTokens,
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, chatTool{
			Type: "function",
			Function: chatFunctionDef{
				Name:        wireName(t.QualifiedName),
				Description: t.Description,
				Parameters:  inputSchema(t),
			},
		})
	}
	if len(req.Tools) > 0 {
		req.ToolChoice = "auto"
	}

	body, err := json.Marshal(req)
	if err != nil {
		return conversation.Decision{}, fmt.Errorf("llm: marshal request: %w", err)
	}
	resp, err := doWithRetry(ctx, m.cfg.Retry, func(ctx context.Context) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if m.cfg.APIKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
		}
		return m.cfg.HTTPClient.Do(httpReq)
	})
	if err != nil {
		return conversation.Decision{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return conversation.Decision{}, apiError(m.cfg.Provider, resp)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return conversation.Decision{}, fmt.Errorf("llm: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return conversation.Decision{}, fmt.Errorf("llm: %s returned no choices", m.cfg.Provider)
	}
	msg := out.Choices[0].Message
	if len(msg.ToolCalls) > 0 {
		call := msg.ToolCalls[0]
		args, err := parseArguments(call.Function.Arguments)
		return conversation.Decision{ToolCall: &toolrouter.Invocation{
			Name:           names.qualified(call.Function.Name),
			Arguments:      args,
			ArgumentsError: err,
		}}, nil
	}
	if msg.Content == nil {
		return conversation.Decision{FinalAnswer: "No response from model."}, nil
	}
	return conversation.Decision{FinalAnswer: *msg.Content}, nil
}

func openAIMessages(system string, history []conversation.Turn) []chatMessage {
	msgs := []chatMessage{{Role: "system", Content: &system}}
	for _, turn := range history {
		switch {
		case turn.Role == conversation.RoleTool && turn.Invocation != nil:
			content := resultContent(turn.Result)
			msgs = append(msgs, chatMessage{
				Role:       "tool",
				Content:    &content,
				ToolCallID: callID(turn.Invocation.ID),
			})
		case turn.Role == conversation.RoleAssistant && turn.Invocation != nil:
			args, _ := json.Marshal(turn.Invocation.Arguments)
			msgs = append(msgs, chatMessage{
				Role: "assistant",
				ToolCalls: []chatToolCall{{
					ID:   callID(turn.Invocation.ID),
					Type: "function",
					Function: chatFunction{
						Name:      wireName(turn.Invocation.Name),
						Arguments: string(args),
					},
				}},
			})
		default:
			content := turn.Content
			msgs = append(msgs, chatMessage{Role: string(turn.Role), Content: &content})
		}
	}
	return msgs
}

func callID(id int64) string { return "call_" + strconv.FormatInt(id, 10) }
