package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/vikashloomba/mcphub-go/pkg/conversation"
	"github.com/vikashloomba/mcphub-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcphub-go/pkg/toolrouter"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
)

type messagesRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Input     any    `json:"input,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type messagesResponse struct {
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
}

// Anthropic talks to the Anthropic Messages API.
type Anthropic struct {
	cfg Config
}

// NewAnthropic returns an Anthropic model client.
func NewAnthropic(cfg Config) *Anthropic {
	cfg = cfg.withDefaults()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAnthropicBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(strings.TrimRight(cfg.BaseURL, "/"), "/v1")
	return &Anthropic{cfg: cfg}
}

// Decide implements conversation.Model.
func (m *Anthropic) Decide(ctx context.Context, history []conversation.Turn, tools []mcpmgr.ToolDescriptor) (conversation.Decision, error) {
	names := newToolNames(tools)
	req := messagesRequest{
		Model:     m.cfg.ModelID,
		MaxTokens: m.cfg.MaxTokens,
		System:    m.cfg.SystemPrompt,
		Messages:  anthropicMessages(history),
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, anthropicTool{
			Name:        wireName(t.QualifiedName),
			Description: t.Description,
			InputSchema: inputSchema(t),
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return conversation.Decision{}, fmt.Errorf("llm: marshal request: %w", err)
	}
	resp, err := doWithRetry(ctx, m.cfg.Retry, func(ctx context.Context) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+"/v1/messages", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("anthropic-version", anthropicVersion)
		if m.cfg.APIKey != "" {
			httpReq.Header.Set("x-api-key", m.cfg.APIKey)
		}
		return m.cfg.HTTPClient.Do(httpReq)
	})
	if err != nil {
		return conversation.Decision{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return conversation.Decision{}, apiError("anthropic", resp)
	}

	var out messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return conversation.Decision{}, fmt.Errorf("llm: decode response: %w", err)
	}
	var text []string
	for _, block := range out.Content {
		switch block.Type {
		case "tool_use":
			inv := &toolrouter.Invocation{Name: names.qualified(block.Name), Arguments: map[string]any{}}
			switch input := block.Input.(type) {
			case map[string]any:
				inv.Arguments = input
			case nil:
			default:
				inv.ArgumentsError = fmt.Errorf("tool input is a %T, not a JSON object", input)
			}
			return conversation.Decision{ToolCall: inv}, nil
		case "text":
			text = append(text, block.Text)
		}
	}
	if len(text) == 0 {
		return conversation.Decision{FinalAnswer: "No response from model."}, nil
	}
	return conversation.Decision{FinalAnswer: strings.Join(text, "\n")}, nil
}

// anthropicMessages converts history into alternating user/assistant
// messages. Tool results travel as user messages, and consecutive messages
// with the same role are merged.
func anthropicMessages(history []conversation.Turn) []anthropicMessage {
	var msgs []anthropicMessage
	add := func(role string, block anthropicBlock) {
		if n := len(msgs); n > 0 && msgs[n-1].Role == role {
			msgs[n-1].Content = append(msgs[n-1].Content, block)
			return
		}
		msgs = append(msgs, anthropicMessage{Role: role, Content: []anthropicBlock{block}})
	}
	for _, turn := range history {
		switch {
		case turn.Role == conversation.RoleTool && turn.Invocation != nil:
			add("user", anthropicBlock{
				Type:      "tool_result",
				ToolUseID: toolUseID(turn.Invocation.ID),
				Content:   resultContent(turn.Result),
				IsError:   turn.Result != nil && !turn.Result.Success,
			})
		case turn.Role == conversation.RoleAssistant && turn.Invocation != nil:
			input := turn.Invocation.Arguments
			if input == nil {
				input = map[string]any{}
			}
			add("assistant", anthropicBlock{
				Type:  "tool_use",
				ID:    toolUseID(turn.Invocation.ID),
				Name:  wireName(turn.Invocation.Name),
				Input: input,
			})
		case turn.Content == "":
		case turn.Role == conversation.RoleAssistant:
			add("assistant", anthropicBlock{Type: "text", Text: turn.Content})
		default:
			add("user", anthropicBlock{Type: "text", Text: turn.Content})
		}
	}
	return msgs
}

func toolUseID(id int64) string { return fmt.Sprintf("toolu_%d", id) }
