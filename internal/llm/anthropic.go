package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements Provider on the official Anthropic SDK.
type AnthropicProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int
}

// NewAnthropicProvider creates a provider for the given model.
func NewAnthropicProvider(apiKey, model string, maxTokens int) *AnthropicProvider {
	return &AnthropicProvider{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: maxTokens,
	}
}

func (p *AnthropicProvider) Invoke(ctx context.Context, req Request) (Message, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return Message{}, err
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return Message{}, fmt.Errorf("anthropic messages.new: %w", err)
	}
	return fromAnthropicMessage(resp), nil
}

func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	events := make(chan StreamEvent, 64)

	go func() {
		defer close(events)

		var acc anthropic.Message
		for stream.Next() {
			event := stream.Current()
			if err := acc.Accumulate(event); err != nil {
				events <- StreamEvent{Type: EventError, Err: fmt.Errorf("accumulating stream event: %w", err)}
				return
			}

			if event.Type == "content_block_delta" {
				delta := event.AsContentBlockDelta()
				if d, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok {
					events <- StreamEvent{Type: EventText, Text: d.Text}
				}
			}
		}

		if err := stream.Err(); err != nil {
			events <- StreamEvent{Type: EventError, Err: err}
			return
		}

		msg := fromAnthropicMessage(&acc)
		events <- StreamEvent{Type: EventDone, Message: &msg}
	}()

	return events, nil
}

func (p *AnthropicProvider) buildParams(req Request) (anthropic.MessageNewParams, error) {
	maxTokens := p.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(maxTokens),
		Messages:  buildMessages(req.Messages),
	}

	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			var schema struct {
				Properties any      `json:"properties"`
				Required   []string `json:"required"`
			}
			if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
				return anthropic.MessageNewParams{}, fmt.Errorf("parsing schema for tool %s: %w", tool.Name, err)
			}
			tools = append(tools, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema.Properties,
					Required:   schema.Required,
				},
			}})
		}
		params.Tools = tools
	}

	return params, nil
}

func buildMessages(msgs []Message) []anthropic.MessageParam {
	var result []anthropic.MessageParam

	for _, msg := range msgs {
		switch msg.Role {
		case RoleUser:
			if msg.Content == "" {
				continue
			}
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))

		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input map[string]any
				if err := json.Unmarshal(tc.Args, &input); err != nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    tc.ID,
						Name:  tc.Name,
						Input: input,
					},
				})
			}
			if len(blocks) > 0 {
				result = append(result, anthropic.MessageParam{
					Role:    anthropic.MessageParamRoleAssistant,
					Content: blocks,
				})
			}

		case RoleTool:
			if msg.ToolResult == nil {
				continue
			}
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolResult.ToolCallID, msg.ToolResult.Content, msg.ToolResult.IsError),
			))
		}
	}

	return result
}

func fromAnthropicMessage(msg *anthropic.Message) Message {
	out := Message{Role: RoleAssistant}
	for _, block := range msg.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Content += v.Text
		case anthropic.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:   v.ID,
				Name: v.Name,
				Args: json.RawMessage(v.JSON.Input.Raw()),
			})
		}
	}
	return out
}
