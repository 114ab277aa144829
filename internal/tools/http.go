package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/meghx-ai/meghx/internal/llm"
)

// HTTPExecutor dispatches tool calls to an external tool server over HTTP.
// The server exposes POST /tools/{name} taking the raw argument object and
// returning {"content": ..., "is_error": ...}.
type HTTPExecutor struct {
	baseURL string
	client  *http.Client
}

// NewHTTPExecutor creates an executor against the given tool server.
func NewHTTPExecutor(baseURL string, timeout time.Duration) *HTTPExecutor {
	return &HTTPExecutor{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type toolResponse struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
}

func (e *HTTPExecutor) Execute(ctx context.Context, call llm.ToolCall) (llm.ToolResult, error) {
	url := fmt.Sprintf("%s/tools/%s", e.baseURL, call.Name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(call.Args))
	if err != nil {
		return llm.ToolResult{}, fmt.Errorf("building tool request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return llm.ToolResult{}, fmt.Errorf("calling tool %s: %w", call.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return llm.ToolResult{}, fmt.Errorf("tool %s returned status %d", call.Name, resp.StatusCode)
	}

	var body toolResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return llm.ToolResult{}, fmt.Errorf("decoding tool response: %w", err)
	}

	return llm.ToolResult{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Content:    body.Content,
		IsError:    body.IsError,
	}, nil
}

type toolListing struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Capability  string          `json:"capability"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// LoadDefinitions fetches the tool server's catalog (GET /tools) and maps it
// to registry entries. Callers pass the result to Registry.Refresh.
func (e *HTTPExecutor) LoadDefinitions(ctx context.Context) ([]Tool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/tools", nil)
	if err != nil {
		return nil, fmt.Errorf("building catalog request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching tool catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tool catalog returned status %d", resp.StatusCode)
	}

	var listings []toolListing
	if err := json.NewDecoder(resp.Body).Decode(&listings); err != nil {
		return nil, fmt.Errorf("decoding tool catalog: %w", err)
	}

	out := make([]Tool, 0, len(listings))
	for _, l := range listings {
		capability := l.Capability
		if capability == "" {
			capability = CapabilityRead
		}
		out = append(out, Tool{
			Name:       l.Name,
			Capability: capability,
			Definition: llm.ToolDefinition{
				Name:        l.Name,
				Description: l.Description,
				InputSchema: l.InputSchema,
			},
		})
	}
	return out, nil
}
