package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAIProvider implements Provider using the OpenAI chat completions API.
// A custom base URL covers OpenAI-compatible servers (Ollama, LM Studio).
type OpenAIProvider struct {
	client *openai.Client
	model  string
	label  string
}

// NewOpenAIProvider creates a new OpenAI provider. An empty apiKey falls
// back to the OPENAI_API_KEY environment variable; baseURL is optional.
func NewOpenAIProvider(apiKey, model, baseURL string) (*OpenAIProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" && baseURL == "" {
		return nil, fmt.Errorf("openai API key not configured: set OPENAI_API_KEY or add api_key to config")
	}
	if model == "" {
		model = defaultOpenAIModel
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	label := "openai"
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(baseURL, "/")+"/"))
		label = "openai-compat"
	}
	client := openai.NewClient(opts...)
	return &OpenAIProvider{client: &client, model: model, label: label}, nil
}

func (p *OpenAIProvider) Name() string {
	return p.label
}

func (p *OpenAIProvider) Capabilities() Capabilities {
	return Capabilities{ToolCalls: true, Streaming: true}
}

func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		params := openai.ChatCompletionNewParams{
			Model:    openai.ChatModel(chooseModel(req.Model, p.model)),
			Messages: buildOpenAIMessages(req.Messages),
		}
		if len(req.Tools) > 0 {
			params.Tools = buildOpenAITools(req.Tools)
		}
		if req.Temperature > 0 {
			params.Temperature = openai.Float(float64(req.Temperature))
		}
		if req.MaxOutputTokens > 0 {
			params.MaxCompletionTokens = openai.Int(int64(req.MaxOutputTokens))
		}

		stream := p.client.Chat.Completions.NewStreaming(ctx, params)
		state := newOpenAIToolState()
		var lastUsage *Usage

		for stream.Next() {
			chunk := stream.Current()
			if chunk.Usage.CompletionTokens > 0 || chunk.Usage.PromptTokens > 0 {
				lastUsage = &Usage{
					InputTokens:  int(chunk.Usage.PromptTokens),
					OutputTokens: int(chunk.Usage.CompletionTokens),
				}
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					events <- Event{Type: EventTextDelta, Text: choice.Delta.Content}
				}
				for _, tc := range choice.Delta.ToolCalls {
					state.Add(tc)
				}
			}
		}
		if err := stream.Err(); err != nil {
			return fmt.Errorf("openai streaming error: %w", err)
		}

		for _, call := range state.Calls() {
			call := call
			events <- Event{Type: EventToolCall, Tool: &call}
		}
		if lastUsage != nil {
			events <- Event{Type: EventUsage, Use: lastUsage}
		}
		events <- Event{Type: EventDone}
		return nil
	}), nil
}

func buildOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(msg.TextContent()))
		case RoleUser:
			out = append(out, openai.UserMessage(msg.TextContent()))
		case RoleAssistant:
			out = append(out, buildOpenAIAssistantMessage(msg))
		case RoleTool:
			for _, part := range msg.Parts {
				if part.Type == PartToolResult && part.ToolResult != nil {
					out = append(out, openai.ToolMessage(part.ToolResult.Content, part.ToolResult.ID))
				}
			}
		}
	}
	return out
}

func buildOpenAIAssistantMessage(msg Message) openai.ChatCompletionMessageParamUnion {
	assistant := openai.ChatCompletionAssistantMessageParam{}
	if text := msg.TextContent(); text != "" {
		assistant.Content.OfString = openai.String(text)
	}
	for _, part := range msg.Parts {
		if part.Type == PartToolCall && part.ToolCall != nil {
			assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
				ID: part.ToolCall.ID,
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      part.ToolCall.Name,
					Arguments: string(part.ToolCall.Arguments),
				},
			})
		}
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
}

func buildOpenAITools(specs []ToolSpec) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, len(specs))
	for _, spec := range specs {
		tools = append(tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        spec.Name,
				Description: openai.String(spec.Description),
				Parameters:  openai.FunctionParameters(spec.Schema),
			},
		})
	}
	return tools
}

// openaiToolState assembles tool calls whose argument JSON arrives in
// fragments across chunks, keyed by the chunk tool-call index.
type openaiToolState struct {
	order []int64
	calls map[int64]*ToolCall
	args  map[int64]*strings.Builder
}

func newOpenAIToolState() *openaiToolState {
	return &openaiToolState{
		calls: make(map[int64]*ToolCall),
		args:  make(map[int64]*strings.Builder),
	}
}

func (s *openaiToolState) Add(tc openai.ChatCompletionChunkChoiceDeltaToolCall) {
	call, ok := s.calls[tc.Index]
	if !ok {
		call = &ToolCall{}
		s.calls[tc.Index] = call
		s.args[tc.Index] = &strings.Builder{}
		s.order = append(s.order, tc.Index)
	}
	if tc.ID != "" {
		call.ID = tc.ID
	}
	if tc.Function.Name != "" {
		call.Name = tc.Function.Name
	}
	if tc.Function.Arguments != "" {
		s.args[tc.Index].WriteString(tc.Function.Arguments)
	}
}

func (s *openaiToolState) Calls() []ToolCall {
	out := make([]ToolCall, 0, len(s.order))
	for _, idx := range s.order {
		call := *s.calls[idx]
		if args := s.args[idx].String(); args != "" {
			call.Arguments = json.RawMessage(args)
		}
		out = append(out, call)
	}
	return out
}
