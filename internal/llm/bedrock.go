package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// anthropicVersion is the fixed version marker Bedrock requires in the
// Claude messages request body.
const anthropicVersion = "bedrock-2023-05-31"

const defaultBedrockModel = "anthropic.claude-sonnet-4-5-20250929-v1:0"

// BedrockProvider implements Provider for Claude models on AWS Bedrock.
// Invocation is single-shot; the response is replayed as stream events so
// the engine sees the same shape as a streaming provider.
type BedrockProvider struct {
	client *bedrockruntime.Client
	model  string
	region string
}

// NewBedrockProvider creates a Bedrock provider using the default AWS
// credential chain for the given region.
func NewBedrockProvider(ctx context.Context, region, model string) (*BedrockProvider, error) {
	if model == "" {
		model = defaultBedrockModel
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &BedrockProvider{
		client: bedrockruntime.NewFromConfig(cfg),
		model:  model,
		region: region,
	}, nil
}

func (p *BedrockProvider) Name() string {
	return "bedrock"
}

func (p *BedrockProvider) Capabilities() Capabilities {
	return Capabilities{ToolCalls: true, Streaming: false}
}

// bedrockRequest is the Claude messages body for InvokeModel.
type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	Tools            []bedrockTool    `json:"tools,omitempty"`
	Temperature      *float64         `json:"temperature,omitempty"`
}

type bedrockMessage struct {
	Role    string         `json:"role"`
	Content []bedrockBlock `json:"content"`
}

type bedrockBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

type bedrockTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type bedrockResponse struct {
	Content []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text,omitempty"`
		ID    string          `json:"id,omitempty"`
		Name  string          `json:"name,omitempty"`
		Input json.RawMessage `json:"input,omitempty"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (p *BedrockProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		body, err := json.Marshal(buildBedrockRequest(req))
		if err != nil {
			return fmt.Errorf("marshal bedrock request: %w", err)
		}

		out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(chooseModel(req.Model, p.model)),
			Body:        body,
			ContentType: aws.String("application/json"),
		})
		if err != nil {
			return fmt.Errorf("invoke bedrock model: %w", err)
		}

		var resp bedrockResponse
		if err := json.Unmarshal(out.Body, &resp); err != nil {
			return fmt.Errorf("unmarshal bedrock response: %w", err)
		}

		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				if block.Text != "" {
					events <- Event{Type: EventTextDelta, Text: block.Text}
				}
			case "tool_use":
				call := ToolCall{ID: block.ID, Name: block.Name, Arguments: block.Input}
				events <- Event{Type: EventToolCall, Tool: &call}
			}
		}
		if resp.Usage.InputTokens > 0 || resp.Usage.OutputTokens > 0 {
			events <- Event{Type: EventUsage, Use: &Usage{
				InputTokens:  resp.Usage.InputTokens,
				OutputTokens: resp.Usage.OutputTokens,
			}}
		}
		events <- Event{Type: EventDone}
		return nil
	}), nil
}

func buildBedrockRequest(req Request) bedrockRequest {
	out := bedrockRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        int(maxTokens(req.MaxOutputTokens, 4096)),
	}
	if req.Temperature > 0 {
		v := float64(req.Temperature)
		out.Temperature = &v
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			if out.System != "" {
				out.System += "\n\n"
			}
			out.System += msg.TextContent()
		case RoleUser, RoleTool:
			if blocks := buildBedrockBlocks(msg.Parts, false); len(blocks) > 0 {
				out.Messages = append(out.Messages, bedrockMessage{Role: "user", Content: blocks})
			}
		case RoleAssistant:
			if blocks := buildBedrockBlocks(msg.Parts, true); len(blocks) > 0 {
				out.Messages = append(out.Messages, bedrockMessage{Role: "assistant", Content: blocks})
			}
		}
	}

	for _, spec := range req.Tools {
		schema := spec.Schema
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		out.Tools = append(out.Tools, bedrockTool{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: schema,
		})
	}
	return out
}

func buildBedrockBlocks(parts []Part, allowToolUse bool) []bedrockBlock {
	var blocks []bedrockBlock
	for _, part := range parts {
		switch part.Type {
		case PartText:
			if part.Text != "" {
				blocks = append(blocks, bedrockBlock{Type: "text", Text: part.Text})
			}
		case PartToolCall:
			if allowToolUse && part.ToolCall != nil {
				input := part.ToolCall.Arguments
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				blocks = append(blocks, bedrockBlock{
					Type:  "tool_use",
					ID:    part.ToolCall.ID,
					Name:  part.ToolCall.Name,
					Input: input,
				})
			}
		case PartToolResult:
			if part.ToolResult != nil {
				blocks = append(blocks, bedrockBlock{
					Type:      "tool_result",
					ToolUseID: part.ToolResult.ID,
					Content:   part.ToolResult.Content,
					IsError:   part.ToolResult.IsError,
				})
			}
		}
	}
	return blocks
}
