package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/loomrun/loom/pkg/models"
)

// BedrockProvider implements Provider against foundation models hosted on
// AWS Bedrock via the Converse streaming API, so the same adapter serves
// any Converse-compatible model family, not only Anthropic's.
type BedrockProvider struct {
	client       *bedrockruntime.Client
	defaultModel string
	retrier      Retrier
}

// BedrockConfig configures a BedrockProvider. Credentials are resolved
// through the default AWS chain (environment, shared config, IAM role)
// unless overridden.
type BedrockConfig struct {
	Region       string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// NewBedrockProvider loads AWS config for cfg.Region and constructs a
// bedrockruntime client.
func NewBedrockProvider(ctx context.Context, cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}

	return &BedrockProvider{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
		retrier:      NewRetrier(cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

func (p *BedrockProvider) Name() string { return "bedrock" }

func (p *BedrockProvider) Models() []Model {
	return []Model{
		{ID: "anthropic.claude-3-5-sonnet-20241022-v2:0", Name: "Claude 3.5 Sonnet (Bedrock)", ContextSize: 200000},
		{ID: "anthropic.claude-3-haiku-20240307-v1:0", Name: "Claude 3 Haiku (Bedrock)", ContextSize: 200000},
		{ID: "meta.llama3-70b-instruct-v1:0", Name: "Llama 3 70B (Bedrock)", ContextSize: 8192},
	}
}

func (p *BedrockProvider) SupportsTools() bool { return true }

func (p *BedrockProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages, err := convertConverseMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("bedrock: convert messages: %w", err)
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model),
		Messages: messages,
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.System}}
	}
	if req.MaxTokens > 0 {
		input.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(maxTokensOrDefault(req.MaxTokens)))}
	}
	if len(req.Tools) > 0 {
		input.ToolConfig = convertConverseTools(req.Tools)
	}

	var output *bedrockruntime.ConverseStreamOutput
	err = p.retrier.Run(ctx, isRetryableError, func() error {
		var streamErr error
		output, streamErr = p.client.ConverseStream(ctx, input)
		return streamErr
	})
	if err != nil {
		return nil, wrapProviderError("bedrock", model, err)
	}

	chunks := make(chan *CompletionChunk)
	go p.processStream(ctx, output, chunks, model)
	return chunks, nil
}

func (p *BedrockProvider) processStream(ctx context.Context, output *bedrockruntime.ConverseStreamOutput, chunks chan<- *CompletionChunk, model string) {
	defer close(chunks)

	stream := output.GetStream()
	defer stream.Close()

	var currentToolCall *models.ToolCall
	var toolInput strings.Builder

	events := stream.Events()
	for {
		select {
		case <-ctx.Done():
			chunks <- &CompletionChunk{Error: ctx.Err(), Done: true}
			return
		case event, ok := <-events:
			if !ok {
				if err := stream.Err(); err != nil {
					chunks <- &CompletionChunk{Error: wrapProviderError("bedrock", model, err), Done: true}
				} else {
					chunks <- &CompletionChunk{Done: true}
				}
				return
			}

			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					currentToolCall = &models.ToolCall{ID: aws.ToString(toolUse.Value.ToolUseId), Name: aws.ToString(toolUse.Value.Name)}
					toolInput.Reset()
				}
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						chunks <- &CompletionChunk{Text: delta.Value}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						toolInput.WriteString(*delta.Value.Input)
					}
				}
			case *types.ConverseStreamOutputMemberContentBlockStop:
				if currentToolCall != nil {
					currentToolCall.Arguments = json.RawMessage(toolInput.String())
					chunks <- &CompletionChunk{ToolCall: currentToolCall}
					currentToolCall = nil
					toolInput.Reset()
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				chunks <- &CompletionChunk{Done: true}
				return
			}
		}
	}
}

func convertConverseMessages(messages []CompletionMessage) ([]types.Message, error) {
	out := make([]types.Message, 0, len(messages))
	for _, msg := range messages {
		var role types.ConversationRole
		var blocks []types.ContentBlock

		switch msg.Role {
		case models.RoleUser:
			role = types.ConversationRoleUser
			if msg.Content != "" {
				blocks = append(blocks, &types.ContentBlockMemberText{Value: msg.Content})
			}
		case models.RoleAssistant:
			role = types.ConversationRoleAssistant
			if msg.Content != "" {
				blocks = append(blocks, &types.ContentBlockMemberText{Value: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				doc, err := toBedrockDocument(tc.Arguments)
				if err != nil {
					return nil, err
				}
				blocks = append(blocks, &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     document.NewLazyDocument(doc),
				}})
			}
		case models.RoleTool:
			role = types.ConversationRoleUser
			blocks = append(blocks, &types.ContentBlockMemberToolResult{Value: types.ToolResultBlock{
				ToolUseId: aws.String(msg.ToolCallID),
				Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: msg.Content}},
			}})
		default:
			continue
		}

		out = append(out, types.Message{Role: role, Content: blocks})
	}
	return out, nil
}

func convertConverseTools(tools []Tool) *types.ToolConfiguration {
	specs := make([]types.Tool, 0, len(tools))
	for _, tool := range tools {
		doc, err := toBedrockDocument(tool.Schema())
		if err != nil {
			continue
		}
		specs = append(specs, &types.ToolMemberToolSpec{Value: types.ToolSpecification{
			Name:        aws.String(tool.Name()),
			Description: aws.String(tool.Description()),
			InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(doc)},
		}})
	}
	return &types.ToolConfiguration{Tools: specs}
}

// toBedrockDocument decodes a JSON object payload into the map that callers
// wrap with document.NewLazyDocument for Bedrock's freeform tool
// input/schema. An empty payload yields an empty map.
func toBedrockDocument(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.New("bedrock: payload must be a JSON object")
	}
	return doc, nil
}
