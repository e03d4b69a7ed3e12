//go:build bedrock

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel/trace"

	"maestro/internal/domain"
	"maestro/internal/infra/config"
	"maestro/internal/infra/tracer"
)

// Compile-time interface assertions.
var (
	_ domain.LLMProvider          = (*BedrockProvider)(nil)
	_ domain.StreamingLLMProvider = (*BedrockProvider)(nil)
)

// bedrockConverseAPI abstracts the Bedrock runtime methods for testability.
type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// BedrockProvider implements domain.LLMProvider via the AWS Bedrock Converse API.
type BedrockProvider struct {
	name   string
	model  string
	client bedrockConverseAPI
	logger *slog.Logger
}

// NewBedrockProvider creates a Bedrock provider using the default AWS credential chain.
func NewBedrockProvider(cfg config.ProviderConfig, logger *slog.Logger) (*BedrockProvider, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &BedrockProvider{
		name:   cfg.Name,
		model:  cfg.Model,
		client: bedrockruntime.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// newBedrockProviderWithClient creates a BedrockProvider with an injected client (for testing).
func newBedrockProviderWithClient(name, model string, client bedrockConverseAPI, logger *slog.Logger) *BedrockProvider {
	return &BedrockProvider{
		name:   name,
		model:  model,
		client: client,
		logger: logger,
	}
}

// Name implements domain.LLMProvider.
func (p *BedrockProvider) Name() string { return p.name }

// Chat implements domain.LLMProvider.
func (p *BedrockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", req.Model),
		),
	)
	defer span.End()

	if req.Model == "" {
		req.Model = p.model
	}

	output, err := p.client.Converse(ctx, toBedrockConverseInput(req))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, mapBedrockError(p.name, err)
	}

	result := fromBedrockConverseOutput(output, req.Model)
	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logChatCompleted(p.logger, p.name, result)

	return result, nil
}

// ChatStream implements domain.StreamingLLMProvider.
func (p *BedrockProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	if req.Model == "" {
		req.Model = p.model
	}

	output, err := p.client.ConverseStream(ctx, toBedrockConverseStreamInput(req))
	if err != nil {
		return nil, mapBedrockError(p.name, err)
	}

	ch := make(chan domain.StreamDelta, 16)
	go func() {
		defer close(ch)
		stream := output.GetStream()
		defer stream.Close()

		for evt := range stream.Events() {
			delta := processBedrockStreamEvent(evt)
			if delta != nil {
				select {
				case ch <- *delta:
				case <-ctx.Done():
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			select {
			case ch <- domain.StreamDelta{Err: mapBedrockError(p.name, err)}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// Models implements domain.LLMProvider. Enumerating Bedrock foundation
// models needs the control-plane service; the runtime client only serves
// inference, so we report the configured model.
func (p *BedrockProvider) Models(ctx context.Context) ([]string, error) {
	if p.model == "" {
		return nil, nil
	}
	return []string{p.model}, nil
}

// --- Bedrock request/response conversion ---

func toBedrockConverseInput(req domain.ChatRequest) *bedrockruntime.ConverseInput {
	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(req.Model),
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	input.InferenceConfig = &types.InferenceConfiguration{
		MaxTokens: aws.Int32(int32(maxTokens)),
	}
	if req.Temperature > 0 {
		input.InferenceConfig.Temperature = aws.Float32(float32(req.Temperature))
	}

	// Convert messages, extracting the system prompt.
	for _, m := range req.Messages {
		if m.Role == domain.RoleSystem {
			input.System = []types.SystemContentBlock{
				&types.SystemContentBlockMemberText{Value: m.Content},
			}
			continue
		}

		msg := toBedrockMessage(m)
		if msg != nil {
			input.Messages = append(input.Messages, *msg)
		}
	}

	if len(req.Tools) > 0 {
		input.ToolConfig = toBedrockToolConfig(req.Tools)
	}

	return input
}

func toBedrockConverseStreamInput(req domain.ChatRequest) *bedrockruntime.ConverseStreamInput {
	ci := toBedrockConverseInput(req)
	return &bedrockruntime.ConverseStreamInput{
		ModelId:         ci.ModelId,
		Messages:        ci.Messages,
		System:          ci.System,
		InferenceConfig: ci.InferenceConfig,
		ToolConfig:      ci.ToolConfig,
	}
}

func toBedrockMessage(m domain.Message) *types.Message {
	msg := &types.Message{}

	switch m.Role {
	case domain.RoleTool:
		msg.Role = types.ConversationRoleUser
		msg.Content = []types.ContentBlock{
			&types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(m.ToolCallID),
					Content: []types.ToolResultContentBlock{
						&types.ToolResultContentBlockMemberText{Value: m.Content},
					},
				},
			},
		}

	case domain.RoleAssistant:
		msg.Role = types.ConversationRoleAssistant
		if m.Content != "" {
			msg.Content = append(msg.Content, &types.ContentBlockMemberText{Value: m.Content})
		}
		for _, tc := range m.ToolCalls {
			var inputDoc map[string]interface{}
			if len(tc.Arguments) > 0 {
				json.Unmarshal(tc.Arguments, &inputDoc)
			}
			if inputDoc == nil {
				inputDoc = map[string]interface{}{}
			}
			msg.Content = append(msg.Content, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     document.NewLazyDocument(inputDoc),
				},
			})
		}

	case domain.RoleUser:
		msg.Role = types.ConversationRoleUser
		msg.Content = []types.ContentBlock{
			&types.ContentBlockMemberText{Value: m.Content},
		}

	default:
		return nil
	}

	return msg
}

func toBedrockToolConfig(tools []domain.ToolSchema) *types.ToolConfiguration {
	var bedrockTools []types.Tool
	for _, t := range tools {
		var schema map[string]interface{}
		if len(t.Parameters) > 0 {
			json.Unmarshal(t.Parameters, &schema)
		}
		if schema == nil {
			schema = map[string]interface{}{"type": "object"}
		}

		bedrockTools = append(bedrockTools, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{
					Value: document.NewLazyDocument(schema),
				},
			},
		})
	}
	return &types.ToolConfiguration{Tools: bedrockTools}
}

func fromBedrockConverseOutput(output *bedrockruntime.ConverseOutput, model string) *domain.ChatResponse {
	now := time.Now()
	result := &domain.ChatResponse{
		Model:     model,
		CreatedAt: now,
	}

	if output.Usage != nil {
		result.Usage = domain.Usage{
			PromptTokens:     int(aws.ToInt32(output.Usage.InputTokens)),
			CompletionTokens: int(aws.ToInt32(output.Usage.OutputTokens)),
			TotalTokens:      int(aws.ToInt32(output.Usage.InputTokens)) + int(aws.ToInt32(output.Usage.OutputTokens)),
		}
	}

	msg := domain.Message{
		Role:      domain.RoleAssistant,
		Timestamp: now,
	}

	if outMsg, ok := output.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range outMsg.Value.Content {
			switch b := block.(type) {
			case *types.ContentBlockMemberText:
				msg.Content = b.Value
			case *types.ContentBlockMemberToolUse:
				msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{
					ID:        aws.ToString(b.Value.ToolUseId),
					Name:      aws.ToString(b.Value.Name),
					Arguments: marshalDocument(b.Value.Input),
				})
			}
		}
	}

	result.Message = msg
	return result
}

// marshalDocument converts a Bedrock document.Interface to json.RawMessage.
func marshalDocument(doc document.Interface) json.RawMessage {
	if doc == nil {
		return json.RawMessage("{}")
	}
	var v interface{}
	if err := doc.UnmarshalSmithyDocument(&v); err != nil {
		return json.RawMessage("{}")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

func processBedrockStreamEvent(evt types.ConverseStreamOutput) *domain.StreamDelta {
	switch e := evt.(type) {
	case *types.ConverseStreamOutputMemberContentBlockDelta:
		switch d := e.Value.Delta.(type) {
		case *types.ContentBlockDeltaMemberText:
			return &domain.StreamDelta{Content: d.Value}
		case *types.ContentBlockDeltaMemberToolUse:
			return &domain.StreamDelta{Content: aws.ToString(d.Value.Input)}
		}
		return nil

	case *types.ConverseStreamOutputMemberContentBlockStart:
		if start, ok := e.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
			return &domain.StreamDelta{
				ToolCalls: []domain.ToolCall{{
					ID:   aws.ToString(start.Value.ToolUseId),
					Name: aws.ToString(start.Value.Name),
				}},
			}
		}
		return nil

	case *types.ConverseStreamOutputMemberMetadata:
		delta := &domain.StreamDelta{Done: true}
		if e.Value.Usage != nil {
			delta.Usage = &domain.Usage{
				PromptTokens:     int(aws.ToInt32(e.Value.Usage.InputTokens)),
				CompletionTokens: int(aws.ToInt32(e.Value.Usage.OutputTokens)),
				TotalTokens:      int(aws.ToInt32(e.Value.Usage.InputTokens)) + int(aws.ToInt32(e.Value.Usage.OutputTokens)),
			}
		}
		return delta

	case *types.ConverseStreamOutputMemberMessageStop:
		return &domain.StreamDelta{Done: true}

	default:
		return nil
	}
}

// --- Error mapping ---

// mapBedrockError classifies AWS API errors into domain.ProviderError the
// same way mapHTTPError does for HTTP-backed providers: throttling and
// service trouble are retriable, credential and validation problems are not.
func mapBedrockError(provider string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		detail := fmt.Sprintf("%s: %s", code, apiErr.ErrorMessage())

		switch code {
		case "ThrottlingException", "TooManyRequestsException":
			return &domain.ProviderError{
				Provider:  provider,
				Err:       fmt.Errorf("%w: %s", domain.ErrRateLimit, detail),
				Retriable: true,
			}
		case "AccessDeniedException", "UnrecognizedClientException", "ExpiredTokenException":
			return &domain.ProviderError{
				Provider:  provider,
				Err:       fmt.Errorf("%w: %s", domain.ErrAuthInvalid, detail),
				Retriable: false,
			}
		case "ResourceNotFoundException":
			return &domain.ProviderError{
				Provider:  provider,
				Err:       fmt.Errorf("%w: %s", domain.ErrModelNotFound, detail),
				Retriable: false,
			}
		case "ValidationException":
			return &domain.ProviderError{
				Provider:  provider,
				Err:       fmt.Errorf("%w: %s", domain.ErrInvalidInput, detail),
				Retriable: false,
			}
		case "ModelNotReadyException", "ModelTimeoutException",
			"ServiceUnavailableException", "InternalServerException":
			return &domain.ProviderError{
				Provider:  provider,
				Err:       errors.New(detail),
				Retriable: true,
			}
		}
	}

	// Unclassified errors stay as-is; the gateway treats them as transient.
	return domain.WrapOp("bedrock", err)
}
