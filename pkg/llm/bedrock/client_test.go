package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Ingenimax/workflow-engine/pkg/interfaces"
)

type mockInvoker struct {
	mock.Mock
}

func (m *mockInvoker) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	args := m.Called(ctx, params)
	if out := args.Get(0); out != nil {
		return out.(*bedrockruntime.InvokeModelOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestGenerate(t *testing.T) {
	inv := new(mockInvoker)
	var sent request
	inv.On("InvokeModel", mock.Anything, mock.MatchedBy(func(in *bedrockruntime.InvokeModelInput) bool {
		return *in.ModelId == "anthropic.test" && json.Unmarshal(in.Body, &sent) == nil
	})).Return(&bedrockruntime.InvokeModelOutput{Body: []byte(`{
		"model": "claude-test",
		"content": [{"type": "text", "text": "Low stock"}, {"type": "text", "text": " on A1"}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 20, "output_tokens": 4}
	}`)}, nil)

	c := NewWithInvoker(inv, "us-east-1", WithModel("anthropic.test"))
	completion, err := c.Generate(context.Background(), "Report", interfaces.WithSystemMessage("ops bot"))
	require.NoError(t, err)

	assert.Equal(t, "Low stock on A1", completion.Text)
	assert.Equal(t, "claude-test", completion.Model)
	assert.Equal(t, 24, completion.TotalTokens())

	assert.Equal(t, anthropicVersion, sent.AnthropicVersion)
	assert.Equal(t, "ops bot", sent.System)
	assert.Equal(t, defaultMaxTokens, sent.MaxTokens)
	inv.AssertExpectations(t)
}

func TestGenerateError(t *testing.T) {
	inv := new(mockInvoker)
	inv.On("InvokeModel", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))

	_, err := NewWithInvoker(inv, "us-east-1").Generate(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestBuildRequest(t *testing.T) {
	temp := 0.5
	params := &interfaces.GenerateOptions{
		MaxTokens:   64,
		Temperature: &temp,
		History: []interfaces.Message{
			{Role: interfaces.MessageRoleAssistant, Content: "orphan"},
			{Role: interfaces.MessageRoleUser, Content: "a"},
			{Role: interfaces.MessageRoleUser, Content: "b"},
			{Role: interfaces.MessageRoleAssistant, Content: "c"},
			{Role: interfaces.MessageRoleSystem, Content: "ignored"},
		},
	}

	req := buildRequest(params, "d")
	assert.Equal(t, 64, req.MaxTokens)
	assert.Equal(t, &temp, req.Temperature)
	assert.Equal(t, []message{
		{Role: "user", Content: "a\n\nb"},
		{Role: "assistant", Content: "c"},
		{Role: "user", Content: "d"},
	}, req.Messages)
}
