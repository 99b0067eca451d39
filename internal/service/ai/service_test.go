package ai

import (
	"context"
	"errors"
	"testing"

	"estatechat/internal/config"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChatModel struct {
	reply  string
	err    error
	inputs [][]*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return schema.StreamReaderFromArray([]*schema.Message{schema.AssistantMessage(f.reply, nil)}), f.err
}

func (f *fakeChatModel) WithTools(_ []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return f, nil
}

func TestGenerateSendsPromptAsSingleUserMessage(t *testing.T) {
	fake := &fakeChatModel{reply: "It has a pool."}
	svc, err := NewWithModel(context.Background(), fake, nil, nil)
	require.NoError(t, err)

	got, err := svc.Generate(context.Background(), "prompt text")
	require.NoError(t, err)
	assert.Equal(t, "It has a pool.", got)

	require.Len(t, fake.inputs, 1)
	require.Len(t, fake.inputs[0], 1)
	assert.Equal(t, schema.User, fake.inputs[0][0].Role)
	assert.Equal(t, "prompt text", fake.inputs[0][0].Content)
}

func TestGenerateErrors(t *testing.T) {
	boom := errors.New("quota exceeded")
	svc, err := NewWithModel(context.Background(), &fakeChatModel{err: boom}, nil, nil)
	require.NoError(t, err)
	_, err = svc.Generate(context.Background(), "p")
	require.ErrorIs(t, err, boom)

	svc, err = NewWithModel(context.Background(), &fakeChatModel{reply: "   "}, nil, nil)
	require.NoError(t, err)
	_, err = svc.Generate(context.Background(), "p")
	require.ErrorIs(t, err, ErrEmptyResponse)
}

func TestNewServiceRequiresKeyAndKnownProvider(t *testing.T) {
	cfg := &config.Config{
		Assistant: config.AssistantConfig{Provider: "gemini"},
		Providers: map[string]config.ProviderConfig{"gemini": {Model: "gemini-2.0-flash"}},
	}
	_, err := NewService(context.Background(), cfg, "", nil)
	require.ErrorIs(t, err, config.ErrMissingAPIKey)

	cfg.Assistant.Provider = "nope"
	_, err = NewService(context.Background(), cfg, "key", nil)
	require.Error(t, err)

	_, err = NewChatModel(context.Background(), "nope", config.ProviderConfig{}, "m", "key")
	require.Error(t, err)
}

type stubTool struct {
	name   string
	result string
	err    error
	calls  int
}

func (s *stubTool) Info(context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: s.name}, nil
}

func (s *stubTool) InvokableRun(_ context.Context, _ string, _ ...tool.Option) (string, error) {
	s.calls++
	return s.result, s.err
}

func TestWebSearchFallsBackToDuckDuckGo(t *testing.T) {
	google := &stubTool{name: "google", err: errors.New("rate limited")}
	duck := &stubTool{name: "ddg", result: "ddg results"}
	ws := newWebSearch(google, duck, nil)

	out, err := ws.InvokableRun(context.Background(), `{"query":"schools near Elm St"}`)
	require.NoError(t, err)
	assert.Equal(t, "ddg results", out)
	assert.Equal(t, 1, google.calls)
	assert.Equal(t, 1, duck.calls)
}

func TestWebSearchRejectsEmptyQuery(t *testing.T) {
	ws := newWebSearch(nil, &stubTool{name: "ddg", result: "x"}, nil)
	_, err := ws.InvokableRun(context.Background(), `{"query":"  "}`)
	require.Error(t, err)
}
