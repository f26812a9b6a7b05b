package generation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// fakeModel is an llms.Model returning canned responses.
type fakeModel struct {
	calls        int
	failures     int
	answer       string
	lastMessages []llms.MessageContent
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++
	f.lastMessages = messages
	if f.calls <= f.failures {
		return nil, errors.New("connection refused")
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: f.answer}},
	}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return f.answer, nil
}

func newTestService(model llms.Model) *Service {
	cfg := Config{MaxRetries: 2, RetryBackoff: time.Millisecond}
	cfg.ApplyDefaults()
	return newServiceWithModel(cfg, model, nil)
}

func TestGenerate(t *testing.T) {
	t.Run("returns answer", func(t *testing.T) {
		svc := newTestService(&fakeModel{answer: "42"})
		got, err := svc.Generate(context.Background(), "be helpful", "meaning of life?")
		require.NoError(t, err)
		assert.Equal(t, "42", got)
	})

	t.Run("sends system and human messages", func(t *testing.T) {
		model := &fakeModel{answer: "42"}
		svc := newTestService(model)
		_, err := svc.Generate(context.Background(), "be helpful", "meaning of life?")
		require.NoError(t, err)

		require.Len(t, model.lastMessages, 2)
		assert.Equal(t, schema.ChatMessageTypeSystem, model.lastMessages[0].Role)
		assert.Equal(t, schema.ChatMessageTypeHuman, model.lastMessages[1].Role)
	})

	t.Run("empty prompt rejected", func(t *testing.T) {
		svc := newTestService(&fakeModel{answer: "42"})
		_, err := svc.Generate(context.Background(), "", "")
		require.ErrorIs(t, err, ErrEmptyPrompt)
	})

	t.Run("retries transient failures", func(t *testing.T) {
		model := &fakeModel{failures: 2, answer: "ok"}
		svc := newTestService(model)
		got, err := svc.Generate(context.Background(), "", "question")
		require.NoError(t, err)
		assert.Equal(t, "ok", got)
		assert.Equal(t, 3, model.calls)
	})

	t.Run("surfaces unavailable after bounded retries", func(t *testing.T) {
		model := &fakeModel{failures: 10}
		svc := newTestService(model)
		_, err := svc.Generate(context.Background(), "", "question")
		require.ErrorIs(t, err, ErrUnavailable)
		assert.Equal(t, 3, model.calls)
	})
}
