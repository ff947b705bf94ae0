package llm

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type OpenAI struct {
	client openai.Client
	opts   Options
}

func NewOpenAI(apiKey string, opts Options) *OpenAI {
	if opts.Model == "" {
		opts.Model = string(openai.ChatModelGPT4oMini)
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	return &OpenAI{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		opts:   opts,
	}
}

func (o *OpenAI) Close() error { return nil }

func (o *OpenAI) StreamAnswer(ctx context.Context, prompt string) (<-chan string, <-chan error) {
	out := make(chan string, 32)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		stream := o.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
			Model: openai.ChatModel(o.opts.Model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(o.opts.SystemPrompt),
				openai.UserMessage(prompt),
			},
		})
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			for _, choice := range chunk.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				select {
				case out <- choice.Delta.Content:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			errs <- err
		}
	}()

	return out, errs
}
