package llm

import (
	"context"
	"strings"

	"github.com/yoockh/yoobatch/internal/utils"
)

type Provider interface {
	// StreamAnswer returns a stream of text chunks (incremental). Both
	// channels are closed when the answer is complete.
	StreamAnswer(ctx context.Context, prompt string) (chunks <-chan string, errs <-chan error)
	Close() error
}

// Options shared by every provider.
type Options struct {
	Model        string
	SystemPrompt string
}

const DefaultSystemPrompt = "You are a helpful assistant in a chat. The user may split one thought " +
	"across several short messages; treat the lines you receive as one turn and answer them together."

// Collect drains a streamed answer into one string.
func Collect(ctx context.Context, p Provider, prompt string) (string, error) {
	const op = "llm.Collect"

	chunks, errs := p.StreamAnswer(ctx, prompt)

	var b strings.Builder
	for chunks != nil || errs != nil {
		select {
		case c, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			b.WriteString(c)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return "", utils.E(utils.CodeProcessing, op, "model call failed", err)
			}
		case <-ctx.Done():
			return "", utils.E(utils.CodeTimeout, op, "model call abandoned", ctx.Err())
		}
	}

	if err := ctx.Err(); err != nil {
		return "", utils.E(utils.CodeTimeout, op, "model call abandoned", err)
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", utils.E(utils.CodeProcessing, op, "model returned an empty answer", nil)
	}
	return out, nil
}
