package agent

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/yoobatch/internal/handlecache"
	"github.com/yoockh/yoobatch/internal/providers/llm"
	"github.com/yoockh/yoobatch/internal/services"
	"github.com/yoockh/yoobatch/internal/utils"
)

// Factory builds agents that share one provider.
type Factory struct {
	Provider   llm.Provider
	Convos     services.ConversationService // optional; seeds history
	Logger     *logrus.Logger
	MaxHistory int // turns kept in memory, default 10
}

// Construct is a handlecache.Factory for *Agent.
func (f *Factory) Construct(ctx context.Context, userID string) (*Agent, error) {
	const op = "agent.Factory.Construct"

	if f.Provider == nil {
		return nil, utils.E(utils.CodeConfig, op, "no LLM provider configured", nil)
	}
	keep := f.MaxHistory
	if keep <= 0 {
		keep = 10
	}
	log := f.Logger
	if log == nil {
		log = logrus.New()
	}

	a := &Agent{
		userID:     userID,
		provider:   f.Provider,
		convos:     f.Convos,
		log:        log.WithField("user_id", userID),
		maxHistory: keep,
	}

	if f.Convos != nil {
		rows, err := f.Convos.Recent(ctx, userID, keep)
		if err != nil {
			// start fresh rather than refuse to answer
			a.log.WithError(err).Warn("failed to load conversation history")
		}
		for _, r := range rows {
			a.history = append(a.history, turn{role: r.Role, content: r.Content})
		}
	}
	return a, nil
}

// Processor runs batches through the cached per-user agent.
type Processor struct {
	agents *handlecache.Cache[*Agent]
}

func NewProcessor(agents *handlecache.Cache[*Agent]) *Processor {
	return &Processor{agents: agents}
}

func (p *Processor) Process(ctx context.Context, userID string, texts []string) (string, error) {
	const op = "agent.Processor.Process"

	a, err := p.agents.GetOrCreate(ctx, userID)
	if err != nil {
		return "", utils.Wrap(op, "failed to load agent", err)
	}
	return a.Respond(ctx, texts)
}
