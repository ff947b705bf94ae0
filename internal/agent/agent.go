// Package agent holds the per-user conversational handle that turns a batch
// of buffered messages into one reply.
package agent

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/yoobatch/internal/providers/llm"
	"github.com/yoockh/yoobatch/internal/services"
	"github.com/yoockh/yoobatch/internal/utils"
)

type turn struct {
	role    string
	content string
}

// Agent keeps a short rolling history for one user. Calls are serialized.
type Agent struct {
	userID     string
	provider   llm.Provider
	convos     services.ConversationService // optional
	log        *logrus.Entry
	maxHistory int

	mu      sync.Mutex
	history []turn
}

// Respond prompts the model with the batch (one message per line) and records
// both sides of the exchange.
func (a *Agent) Respond(ctx context.Context, texts []string) (string, error) {
	const op = "Agent.Respond"

	if len(texts) == 0 {
		return "", utils.E(utils.CodeInvalidArgument, op, "empty batch", nil)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	input := strings.Join(texts, "\n")
	reply, err := llm.Collect(ctx, a.provider, a.prompt(input))
	if err != nil {
		return "", utils.Wrap(op, "failed to generate reply", err)
	}

	a.remember(turn{role: services.RoleUser, content: input}, turn{role: services.RoleAssistant, content: reply})

	if a.convos != nil {
		if err := a.convos.AppendTurn(ctx, a.userID, "", texts, reply); err != nil {
			a.log.WithError(err).Warn("failed to persist conversation turn")
		}
	}
	return reply, nil
}

func (a *Agent) prompt(input string) string {
	if len(a.history) == 0 {
		return input
	}

	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	for _, t := range a.history {
		if t.role == services.RoleAssistant {
			b.WriteString("Assistant: ")
		} else {
			b.WriteString("User: ")
		}
		b.WriteString(t.content)
		b.WriteString("\n")
	}
	b.WriteString("\nNew messages from the user:\n")
	b.WriteString(input)
	return b.String()
}

func (a *Agent) remember(turns ...turn) {
	a.history = append(a.history, turns...)
	if over := len(a.history) - a.maxHistory; over > 0 {
		a.history = append([]turn(nil), a.history[over:]...)
	}
}

func (a *Agent) HistoryLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.history)
}
