package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/yoobatch/internal/handlecache"
	"github.com/yoockh/yoobatch/internal/models"
	"github.com/yoockh/yoobatch/internal/services"
	"github.com/yoockh/yoobatch/internal/utils"
)

type fakeProvider struct {
	mu      sync.Mutex
	prompts []string
	reply   string
	err     error
}

func (p *fakeProvider) StreamAnswer(_ context.Context, prompt string) (<-chan string, <-chan error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, prompt)
	p.mu.Unlock()

	out := make(chan string, 1)
	errs := make(chan error, 1)
	if p.err != nil {
		errs <- p.err
	} else {
		out <- p.reply
	}
	close(out)
	close(errs)
	return out, errs
}

func (p *fakeProvider) Close() error { return nil }

type fakeConvos struct {
	services.ConversationService
	recent   []models.ConversationLog
	appended [][]string
}

func (f *fakeConvos) Recent(context.Context, string, int) ([]models.ConversationLog, error) {
	return f.recent, nil
}

func (f *fakeConvos) AppendTurn(_ context.Context, _, _ string, texts []string, _ string) error {
	f.appended = append(f.appended, texts)
	return nil
}

func TestProcessorJoinsBatchAndCachesAgent(t *testing.T) {
	provider := &fakeProvider{reply: "hi!"}
	convos := &fakeConvos{}
	f := &Factory{Provider: provider, Convos: convos}
	cache := handlecache.New(f.Construct, handlecache.Options[*Agent]{})
	p := NewProcessor(cache)

	out, err := p.Process(context.Background(), "42", []string{"hello", "world"})
	require.NoError(t, err)
	assert.Equal(t, "hi!", out)
	assert.Equal(t, "hello\nworld", provider.prompts[0])
	assert.Equal(t, [][]string{{"hello", "world"}}, convos.appended)

	_, err = p.Process(context.Background(), "42", []string{"again"})
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Len())
	assert.True(t, strings.HasPrefix(provider.prompts[1], "Conversation so far:\nUser: hello\nworld\nAssistant: hi!\n"))
	assert.True(t, strings.HasSuffix(provider.prompts[1], "again"))
}

func TestFactorySeedsHistory(t *testing.T) {
	convos := &fakeConvos{recent: []models.ConversationLog{
		{Role: services.RoleUser, Content: "earlier"},
		{Role: services.RoleAssistant, Content: "noted"},
	}}
	f := &Factory{Provider: &fakeProvider{reply: "ok"}, Convos: convos, MaxHistory: 3}

	a, err := f.Construct(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, 2, a.HistoryLen())

	_, err = a.Respond(context.Background(), []string{"now"})
	require.NoError(t, err)
	assert.Equal(t, 3, a.HistoryLen(), "history is capped")
}

func TestFactoryRequiresProvider(t *testing.T) {
	_, err := (&Factory{}).Construct(context.Background(), "42")
	assert.True(t, utils.IsCode(err, utils.CodeConfig))
}

func TestRespondProviderFailure(t *testing.T) {
	f := &Factory{Provider: &fakeProvider{err: errors.New("upstream 500")}}
	a, err := f.Construct(context.Background(), "42")
	require.NoError(t, err)

	_, err = a.Respond(context.Background(), []string{"hi"})
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeProcessing))
	assert.Zero(t, a.HistoryLen())
}
