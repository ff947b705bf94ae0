package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/yoobatch/internal/utils"
)

type scripted struct {
	chunks []string
	err    error
	hang   bool
}

func (s scripted) StreamAnswer(ctx context.Context, _ string) (<-chan string, <-chan error) {
	out := make(chan string, len(s.chunks))
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)
		for _, c := range s.chunks {
			out <- c
		}
		if s.hang {
			<-ctx.Done()
			return
		}
		if s.err != nil {
			errs <- s.err
		}
	}()
	return out, errs
}

func (scripted) Close() error { return nil }

func TestCollectJoinsChunks(t *testing.T) {
	got, err := Collect(context.Background(), scripted{chunks: []string{"Hel", "lo ", "there "}}, "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello there", got)
}

func TestCollectSurfacesStreamError(t *testing.T) {
	_, err := Collect(context.Background(), scripted{chunks: []string{"par"}, err: errors.New("quota")}, "hi")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeProcessing))
	assert.Contains(t, err.Error(), "quota")
}

func TestCollectEmptyAnswer(t *testing.T) {
	_, err := Collect(context.Background(), scripted{chunks: []string{"  "}}, "hi")
	assert.True(t, utils.IsCode(err, utils.CodeProcessing))
}

func TestCollectHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := Collect(ctx, scripted{hang: true}, "hi")
	assert.True(t, utils.IsCode(err, utils.CodeTimeout))
}
