package adapter_test

import (
	"context"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/memoria/pkg/adapter"
	"github.com/m-mizutani/memoria/pkg/interfaces"
)

func TestEmbeddingCache(t *testing.T) {
	ctx := context.Background()
	calls := 0
	embedder := interfaces.EmbedFunc(func(ctx context.Context, text string) ([]float32, error) {
		calls++
		if text == "broken" {
			return nil, goerr.New("embedding failed")
		}
		return []float32{float32(len(text)), 1}, nil
	})

	cache, err := adapter.NewEmbeddingCache(embedder)
	gt.NoError(t, err)
	t.Cleanup(cache.Close)

	v1, err := cache.Embed(ctx, "hello")
	gt.NoError(t, err)
	gt.Equal(t, v1[0], float32(5))
	cache.Wait()

	v2, err := cache.Embed(ctx, "hello")
	gt.NoError(t, err)
	gt.Equal(t, v2[0], float32(5))
	gt.Equal(t, calls, 1)

	t.Run("cached vector is not shared", func(t *testing.T) {
		v2[0] = 100
		v3, err := cache.Embed(ctx, "hello")
		gt.NoError(t, err)
		gt.Equal(t, v3[0], float32(5))
	})

	t.Run("errors are not cached", func(t *testing.T) {
		before := calls
		_, err := cache.Embed(ctx, "broken")
		gt.Error(t, err)
		cache.Wait()
		_, err = cache.Embed(ctx, "broken")
		gt.Error(t, err)
		gt.Equal(t, calls, before+2)
	})
}
