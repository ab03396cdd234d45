package memory

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedIsNormalized(t *testing.T) {
	for _, text := range []string{"hello world", "", "!!!", "Go is a programming language"} {
		vec, err := Embed(context.Background(), text)
		require.NoError(t, err)
		var sum float64
		for _, v := range vec {
			sum += float64(v) * float64(v)
		}
		assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5, "text %q", text)
	}
}

func TestRememberAndRecall(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Remember(ctx, "The Eiffel tower is in Paris, France", "travel")
	require.NoError(t, err)
	_, err = s.Remember(ctx, "Sourdough bread needs a mature starter")
	require.NoError(t, err)
	_, err = s.Remember(ctx, "  ")
	assert.Error(t, err)
	assert.Equal(t, 2, s.Count())

	got, err := s.Recall(ctx, "where is the Eiffel tower", 3, 0.30)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Contains(t, got[0].Content, "Eiffel")
	assert.Equal(t, []string{"travel"}, got[0].Tags)
	for _, m := range got {
		assert.GreaterOrEqual(t, m.Similarity, 0.30)
	}
}

func TestRecallEmptyStore(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	got, err := s.Recall(context.Background(), "anything", 3, 0.3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPersistentStore(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	_, err = s.Remember(context.Background(), "persist me across restarts")
	require.NoError(t, err)

	reopened, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Count())
}
