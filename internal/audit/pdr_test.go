package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/cadence/internal/store"
)

func TestHashInputsIsStable(t *testing.T) {
	a := HashInputs(map[string]any{"source": "goals", "key": "goals:g1"})
	b := HashInputs(map[string]any{"key": "goals:g1", "source": "goals"})
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, HashInputs(map[string]any{"source": "curiosity"}))
	assert.Equal(t, "hash_error", HashInputs(func() {}))
}

func TestRecordWritesToStore(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "cadence.db"))
	require.NoError(t, err)
	defer s.Close()

	w := NewPDRWriter(s)
	inputs := map[string]any{"source": "goals", "score": 72.5}
	entry, err := w.Record(context.Background(), "task.select", inputs, "selected", "goals:g1", "top score")
	require.NoError(t, err)
	assert.Equal(t, HashInputs(inputs), entry.InputsHash)

	entries, err := s.ListPDR(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "goals:g1", entries[0].TaskKey)
	assert.Equal(t, "top score", entries[0].Details)
}
