package vecstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaichq/mosaic/internal/chunk"
	"github.com/mosaichq/mosaic/internal/log"
)

func TestNew_RequiresPool(t *testing.T) {
	_, err := New(nil, log.NewNop())
	assert.Error(t, err)
}

func TestUpsertBatch_CountMismatch(t *testing.T) {
	s := &Store{logger: log.NewNop()}

	err := s.UpsertBatch(context.Background(), "org-1", uuid.New(),
		[]chunk.Chunk{{ID: "a"}, {ID: "b"}},
		[][]float32{{1, 2}}, nil)
	assert.ErrorIs(t, err, ErrVectorCountMismatch)
}

func TestUpsertBatch_EmptyIsNoop(t *testing.T) {
	s := &Store{logger: log.NewNop()}

	// No database behind the store; an empty batch must not touch it.
	err := s.UpsertBatch(context.Background(), "org-1", uuid.New(), nil, nil, nil)
	assert.NoError(t, err)
}

func TestApplyOptions_Defaults(t *testing.T) {
	o := applyOptions(nil)
	assert.Equal(t, DefaultTopK, o.topK)
	assert.Zero(t, o.minSimilarity)
	assert.Nil(t, o.filter)
}

func TestApplyOptions(t *testing.T) {
	o := applyOptions([]SearchOption{
		WithTopK(3),
		WithMinSimilarity(0.75),
		WithFilter(map[string]any{"category": "policy"}),
	})
	assert.Equal(t, 3, o.topK)
	assert.Equal(t, 0.75, o.minSimilarity)
	assert.Equal(t, map[string]any{"category": "policy"}, o.filter)
}

func TestApplyOptions_IgnoresInvalid(t *testing.T) {
	o := applyOptions([]SearchOption{
		WithTopK(0),
		WithTopK(-5),
		WithFilter(nil),
	})
	assert.Equal(t, DefaultTopK, o.topK)
	assert.Nil(t, o.filter)
}

func TestMetadataJSON(t *testing.T) {
	b, err := metadataJSON(map[string]any{"category": "report"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"category":"report"}`, string(b))

	b, err = metadataJSON(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(b))
}
