package vector

import (
	"errors"
	"testing"

	"github.com/hyperjump/kotae/internal/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorLiteral(t *testing.T) {
	assert.Equal(t, "[0.5,-1,3.25]", vectorLiteral([]float32{0.5, -1, 3.25}))
	assert.Equal(t, "[]", vectorLiteral(nil))
}

func TestNewPgVectorStore_Config(t *testing.T) {
	_, err := NewPgVectorStore(PgVectorConfig{Table: "chunks"})
	assert.True(t, errors.Is(err, backend.ErrConfiguration))

	_, err = NewPgVectorStore(PgVectorConfig{DSN: "postgres://localhost/kotae", Table: "chunks; DROP TABLE x"})
	assert.True(t, errors.Is(err, backend.ErrConfiguration))

	s, err := NewPgVectorStore(PgVectorConfig{DSN: "postgres://localhost/kotae?sslmode=disable", Table: "kotae_content"})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, `"kotae_content"`, s.table)
}
