package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Generator(t *testing.T) {
	var g UUIDv7Generator
	a, b := g.Generate(), g.Generate()
	assert.NotEqual(t, a, b)

	id, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())
}

func TestFixedGenerator(t *testing.T) {
	g := NewFixedGenerator("run-1", "run-2")
	assert.Equal(t, "run-1", g.Generate())
	assert.Equal(t, "run-2", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}
