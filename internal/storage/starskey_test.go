package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStarskeyKV(t *testing.T) {
	s, err := NewStarskeyStorage(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	runKVContract(t, s)
}

func TestStarskeyCancelledContext(t *testing.T) {
	s, err := NewStarskeyStorage(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Set(ctx, "k", "v"), context.Canceled)
	_, _, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}
