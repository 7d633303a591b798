package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadKeyStore_Unconfigured(t *testing.T) {
	t.Setenv("INGESTOR_API_KEYS", "")

	assert.Nil(t, LoadKeyStore())
}

func TestLoadKeyStore_MalformedPairsSkipped(t *testing.T) {
	t.Setenv("INGESTOR_API_KEYS", "nocolon,:hashonly,nameonly:")

	assert.Nil(t, LoadKeyStore(), "no usable pairs means auth stays disabled")
}

func TestKeyStore_Verify(t *testing.T) {
	hash, err := HashKey("sk-live-test")
	require.NoError(t, err)

	t.Setenv("INGESTOR_API_KEYS", "analytics:"+hash)

	store := LoadKeyStore()
	require.NotNil(t, store)

	caller, ok := store.Verify(t.Context(), "sk-live-test")
	assert.True(t, ok)
	assert.Equal(t, "analytics", caller)

	_, ok = store.Verify(t.Context(), "wrong-key")
	assert.False(t, ok)
}
