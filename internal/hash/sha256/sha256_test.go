package sha256

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasherHash(t *testing.T) {
	t.Parallel()

	h := New()
	require.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", h.Hash([]byte("hello")))
	require.Equal(t, h.Hash([]byte("hello")), h.Hash([]byte("hello")))
	require.NotEqual(t, h.Hash([]byte("hello")), h.Hash([]byte("hello!")))
}

func TestHasherHashReader(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.HashReader(strings.NewReader("hello"))
	require.NoError(t, err)
	require.Equal(t, h.Hash([]byte("hello")), got)

	_, err = h.HashReader(failingReader{})
	require.Error(t, err)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }
