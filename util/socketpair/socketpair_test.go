package socketpair

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSocketPairCloseWrite(t *testing.T) {
	a, b, err := SocketPair()
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	_, err = a.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, a.CloseWrite())

	got, err := io.ReadAll(b)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	// the other direction still works
	_, err = b.Write([]byte("back"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(a, buf)
	require.NoError(t, err)
	assert.Equal(t, "back", string(buf))
}
