package hashx

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSum_EmptyInput(t *testing.T) {
	d, err := Sum(bytes.NewReader(nil), -1)
	require.NoError(t, err)

	assert.Equal(t, int64(0), d.Size)
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", d.MD5)
	assert.Equal(t, "da39a3ee5e6b4b0d3255bfef95601890afd80709", d.SHA1)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", d.SHA256)
}

func TestSum_KnownContent(t *testing.T) {
	d, err := Sum(strings.NewReader("abc"), 3)
	require.NoError(t, err)

	assert.Equal(t, int64(3), d.Size)
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", d.MD5)
	assert.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", d.SHA1)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", d.SHA256)
}

func TestSum_SizeMismatch(t *testing.T) {
	_, err := Sum(strings.NewReader("abc"), 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSizeMismatch))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestSum_ReadError(t *testing.T) {
	_, err := Sum(failingReader{}, -1)
	require.Error(t, err)
}
