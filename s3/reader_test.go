package s3

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_ObjectReader(t *testing.T) {
	assert := assert.New(t)

	r := newObjectReader(io.NopCloser(strings.NewReader("hello world")), "b", "k", 11)

	p := make([]byte, 5)
	n, err := r.Read(p)
	assert.NoError(err)
	assert.Equal(5, n)
	assert.Equal(int64(5), r.BytesRead())

	assert.NoError(r.Close())
	assert.NoError(r.Close())

	_, err = r.Read(p)
	assert.ErrorIs(err, io.ErrClosedPipe)
	assert.Equal(int64(5), r.BytesRead())
}
