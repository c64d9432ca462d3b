package mempool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetBytesLength(t *testing.T) {
	buf := GetBytes(100)
	assert.Len(t, buf, 100)
	PutBytes(buf)
}

func TestGetBytesReuse(t *testing.T) {
	buf := GetBytes(50)
	PutBytes(buf)
	buf2 := GetBytes(50)
	assert.Len(t, buf2, 50)
	PutBytes(buf2)
}

func TestPutBytesNilIsSafe(t *testing.T) {
	assert.NotPanics(t, func() { PutBytes(nil) })
}
