package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMake(t *testing.T) {
	p := Make(2, 0, 2046, 0)

	assert.Equal(t, 2, p.Headroom())
	assert.Equal(t, 0, p.Len())
	assert.Equal(t, 2046, len(p.Buffer()))
	assert.Empty(t, p.Data())
}

func TestSetLenAfterRead(t *testing.T) {
	p := Make(2, 0, 2046, 0)

	n := copy(p.Buffer(), []byte{0x45, 0x00, 0x00, 0x3c})
	p.SetLen(n)

	assert.Equal(t, 4, p.Len())
	assert.Equal(t, []byte{0x45, 0x00, 0x00, 0x3c}, p.Data())
	assert.Equal(t, 2046-4, p.Tailroom())
}

func TestSetLenClamps(t *testing.T) {
	p := Make(2, 0, 16, 0)

	p.SetLen(-1)
	assert.Equal(t, 0, p.Len())

	p.SetLen(1000)
	assert.Equal(t, 16, p.Len())
}

func TestMakeClampsInitialLength(t *testing.T) {
	p := Make(0, 100, 10, 0)
	assert.Equal(t, 10, p.Len())
}
