package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSockJSCodec(t *testing.T) {
	c := sockJSCodec{}

	assert.Equal(t, "o", string(c.opening()))
	assert.Equal(t, "h", string(c.heartbeat()))
	assert.Equal(t, `a["MESSAGE\n\n\u0000"]`, string(c.encode([]byte("MESSAGE\n\n\x00"))))
	assert.Equal(t, `c[3000,"Go away!"]`, string(c.closing(3000, "Go away!")))

	parts, err := c.decode([]byte(`["CONNECT\n\n\u0000","SEND\n\n\u0000"]`))
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, "CONNECT\n\n\x00", string(parts[0]))

	parts, err = c.decode([]byte(`"SEND\n\n\u0000"`))
	require.NoError(t, err)
	require.Len(t, parts, 1)

	_, err = c.decode(nil)
	assert.Error(t, err)
	_, err = c.decode([]byte(`[1,2]`))
	assert.Error(t, err)
}

func TestRawCodec(t *testing.T) {
	c := rawCodec{}
	assert.Nil(t, c.opening())
	assert.Nil(t, c.heartbeat())
	assert.Nil(t, c.closing(1000, ""))
	parts, err := c.decode([]byte("CONNECT\n\n\x00"))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("CONNECT\n\n\x00")}, parts)
}

func TestParseUserDestination(t *testing.T) {
	id, kind, ok := parseUserDestination("/user/42/message")
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, "message", kind)

	for _, bad := range []string{"/topic/system", "/user/x/message", "/user/1", "/user/1/a/b"} {
		_, _, ok := parseUserDestination(bad)
		assert.False(t, ok, bad)
	}
}
