package services

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func digitsToString(d []byte) string {
	out := make([]byte, len(d))
	for i, b := range d {
		out[i] = '0' + b
	}
	return string(out)
}

func TestCaptcha_SingleUse(t *testing.T) {
	client, mr := newTestRedis(t)
	svc := NewCaptchaService(client)
	store := &redisCaptchaStore{client: client}

	var png bytes.Buffer
	id, err := svc.Generate(&png)
	require.NoError(t, err)
	assert.NotZero(t, png.Len())
	assert.True(t, mr.Exists(captchaKeyPrefix+id))

	answer := digitsToString(store.Get(id, false))
	require.Len(t, answer, captchaLength)

	assert.True(t, svc.Verify(id, answer))
	assert.False(t, svc.Verify(id, answer))
	assert.False(t, mr.Exists(captchaKeyPrefix+id))
}

func TestCaptcha_WrongAnswer(t *testing.T) {
	client, _ := newTestRedis(t)
	svc := NewCaptchaService(client)

	id := svc.NewChallenge()
	assert.False(t, svc.Verify(id, "xxxx"))
	assert.False(t, svc.Verify("missing", "1234"))
}
