package services

import (
	"context"
	"io"
	"time"

	"github.com/dchest/captcha"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	captchaKeyPrefix = "captcha:"
	captchaTTL       = 5 * time.Minute
	captchaLength    = 4
	captchaWidth     = 120
	captchaHeight    = 40
)

// redisCaptchaStore implements captcha.Store so every instance shares the
// issued challenges.
type redisCaptchaStore struct {
	client *redis.Client
}

func (s *redisCaptchaStore) Set(id string, digits []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.client.Set(ctx, captchaKeyPrefix+id, digits, captchaTTL).Err(); err != nil {
		zap.S().Warnf("captcha: store %s failed: %v", id, err)
	}
}

func (s *redisCaptchaStore) Get(id string, clear bool) []byte {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	key := captchaKeyPrefix + id
	var (
		val []byte
		err error
	)
	if clear {
		val, err = s.client.GetDel(ctx, key).Bytes()
	} else {
		val, err = s.client.Get(ctx, key).Bytes()
	}
	if err != nil {
		return nil
	}
	return val
}

type CaptchaService struct{}

// NewCaptchaService installs the Redis-backed store. With a nil client the
// package's in-memory store is kept.
func NewCaptchaService(client *redis.Client) *CaptchaService {
	if client != nil {
		captcha.SetCustomStore(&redisCaptchaStore{client: client})
	}
	return &CaptchaService{}
}

// Generate issues a new challenge and writes its PNG to w.
func (s *CaptchaService) Generate(w io.Writer) (string, error) {
	id := captcha.NewLen(captchaLength)
	if err := captcha.WriteImage(w, id, captchaWidth, captchaHeight); err != nil {
		return "", err
	}
	return id, nil
}

// NewChallenge issues a challenge without rendering it.
func (s *CaptchaService) NewChallenge() string {
	return captcha.NewLen(captchaLength)
}

// Verify consumes the challenge; a second call with the same id fails.
func (s *CaptchaService) Verify(id, answer string) bool {
	return captcha.VerifyString(id, answer)
}
