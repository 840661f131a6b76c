// Package redisstore keeps a session's tokens in a Redis hash so several
// processes on one host can share a login.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jrsteele09/go-auth-client/token"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultKey     = "auth:tokens"
	defaultTimeout = 3 * time.Second

	accessField  = "access_token"
	refreshField = "refresh_token"
)

var _ token.Store = (*Store)(nil)

type Store struct {
	client  redis.UniversalClient
	key     string
	timeout time.Duration
}

type Option func(*Store)

func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, key: DefaultKey, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Load() (token.Pair, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	values, err := s.client.HGetAll(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return token.Pair{}, nil
	}
	if err != nil {
		return token.Pair{}, fmt.Errorf("redis hgetall %s: %w", s.key, err)
	}
	return token.Pair{
		AccessToken:  values[accessField],
		RefreshToken: values[refreshField],
	}, nil
}

// Save replaces the whole hash in one transaction so a reader never sees an
// access token next to a refresh token from another pair.
func (s *Store) Save(pair token.Pair) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		fields := make(map[string]any, 2)
		if pair.AccessToken != "" {
			fields[accessField] = pair.AccessToken
		}
		if pair.RefreshToken != "" {
			fields[refreshField] = pair.RefreshToken
		}
		if len(fields) > 0 {
			pipe.HSet(ctx, s.key, fields)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save %s: %w", s.key, err)
	}
	return nil
}

func (s *Store) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", s.key, err)
	}
	return nil
}
