// Package redis persists API tokens in redis, as an alternative to the
// storage driver's token capability for deployments that already run one.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"

	storagedriver "github.com/packdock/packdock/registry/storage/driver"
)

const keyPrefix = "packdock:tokens:"

// Config carries the redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// TokenStore implements storagedriver.TokenStore on a redis hash per user.
type TokenStore struct {
	pool *redis.Pool
}

var _ storagedriver.TokenStore = &TokenStore{}

// New builds a TokenStore with its own connection pool.
func New(config Config) *TokenStore {
	return &TokenStore{
		pool: &redis.Pool{
			MaxIdle:     3,
			IdleTimeout: 240 * time.Second,
			Dial: func() (redis.Conn, error) {
				opts := []redis.DialOption{redis.DialDatabase(config.DB)}
				if config.Password != "" {
					opts = append(opts, redis.DialPassword(config.Password))
				}
				return redis.Dial("tcp", config.Addr, opts...)
			},
			TestOnBorrow: func(c redis.Conn, t time.Time) error {
				if time.Since(t) < time.Minute {
					return nil
				}
				_, err := c.Do("PING")
				return err
			},
		},
	}
}

// Close releases the connection pool.
func (s *TokenStore) Close() error {
	return s.pool.Close()
}

// SaveToken implements storagedriver.TokenStore.
func (s *TokenStore) SaveToken(ctx context.Context, token storagedriver.Token) error {
	payload, err := json.Marshal(token)
	if err != nil {
		return err
	}
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Do("HSET", keyPrefix+token.User, token.Key, payload)
	return err
}

// DeleteToken implements storagedriver.TokenStore.
func (s *TokenStore) DeleteToken(ctx context.Context, user, key string) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	removed, err := redis.Int(conn.Do("HDEL", keyPrefix+user, key))
	if err != nil {
		return err
	}
	if removed == 0 {
		return fmt.Errorf("no token with key %q for user %q", key, user)
	}
	return nil
}

// ReadTokens implements storagedriver.TokenStore.
func (s *TokenStore) ReadTokens(ctx context.Context, user string) ([]storagedriver.Token, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	values, err := redis.StringMap(conn.Do("HGETALL", keyPrefix+user))
	if err != nil {
		return nil, err
	}
	tokens := make([]storagedriver.Token, 0, len(values))
	for _, raw := range values {
		var token storagedriver.Token
		if err := json.Unmarshal([]byte(raw), &token); err != nil {
			return nil, fmt.Errorf("corrupt token record for user %q: %w", user, err)
		}
		tokens = append(tokens, token)
	}
	return tokens, nil
}
