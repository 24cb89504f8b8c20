package challenge

import (
	"context"
	"time"

	"github.com/iov-one/torasuri"
	"github.com/iov-one/torasuri/errors"
	"github.com/iov-one/torasuri/orm"
	"github.com/redis/go-redis/v9"
)

// redisGrace keeps a record in redis past its expiry so that a late
// verification is reported as expired rather than unknown.
const redisGrace = time.Minute

// RedisStore is a Store backed by redis. Records are removed by redis once
// they expire.
type RedisStore struct {
	client *redis.Client
	prefix string
	clock  torasuri.Clock
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a store using given client. All keys are prefixed
// with prefix.
func NewRedisStore(client *redis.Client, prefix string, clock torasuri.Clock) *RedisStore {
	if clock == nil {
		clock = torasuri.SystemClock{}
	}
	return &RedisStore{client: client, prefix: prefix, clock: clock}
}

// DialRedis connects to redis at given address and checks that it responds.
func DialRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(errors.ErrDatabase, "redis %s: %s", addr, err)
	}
	return client, nil
}

func (s *RedisStore) key(hash string) string {
	return s.prefix + "challenge:" + hash
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, c *Challenge) error {
	if err := c.Validate(); err != nil {
		return errors.Wrap(err, "invalid model")
	}
	raw, err := orm.Marshal(c)
	if err != nil {
		return err
	}
	ttl := c.ExpiresAt.Time().Sub(s.clock.Now()) + redisGrace
	if ttl <= 0 {
		return errors.Wrap(errors.ErrExpired, "challenge")
	}
	ok, err := s.client.SetNX(ctx, s.key(c.Hash), raw, ttl).Result()
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, err.Error())
	}
	if !ok {
		return errors.Wrapf(errors.ErrDuplicate, "challenge %s", c.Hash)
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, hash string) (*Challenge, error) {
	raw, err := s.client.Get(ctx, s.key(hash)).Bytes()
	switch {
	case err == redis.Nil:
		return nil, errors.Wrapf(errors.ErrNotFound, "challenge %s", hash)
	case err != nil:
		return nil, errors.Wrap(errors.ErrDatabase, err.Error())
	}
	var c Challenge
	if err := orm.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Delete implements Store. Redis DEL is atomic, so only one of concurrent
// callers sees a deleted record.
func (s *RedisStore) Delete(ctx context.Context, hash string) error {
	n, err := s.client.Del(ctx, s.key(hash)).Result()
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, err.Error())
	}
	if n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "challenge %s", hash)
	}
	return nil
}
