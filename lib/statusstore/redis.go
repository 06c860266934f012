// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package statusstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/uber-go/tally"
)

// RedisStore is a Store backed by Redis. Entries are hashes; the TTL is set
// in the same pipeline as the hash write.
type RedisStore struct {
	config RedisConfig
	pool   *redis.Pool
	stats  tally.Scope
}

// NewRedisStore creates a new RedisStore.
func NewRedisStore(config RedisConfig, stats tally.Scope) (*RedisStore, error) {
	config.applyDefaults()

	if config.Addr == "" {
		return nil, errors.New("invalid config: missing addr")
	}

	s := &RedisStore{
		config: config,
		pool: &redis.Pool{
			Dial: func() (redis.Conn, error) {
				return redis.Dial(
					"tcp",
					config.Addr,
					redis.DialConnectTimeout(config.DialTimeout),
					redis.DialReadTimeout(config.ReadTimeout),
					redis.DialWriteTimeout(config.WriteTimeout))
			},
			MaxIdle:     config.MaxIdleConns,
			MaxActive:   config.MaxActiveConns,
			IdleTimeout: config.IdleConnTimeout,
			Wait:        true,
		},
		stats: stats.SubScope("statusstore"),
	}

	// Ensure we can connect to Redis.
	c, err := s.pool.Dial()
	if err != nil {
		return nil, fmt.Errorf("dial redis: %s", err)
	}
	c.Close()

	return s, nil
}

// Close implements Store.
func (s *RedisStore) Close() {
	s.pool.Close()
}

func (s *RedisStore) failure(err error) error {
	s.stats.Counter("status-store-failure").Inc(1)
	return err
}

// Get implements Store.
func (s *RedisStore) Get(key string) (map[string]string, error) {
	c := s.pool.Get()
	defer c.Close()

	fields, err := redis.StringMap(c.Do("HGETALL", key))
	if err != nil {
		return nil, s.failure(fmt.Errorf("HGETALL: %s", err))
	}
	if len(fields) == 0 {
		// Expired or never written. Both are misses.
		return nil, nil
	}
	return fields, nil
}

// Put implements Store.
func (s *RedisStore) Put(key string, fields map[string]string, ttl time.Duration) error {
	if len(fields) == 0 {
		return errors.New("fields required")
	}
	c := s.pool.Get()
	defer c.Close()

	// DEL clears fields left over from a previous entry before the rewrite.
	// The pipeline keeps value and TTL together.
	if err := c.Send("MULTI"); err != nil {
		return s.failure(fmt.Errorf("send MULTI: %s", err))
	}
	if err := c.Send("DEL", key); err != nil {
		return s.failure(fmt.Errorf("send DEL: %s", err))
	}
	if err := c.Send("HMSET", redis.Args{}.Add(key).AddFlat(fields)...); err != nil {
		return s.failure(fmt.Errorf("send HMSET: %s", err))
	}
	if err := c.Send("EXPIRE", key, int(ttl.Seconds())); err != nil {
		return s.failure(fmt.Errorf("send EXPIRE: %s", err))
	}
	if _, err := c.Do("EXEC"); err != nil {
		return s.failure(fmt.Errorf("EXEC: %s", err))
	}
	return nil
}

// PutIfAbsent implements Store.
func (s *RedisStore) PutIfAbsent(key string, value string, ttl time.Duration) (bool, error) {
	c := s.pool.Get()
	defer c.Close()

	_, err := redis.String(c.Do("SET", key, value, "NX", "EX", int(ttl.Seconds())))
	if err == redis.ErrNil {
		// Another holder exists.
		return false, nil
	}
	if err != nil {
		return false, s.failure(fmt.Errorf("SET NX: %s", err))
	}
	return true, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(key string) error {
	c := s.pool.Get()
	defer c.Close()

	if _, err := c.Do("DEL", key); err != nil {
		return s.failure(fmt.Errorf("DEL: %s", err))
	}
	return nil
}
