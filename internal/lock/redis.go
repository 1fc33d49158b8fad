package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lua-скрипты выполняются атомарно: проверка владельца и запись
// не разделяются другими командами. Захват — обычный SET NX PX.
var (
	extendScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	return 1
end
return 0
`)

	releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	redis.call('DEL', KEYS[1])
	return 1
end
return 0
`)
)

// RedisConfig — конфигурация RedisLocker.
type RedisConfig struct {
	Client redis.UniversalClient

	// Prefix — пространство имён ключей (по умолчанию "wip:lock:").
	Prefix string

	// Owner — токен владельца. По умолчанию генерируется.
	Owner string
}

// RedisLocker хранит блокировки ключами Redis с TTL.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	owner  string
}

var _ Locker = (*RedisLocker)(nil)

// NewRedisLocker создаёт RedisLocker.
func NewRedisLocker(cfg RedisConfig) *RedisLocker {
	if cfg.Prefix == "" {
		cfg.Prefix = "wip:lock:"
	}
	if cfg.Owner == "" {
		cfg.Owner = NewOwner()
	}
	return &RedisLocker{client: cfg.Client, prefix: cfg.Prefix, owner: cfg.Owner}
}

func (l *RedisLocker) key(key string) string {
	return l.prefix + key
}

// Owner возвращает токен владельца.
func (l *RedisLocker) Owner() string {
	return l.owner
}

// Acquire пытается взять блокировку.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := validate(key, ttl); err != nil {
		return false, err
	}
	ok, err := l.client.SetNX(ctx, l.key(key), l.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	return ok, nil
}

// Extend продлевает lease, если ключ всё ещё наш.
func (l *RedisLocker) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := validate(key, ttl); err != nil {
		return false, err
	}
	n, err := extendScript.Run(ctx, l.client, []string{l.key(key)}, l.owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("extend lock: %w", err)
	}
	return n == 1, nil
}

// Release снимает блокировку, если она наша.
func (l *RedisLocker) Release(ctx context.Context, key string) (bool, error) {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key(key)}, l.owner).Int()
	if err != nil {
		return false, fmt.Errorf("release lock: %w", err)
	}
	return n == 1, nil
}

// IsFree проверяет, что блокировку никто не держит.
func (l *RedisLocker) IsFree(ctx context.Context, key string) (bool, error) {
	n, err := l.client.Exists(ctx, l.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("read lock: %w", err)
	}
	return n == 0, nil
}

// IsMine проверяет, что блокировку держит этот владелец.
func (l *RedisLocker) IsMine(ctx context.Context, key string) (bool, error) {
	owner, err := l.client.Get(ctx, l.key(key)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read lock: %w", err)
	}
	return owner == l.owner, nil
}
