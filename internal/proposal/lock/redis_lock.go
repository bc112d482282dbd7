package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisLock é o marcador "criação em andamento" por partida: SET NX com TTL.
// Colapsa gatilhos concorrentes (gancho de conclusão + sweep) numa criação só.
// A correção não depende dele — quem garante é o claim de índice e o
// short-circuit idempotente — mas evita submissão duplicada ao ledger.
type RedisLock struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisLock(rdb *redis.Client, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisLock{rdb: rdb, ttl: ttl}
}

func key(matchID string) string { return "proposal_lock:" + matchID }

// Acquire tenta adquirir o lock. ok=false significa outra criação em voo.
func (l *RedisLock) Acquire(ctx context.Context, matchID string) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = l.rdb.SetNX(ctx, key(matchID), token, l.ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// script de liberação: só deleta se o token ainda for o nosso
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

// Release libera o lock em melhor esforço; TTL cobre o caso de falha aqui.
func (l *RedisLock) Release(ctx context.Context, matchID, token string) error {
	return releaseScript.Run(ctx, l.rdb, []string{key(matchID)}, token).Err()
}
