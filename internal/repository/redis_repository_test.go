package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// newRedisRepo connects to REDIS_ADDR (default localhost:6379) and skips the
// test when no server answers. Each test gets its own key prefix.
func newRedisRepo(t *testing.T) Repository {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}

	prefix := "lmdash-test-" + uuid.NewString()
	repo := NewRedisRepository(rdb, prefix)
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := rdb.Keys(ctx, prefix+":*").Result()
		if len(keys) > 0 {
			rdb.Del(ctx, keys...)
		}
		rdb.Close()
	})
	return repo
}

func TestRedisRepository(t *testing.T) {
	runRepositoryContract(t, newRedisRepo)
}
