package testutil

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisProbeTimeout = 2 * time.Second
	redisLeaseTTL     = 30 * time.Minute
)

// GetTestRedisAddr finds a reachable Redis for tests. REDIS_ADDR wins when
// set; otherwise the usual CI addresses are probed before the compose test
// profile on 56379. The bool reports whether anything answered.
func GetTestRedisAddr(t TestingTB) (string, bool) {
	t.Helper()

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return addr, pingRedis(t, addr)
	}
	for _, addr := range []string{"redis:6379", "localhost:6379"} {
		if pingRedis(t, addr) {
			return addr, true
		}
	}
	const addr = "localhost:56379"
	return addr, pingRedis(t, addr)
}

func pingRedis(t TestingTB, addr string) bool {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() {
		if err := client.Close(); err != nil {
			t.Logf("close redis probe: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), redisProbeTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Logf("redis not reachable at %s: %v", addr, err)
		return false
	}
	return true
}

// SetupTestRedis returns a client on a leased, flushed logical database.
// Tests skip when no server answers unless TEST_REQUIRE_REDIS or
// TEST_REQUIRE_INFRA turns that into a failure. Callers own Close.
func SetupTestRedis(t TestingTB) *redis.Client {
	t.Helper()

	addr, ok := GetTestRedisAddr(t)
	if !ok {
		if requireRedis() {
			t.Fatal("redis required but unreachable")
		}
		t.Skip("redis unreachable")
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: leaseRedisDB(t, addr)})

	ctx, cancel := context.WithTimeout(context.Background(), redisProbeTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		if requireRedis() {
			t.Fatalf("redis required but unreachable at %s: %v", addr, err)
		}
		t.Skipf("redis unreachable at %s: %v", addr, err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		_ = client.Close()
		t.Fatalf("flush leased redis db: %v", err)
	}
	return client
}

// leaseRedisDB reserves one of the logical databases 1 through 15 by taking
// a lock key in database 0, where FlushDB on the leased database cannot
// erase it. TEST_REDIS_DB bypasses the scan.
func leaseRedisDB(t TestingTB, addr string) int {
	t.Helper()

	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
		t.Logf("ignoring invalid TEST_REDIS_DB=%q", v)
	}

	locker := redis.NewClient(&redis.Options{Addr: addr})
	defer func() {
		if err := locker.Close(); err != nil {
			t.Logf("close redis locker: %v", err)
		}
	}()

	for db := 1; db <= 15; db++ {
		key := fmt.Sprintf("postpilot:test:lease:%d", db)
		val := fmt.Sprintf("%d:%d", os.Getpid(), time.Now().UnixNano())

		ctx, cancel := context.WithTimeout(context.Background(), redisProbeTimeout)
		ok, err := locker.SetNX(ctx, key, val, redisLeaseTTL).Result()
		cancel()
		if err != nil || !ok {
			continue
		}

		t.Cleanup(func() { releaseRedisLease(t, addr, key) })
		t.Logf("leased redis db %d at %s", db, addr)
		return db
	}

	t.Logf("no free redis db at %s, sharing db 1", addr)
	return 1
}

func releaseRedisLease(t TestingTB, addr, key string) {
	locker := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), redisProbeTimeout)
	defer cancel()
	if err := locker.Del(ctx, key).Err(); err != nil {
		t.Logf("release redis lease %s: %v", key, err)
	}
	if err := locker.Close(); err != nil {
		t.Logf("close redis locker: %v", err)
	}
}
