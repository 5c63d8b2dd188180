package store

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-monitor/realtime/internal/domain"
)

func TestParseSpaceChannel(t *testing.T) {
	cases := []struct {
		channel string
		want    string
		ok      bool
	}{
		{"space:college-1:events", "college-1", true},
		{"space:a:b:events", "a:b", true},
		{"space::events", "", false},
		{"fleet:college-1:events", "", false},
		{"space:college-1:alerts", "", false},
	}
	for _, tc := range cases {
		got, ok := parseSpaceChannel(tc.channel)
		assert.Equal(t, tc.ok, ok, tc.channel)
		assert.Equal(t, tc.want, got, tc.channel)
	}
}

func TestChannelAndKeyNames(t *testing.T) {
	assert.Equal(t, "space:college-1:events", spaceChannel("college-1"))
	assert.Equal(t, "session:abc", sessionKey("abc"))
}

func unreachableRedis(t *testing.T) *RedisStore {
	t.Helper()
	rdb := NewRedisStoreWithClient(redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	}))
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisStoreSurfacesConnectionErrors(t *testing.T) {
	rdb := unreachableRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	assert.Error(t, rdb.Ping(ctx))

	id, err := rdb.GetSession(ctx, "tok")
	assert.Nil(t, id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis get session failed")

	err = rdb.PublishSpace(ctx, "college-1", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "college-1")

	err = rdb.PutSession(ctx, "tok", domain.Identity{SubjectID: "drv-1", Role: domain.RoleDriver}, time.Minute)
	assert.Error(t, err)

	called := false
	err = rdb.SubscribeSpaces(ctx, func(string, []byte) { called = true })
	assert.Error(t, err)
	assert.False(t, called)
}
