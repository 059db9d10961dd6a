package backend

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailtrack/internal/config"
	"mailtrack/internal/store/memory"
	"mailtrack/internal/store/redisstore"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	repo, closeFn, err := Open(ctx, config.StoreConfig{StoreBackend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, repo)
	closeFn()

	mr := miniredis.RunT(t)
	repo, closeFn, err = Open(ctx, config.StoreConfig{StoreBackend: "redis", RedisAddr: mr.Addr()})
	require.NoError(t, err)
	assert.IsType(t, &redisstore.Store{}, repo)
	assert.NoError(t, repo.Ping(ctx))
	closeFn()

	_, closeFn, err = Open(ctx, config.StoreConfig{StoreBackend: "cassandra"})
	assert.Error(t, err)
	assert.NotNil(t, closeFn)
}

func TestOpen_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, _, err := Open(context.Background(), config.StoreConfig{StoreBackend: "redis", RedisAddr: addr})
	assert.Error(t, err)
}
