package app

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/ragchat/internal/config"
	"github.com/nikhilbhutani/ragchat/internal/memory"
	"github.com/nikhilbhutani/ragchat/internal/vectorstore"
)

func TestSetupLoggerLevel(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger := SetupLogger("debug")
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))

	logger = SetupLogger("nonsense")
	assert.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
}

func TestBuildChromemWithoutRedis(t *testing.T) {
	cfg := config.Defaults()
	cfg.Redis.Addr = ""
	cfg.Index.Path = t.TempDir()

	s, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	assert.Nil(t, s.Redis)
	assert.IsType(t, &vectorstore.ChromemStore{}, s.Store)
	assert.NotNil(t, s.Pipeline)
	assert.IsType(t, &memory.InMemorySessions{}, s.Sessions())
	assert.Len(t, s.Metrics(), 5)
	assert.NotNil(t, s.Orchestrator())
}

func TestBuildRequiresRedisForAsync(t *testing.T) {
	cfg := config.Defaults()
	cfg.Redis.Addr = ""
	cfg.Ingest.Mode = "async"
	cfg.Index.Path = t.TempDir()

	_, err := Build(context.Background(), cfg)
	assert.Error(t, err)
}

func TestBuildRejectsBadChunking(t *testing.T) {
	cfg := config.Defaults()
	cfg.Redis.Addr = ""
	cfg.Index.Path = t.TempDir()
	cfg.Ingest.Strategy = "sentences"

	_, err := Build(context.Background(), cfg)
	assert.Error(t, err)
}
