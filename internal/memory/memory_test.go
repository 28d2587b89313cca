package memory

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contents(turns []Turn) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = t.Content
	}
	return out
}

func exerciseSessions(t *testing.T, s Sessions) {
	ctx := context.Background()
	a, b := uuid.NewString(), uuid.NewString()

	require.NoError(t, s.Append(ctx, a, UserTurn("hi"), AssistantTurn("hello")))
	require.NoError(t, s.Append(ctx, b, UserTurn("other session")))

	got, err := s.History(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []string{"hi", "hello"}, contents(got))
	assert.Equal(t, RoleUser, got[0].Role)
	assert.False(t, got[0].Timestamp.IsZero())

	got, err = s.History(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, []string{"other session"}, contents(got))

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, a, UserTurn(fmt.Sprintf("q%d", i))))
	}
	got, err = s.History(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []string{"q1", "q2", "q3", "q4"}, contents(got))

	require.NoError(t, s.Clear(ctx, a))
	got, err = s.History(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.History(ctx, "never-used")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestInMemorySessions(t *testing.T) {
	s := NewInMemorySessions(4, 0)
	exerciseSessions(t, s)
	assert.Equal(t, 1, s.Len())
}

func TestInMemoryHistoryIsACopy(t *testing.T) {
	s := NewInMemorySessions(10, 0)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "s", UserTurn("original")))

	got, _ := s.History(ctx, "s")
	got[0].Content = "mutated"

	again, _ := s.History(ctx, "s")
	assert.Equal(t, "original", again[0].Content)
}

func TestInMemorySweepDropsIdleSessions(t *testing.T) {
	s := NewInMemorySessions(10, 10*time.Minute)
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	for i := range 200 {
		require.NoError(t, s.Append(ctx, fmt.Sprintf("s%d", i), UserTurn("hi")))
	}
	now = now.Add(5 * time.Minute)
	_, err := s.History(ctx, "s7")
	require.NoError(t, err)

	now = now.Add(6 * time.Minute)
	s.Sweep()
	assert.Equal(t, 1, s.Len())
	h, _ := s.History(ctx, "s7")
	assert.Len(t, h, 1)

	now = now.Add(11 * time.Minute)
	s.Sweep()
	assert.Zero(t, s.Len())
}

func TestInMemorySweepWithoutTTL(t *testing.T) {
	s := NewInMemorySessions(10, 0)
	s.now = func() time.Time { return time.Unix(0, 0) }
	require.NoError(t, s.Append(context.Background(), "s", UserTurn("hi")))
	s.now = time.Now
	s.Sweep()
	assert.Equal(t, 1, s.Len())
}

func TestInMemoryConcurrentAppends(t *testing.T) {
	s := NewInMemorySessions(1000, 0)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = s.Append(ctx, fmt.Sprintf("s%d", i%4), UserTurn("x"))
			}
		}(i)
	}
	wg.Wait()

	total := 0
	for i := 0; i < 4; i++ {
		h, _ := s.History(ctx, fmt.Sprintf("s%d", i))
		total += len(h)
	}
	assert.Equal(t, 200, total)
}

// Runs against a real server when REDIS_TEST_ADDR is set.
func TestRedisSessions(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())

	s := NewRedisSessions(client, 4, time.Minute)
	exerciseSessions(t, s)
}
