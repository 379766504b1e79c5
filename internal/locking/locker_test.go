package locking

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalLockerSerializesSameTicket(t *testing.T) {
	l := NewLocalLocker()
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), 7)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			assert.NoError(t, unlock())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, l.Len())
}

func TestLocalLockerIndependentTickets(t *testing.T) {
	l := NewLocalLocker()
	unlockA, err := l.Lock(context.Background(), 1)
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctx, 2)
	require.NoError(t, err)
	assert.NoError(t, unlockB())
}

func TestLocalLockerHonorsContext(t *testing.T) {
	l := NewLocalLocker()
	unlock, err := l.Lock(context.Background(), 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.NoError(t, unlock())
	assert.NoError(t, unlock())
	assert.Equal(t, 0, l.Len())
}

func TestRedisLockerKey(t *testing.T) {
	l := NewRedisLocker(nil, "officeflow:lock:", time.Second, 10*time.Millisecond, nil)
	assert.Equal(t, "officeflow:lock:ticket:42", l.Key(42))
}

// Runs against a real server when OFFICEFLOW_TEST_REDIS_ADDR is set.
func TestRedisLockerAgainstServer(t *testing.T) {
	addr := os.Getenv("OFFICEFLOW_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("OFFICEFLOW_TEST_REDIS_ADDR not set, skipping redis lock test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	require.NoError(t, client.Ping(context.Background()).Err())

	prefix := "officeflow:test:" + time.Now().Format("150405.000000") + ":"
	l := NewRedisLocker(client, prefix, 300*time.Millisecond, 10*time.Millisecond, zap.NewNop())

	unlock, err := l.Lock(context.Background(), 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Renewal keeps the key alive past its ttl.
	time.Sleep(500 * time.Millisecond)
	ttl, err := client.PTTL(context.Background(), l.Key(1)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, unlock())
	exists, err := client.Exists(context.Background(), l.Key(1)).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}
