package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func testBank(t *testing.T, maxSlots int) (*Bank, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	bank, err := NewBank(rdb, Config{
		Kind:         "transcode",
		MaxSlots:     maxSlots,
		TTL:          5 * time.Second,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	return bank, mr
}

func TestAcquireRelease(t *testing.T) {
	ctx := context.Background()
	bank, mr := testBank(t, 2)

	a, err := bank.Acquire(ctx, time.Second)
	require.NoError(t, err)
	b, err := bank.Acquire(ctx, time.Second)
	require.NoError(t, err)
	require.NotEqual(t, a.Slot(), b.Slot())

	require.True(t, mr.Exists("nexa:throttle:transcode:0"))
	require.True(t, mr.Exists("nexa:throttle:transcode:1"))

	a.Release(ctx)
	require.False(t, mr.Exists("nexa:throttle:transcode:0"))

	// Released slot is immediately reusable.
	c, err := bank.Acquire(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, 0, c.Slot())

	b.Release(ctx)
	c.Release(ctx)
}

func TestAcquireExhausted(t *testing.T) {
	ctx := context.Background()
	bank, _ := testBank(t, 1)

	a, err := bank.Acquire(ctx, time.Second)
	require.NoError(t, err)
	defer a.Release(ctx)

	_, err = bank.Acquire(ctx, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrExhausted)
}

func TestAcquireWaitsForFreedSlot(t *testing.T) {
	ctx := context.Background()
	bank, _ := testBank(t, 1)

	a, err := bank.Acquire(ctx, time.Second)
	require.NoError(t, err)

	done := make(chan *Lease, 1)
	go func() {
		l, err := bank.Acquire(ctx, 2*time.Second)
		if err != nil {
			done <- nil
			return
		}
		done <- l
	}()

	time.Sleep(30 * time.Millisecond)
	a.Release(ctx)

	select {
	case l := <-done:
		require.NotNil(t, l)
		l.Release(ctx)
	case <-time.After(3 * time.Second):
		t.Fatal("waiter never acquired the freed slot")
	}
}

func TestAcquireOtherHolderBlocks(t *testing.T) {
	ctx := context.Background()
	bank, mr := testBank(t, 1)

	// Another instance in the cluster holds the only slot.
	require.NoError(t, mr.Set("nexa:throttle:transcode:0", "someone-else"))

	_, err := bank.Acquire(ctx, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrExhausted)
}

func TestReleaseDoesNotClobberNewHolder(t *testing.T) {
	ctx := context.Background()
	bank, mr := testBank(t, 1)

	a, err := bank.Acquire(ctx, time.Second)
	require.NoError(t, err)

	// Simulate TTL expiry plus re-acquisition by another instance.
	mr.Del("nexa:throttle:transcode:0")
	require.NoError(t, mr.Set("nexa:throttle:transcode:0", "new-holder"))

	a.Release(ctx)
	val, err := mr.Get("nexa:throttle:transcode:0")
	require.NoError(t, err)
	require.Equal(t, "new-holder", val)
}

func TestAcquireContextCanceled(t *testing.T) {
	bank, _ := testBank(t, 1)

	a, err := bank.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	defer a.Release(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = bank.Acquire(ctx, 10*time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewBankValidation(t *testing.T) {
	t.Parallel()

	_, err := NewBank(nil, Config{Kind: "", MaxSlots: 1})
	require.Error(t, err)
	_, err = NewBank(nil, Config{Kind: "transcode", MaxSlots: 0})
	require.Error(t, err)
}
