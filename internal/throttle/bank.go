// Package throttle bounds how many heavy pipelines run at once across every
// server instance sharing one Redis. Capacity is a fixed bank of named slot
// locks; holding any slot is holding capacity.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/nexamediaserver/server/internal/log"
)

// ErrExhausted means every slot stayed taken for the whole acquire window.
var ErrExhausted = errors.New("throttle: all slots busy")

// releaseScript deletes a slot key only when the caller still owns it, so a
// lease that expired and was re-acquired elsewhere is never clobbered.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// renewScript extends a slot's TTL only while the caller still owns it.
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// Config sizes one throttle bank.
type Config struct {
	// Kind names the resource, e.g. "transcode". It is part of the key
	// namespace so independent banks never collide.
	Kind string

	// MaxSlots is the cluster-wide concurrency ceiling.
	MaxSlots int

	// TTL is the slot lock lifetime. A crashed holder frees its slot
	// after at most this long. Live holders renew well before expiry.
	TTL time.Duration

	// PollInterval is how long to wait between full rescans when every
	// slot is busy.
	PollInterval time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.TTL <= 0 {
		out.TTL = 30 * time.Second
	}
	if out.PollInterval <= 0 {
		out.PollInterval = 250 * time.Millisecond
	}
	return out
}

// Bank is a fixed-size bank of distributed slot locks.
type Bank struct {
	rdb    *redis.Client
	cfg    Config
	logger zerolog.Logger

	mu    sync.Mutex
	local map[int]bool // slots this process believes it holds
}

// NewBank creates a throttle bank. The Redis client is shared with the rest
// of the process.
func NewBank(rdb *redis.Client, cfg Config) (*Bank, error) {
	if cfg.Kind == "" {
		return nil, errors.New("throttle: kind must be set")
	}
	if cfg.MaxSlots <= 0 {
		return nil, fmt.Errorf("throttle: max slots must be positive, got %d", cfg.MaxSlots)
	}
	return &Bank{
		rdb:    rdb,
		cfg:    cfg.withDefaults(),
		logger: log.WithComponent("throttle"),
		local:  map[int]bool{},
	}, nil
}

// Lease is one acquired slot. The holder of a Lease owns one unit of
// cluster capacity until Release, or until the holder dies and the TTL
// reclaims the slot.
type Lease struct {
	bank *Bank
	slot int
	id   string
	stop chan struct{}
	once sync.Once
}

// Slot returns the slot index, useful in logs.
func (l *Lease) Slot() int { return l.slot }

// Acquire claims one slot, waiting up to timeout for one to free. Slots the
// process already holds are skipped locally without a round trip. Returns
// ErrExhausted when the window closes with every slot still taken.
func (b *Bank) Acquire(ctx context.Context, timeout time.Duration) (*Lease, error) {
	start := time.Now()
	deadline := start.Add(timeout)

	for {
		lease, err := b.tryAcquire(ctx)
		if err != nil {
			return nil, err
		}
		if lease != nil {
			b.logger.Debug().
				Str("kind", b.cfg.Kind).
				Int("slot", lease.slot).
				Dur("waited", time.Since(start)).
				Msg("slot acquired")
			return lease, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: kind=%s waited=%s",
				ErrExhausted, b.cfg.Kind, time.Since(start).Round(time.Millisecond))
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.cfg.PollInterval):
		}
	}
}

// tryAcquire scans the bank once. A nil lease with nil error means every
// slot was busy.
func (b *Bank) tryAcquire(ctx context.Context) (*Lease, error) {
	for slot := 0; slot < b.cfg.MaxSlots; slot++ {
		b.mu.Lock()
		held := b.local[slot]
		b.mu.Unlock()
		if held {
			continue
		}

		id := uuid.NewString()
		ok, err := b.rdb.SetNX(ctx, b.key(slot), id, b.cfg.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("throttle: setnx slot %d: %w", slot, err)
		}
		if !ok {
			continue
		}

		b.mu.Lock()
		b.local[slot] = true
		b.mu.Unlock()

		lease := &Lease{bank: b, slot: slot, id: id, stop: make(chan struct{})}
		go lease.renewLoop()
		return lease, nil
	}
	return nil, nil
}

func (b *Bank) key(slot int) string {
	return fmt.Sprintf("nexa:throttle:%s:%d", b.cfg.Kind, slot)
}

// Release frees the slot. Safe to call more than once.
func (l *Lease) Release(ctx context.Context) {
	l.once.Do(func() {
		close(l.stop)

		b := l.bank
		if err := releaseScript.Run(ctx, b.rdb, []string{b.key(l.slot)}, l.id).Err(); err != nil {
			b.logger.Warn().Err(err).
				Str("kind", b.cfg.Kind).
				Int("slot", l.slot).
				Msg("slot release failed, TTL will reclaim it")
		}

		b.mu.Lock()
		delete(b.local, l.slot)
		b.mu.Unlock()
	})
}

// renewLoop keeps the slot alive while the lease is held. Renewal runs at a
// third of the TTL so two consecutive failures still leave headroom.
func (l *Lease) renewLoop() {
	b := l.bank
	ticker := time.NewTicker(b.cfg.TTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			res, err := renewScript.Run(ctx, b.rdb, []string{b.key(l.slot)},
				l.id, b.cfg.TTL.Milliseconds()).Int()
			cancel()
			if err != nil {
				b.logger.Warn().Err(err).Int("slot", l.slot).Msg("slot renew failed")
				continue
			}
			if res == 0 {
				// Someone else owns the slot now; stop pretending.
				b.logger.Warn().Int("slot", l.slot).Msg("slot lost to another holder")
				b.mu.Lock()
				delete(b.local, l.slot)
				b.mu.Unlock()
				return
			}
		}
	}
}
