package locks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockTimeout occurs when lock acquisition times out.
	ErrLockTimeout = errors.New("timeout acquiring lock")
	// ErrLockNotHeld occurs when releasing or extending a lock this instance does not own.
	ErrLockNotHeld = errors.New("lock not held by this instance")
	// ErrLockAlreadyHeld occurs when another engine instance owns the guild.
	ErrLockAlreadyHeld = errors.New("lock already held by another instance")
	// ErrAlreadyHolding occurs when this instance already owns the guild.
	ErrAlreadyHolding = errors.New("guild already held by this instance")
)

const (
	// LockTTL is how long a guild hold survives without a keep-alive.
	LockTTL = 30 * time.Second
	// AcquireTimeout bounds a single acquisition including retries.
	AcquireTimeout = 5 * time.Second
	// RetryAttempts is how many times acquisition is retried.
	RetryAttempts = 3
	// ExtendInterval is the keep-alive period, well under LockTTL.
	ExtendInterval = 10 * time.Second
)

// Guard serializes tournament loop ownership across engine instances.
// Exactly one instance may run the tick loop for a guild; the hold is
// taken when a loop starts and kept alive until the loop stops. With a
// nil Redis client the guard degrades to in-process bookkeeping, which
// is enough for single-node deployments.
type Guard struct {
	client     *redis.Client
	instanceID string

	mu    sync.Mutex
	holds map[string]*Hold
}

// Hold is one acquired lock. Release and Extend only act when the value
// stored in Redis still matches ours, so an expired hold can never
// delete a lock another instance re-acquired.
type Hold struct {
	key        string
	value      string
	guard      *Guard
	ttl        time.Duration
	acquiredAt time.Time
	local      bool

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewGuard(client *redis.Client) *Guard {
	return &Guard{
		client:     client,
		instanceID: uuid.New().String(),
		holds:      make(map[string]*Hold),
	}
}

func guildKey(guildID string) string {
	return fmt.Sprintf("tournament:guild:%s", guildID)
}

// HoldGuild acquires the guild's loop hold and keeps it alive until
// ReleaseGuild. Returns ErrAlreadyHolding when this instance already
// owns the guild and ErrLockAlreadyHeld when another instance does.
func (g *Guard) HoldGuild(ctx context.Context, guildID string) error {
	g.mu.Lock()
	if _, ok := g.holds[guildID]; ok {
		g.mu.Unlock()
		return ErrAlreadyHolding
	}
	g.mu.Unlock()

	hold, err := g.Acquire(ctx, guildKey(guildID), LockTTL)
	if err != nil {
		return err
	}

	g.mu.Lock()
	if _, ok := g.holds[guildID]; ok {
		// Lost the race against a concurrent HoldGuild on this instance.
		g.mu.Unlock()
		releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = hold.Release(releaseCtx)
		return ErrAlreadyHolding
	}
	g.holds[guildID] = hold
	g.mu.Unlock()

	if !hold.local {
		go g.keepAlive(guildID, hold)
	}
	return nil
}

// ReleaseGuild stops the keep-alive and releases the guild's hold.
// Releasing a guild this instance does not hold is a no-op.
func (g *Guard) ReleaseGuild(guildID string) {
	g.mu.Lock()
	hold, ok := g.holds[guildID]
	if ok {
		delete(g.holds, guildID)
	}
	g.mu.Unlock()
	if !ok {
		return
	}

	hold.stop()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := hold.Release(ctx); err != nil && !errors.Is(err, ErrLockNotHeld) {
		log.Printf("[LOCK] Failed to release guild %s: %v", guildID, err)
	}
}

// ReleaseAll releases every hold, for shutdown.
func (g *Guard) ReleaseAll() {
	g.mu.Lock()
	guilds := make([]string, 0, len(g.holds))
	for guildID := range g.holds {
		guilds = append(guilds, guildID)
	}
	g.mu.Unlock()

	for _, guildID := range guilds {
		g.ReleaseGuild(guildID)
	}
}

// Holding reports whether this instance currently owns the guild.
func (g *Guard) Holding(guildID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.holds[guildID]
	return ok
}

func (g *Guard) keepAlive(guildID string, hold *Hold) {
	ticker := time.NewTicker(ExtendInterval)
	defer ticker.Stop()

	for {
		select {
		case <-hold.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			err := hold.Extend(ctx, LockTTL)
			cancel()
			if err != nil {
				log.Printf("[LOCK] Keep-alive lost for guild %s: %v", guildID, err)
				return
			}
		}
	}
}

// Acquire attempts to take a lock with SET NX EX, retrying with
// exponential backoff. Most callers want HoldGuild instead.
func (g *Guard) Acquire(ctx context.Context, key string, ttl time.Duration) (*Hold, error) {
	if ttl == 0 {
		ttl = LockTTL
	}

	hold := &Hold{
		key:        fmt.Sprintf("lock:%s", key),
		value:      fmt.Sprintf("%s:%s", g.instanceID, uuid.New().String()),
		guard:      g,
		ttl:        ttl,
		acquiredAt: time.Now(),
		stopCh:     make(chan struct{}),
	}

	if g.client == nil {
		hold.local = true
		return hold, nil
	}

	acquireCtx, cancel := context.WithTimeout(ctx, AcquireTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < RetryAttempts; attempt++ {
		select {
		case <-acquireCtx.Done():
			return nil, ErrLockTimeout
		default:
		}

		acquired, err := g.client.SetNX(acquireCtx, hold.key, hold.value, ttl).Result()
		if err != nil {
			lastErr = fmt.Errorf("redis error: %w", err)
			log.Printf("[LOCK] Redis error on attempt %d/%d for %s: %v", attempt+1, RetryAttempts, hold.key, err)
		} else if acquired {
			hold.acquiredAt = time.Now()
			log.Printf("[LOCK] Acquired %s (attempt %d/%d)", hold.key, attempt+1, RetryAttempts)
			return hold, nil
		} else {
			lastErr = ErrLockAlreadyHeld
		}

		select {
		case <-acquireCtx.Done():
			return nil, ErrLockTimeout
		case <-time.After(backoff(attempt)):
		}
	}

	log.Printf("[LOCK] Failed to acquire %s after %d attempts", hold.key, RetryAttempts)
	if lastErr == nil {
		lastErr = ErrLockTimeout
	}
	return nil, lastErr
}

// releaseScript deletes the key only while we still own it, so a hold
// that expired and was re-acquired elsewhere is left alone.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Release frees the lock if this instance still owns it.
func (h *Hold) Release(ctx context.Context) error {
	if h == nil {
		return ErrLockNotHeld
	}
	if h.local {
		return nil
	}

	result, err := releaseScript.Run(ctx, h.guard.client, []string{h.key}, h.value).Result()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", h.key, err)
	}
	if result == int64(0) {
		return ErrLockNotHeld
	}

	log.Printf("[LOCK] Released %s (held for %v)", h.key, time.Since(h.acquiredAt).Round(time.Second))
	return nil
}

// extendScript resets the TTL only while we still own the key.
var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("expire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// Extend resets the lock's TTL if this instance still owns it.
func (h *Hold) Extend(ctx context.Context, ttl time.Duration) error {
	if h == nil {
		return ErrLockNotHeld
	}
	if h.local {
		return nil
	}

	result, err := extendScript.Run(ctx, h.guard.client, []string{h.key}, h.value, int(ttl.Seconds())).Result()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", h.key, err)
	}
	if result == int64(0) {
		return ErrLockNotHeld
	}

	h.ttl = ttl
	return nil
}

func (h *Hold) stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

// backoff returns the exponential retry delay: 500ms, 1s, 2s capped.
func backoff(attempt int) time.Duration {
	d := time.Duration(500*(1<<attempt)) * time.Millisecond
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	return d
}
