package locks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHoldGuildLocalMode(t *testing.T) {
	g := NewGuard(nil)
	ctx := context.Background()

	require.NoError(t, g.HoldGuild(ctx, "guild-1"))
	assert.True(t, g.Holding("guild-1"))

	// Holding the same guild twice on one instance is rejected.
	assert.ErrorIs(t, g.HoldGuild(ctx, "guild-1"), ErrAlreadyHolding)

	// Other guilds are independent.
	require.NoError(t, g.HoldGuild(ctx, "guild-2"))

	g.ReleaseGuild("guild-1")
	assert.False(t, g.Holding("guild-1"))
	require.NoError(t, g.HoldGuild(ctx, "guild-1"))

	g.ReleaseAll()
	assert.False(t, g.Holding("guild-1"))
	assert.False(t, g.Holding("guild-2"))
}

func TestReleaseUnheldGuildIsNoop(t *testing.T) {
	g := NewGuard(nil)
	g.ReleaseGuild("ghost")
	assert.False(t, g.Holding("ghost"))
}

func TestLocalHoldReleaseAndExtend(t *testing.T) {
	g := NewGuard(nil)

	hold, err := g.Acquire(context.Background(), "tournament:guild:g", 0)
	require.NoError(t, err)
	assert.NoError(t, hold.Extend(context.Background(), LockTTL))
	assert.NoError(t, hold.Release(context.Background()))
}

func TestNilHold(t *testing.T) {
	var h *Hold
	assert.ErrorIs(t, h.Release(context.Background()), ErrLockNotHeld)
	assert.ErrorIs(t, h.Extend(context.Background(), LockTTL), ErrLockNotHeld)
}

func TestBackoffCaps(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, backoff(0))
	assert.Equal(t, time.Second, backoff(1))
	assert.Equal(t, 2*time.Second, backoff(2))
	assert.Equal(t, 2*time.Second, backoff(5))
}
