package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopLockerAlwaysGrants(t *testing.T) {
	var l Locker = Noop{}
	release, err := l.Acquire(context.Background(), "k")
	require.NoError(t, err)
	assert.NoError(t, release(context.Background()))
}

func TestNewRedisLockerRejectsBadURL(t *testing.T) {
	_, err := NewRedisLocker("not a url", time.Minute)
	assert.Error(t, err)
}

func TestNewRedisLockerDefaults(t *testing.T) {
	l, err := NewRedisLocker("redis://localhost:6379/0", 0)
	require.NoError(t, err)
	defer l.Close()
	assert.Equal(t, 5*time.Minute, l.expiry)
	assert.Equal(t, 601, l.tries)
}
