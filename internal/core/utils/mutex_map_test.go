package utils_test

import (
	"testing"
	"time"

	"github.com/domospb/whoisalice/internal/core/utils"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutexMap_RunSequentiallyWhenSameKey(t *testing.T) {
	m := utils.NewMutexMap[uuid.UUID](10)
	key := uuid.New()

	sleepDuration := 200 * time.Millisecond

	routine := func(wait chan bool) {
		assert.NoError(t, m.Lock(key))
		time.Sleep(sleepDuration)
		assert.NoError(t, m.Unlock(key))
		wait <- true
	}

	wait1 := make(chan bool)
	wait2 := make(chan bool)

	start := time.Now()
	go routine(wait1)
	go routine(wait2)

	<-wait1
	<-wait2

	assert.GreaterOrEqual(t, time.Since(start), 2*sleepDuration, "same-key routines should run sequentially")
}

func TestMutexMap_RunConcurrentlyWhenDifferentKeys(t *testing.T) {
	m := utils.NewMutexMap[string](10)

	sleepDuration := 200 * time.Millisecond

	routine := func(key string, wait chan bool) {
		assert.NoError(t, m.Lock(key))
		time.Sleep(sleepDuration)
		assert.NoError(t, m.Unlock(key))
		wait <- true
	}

	wait1 := make(chan bool)
	wait2 := make(chan bool)

	start := time.Now()
	go routine("key1", wait1)
	go routine("key2", wait2)

	<-wait1
	<-wait2

	assert.Less(t, time.Since(start), 2*sleepDuration-50*time.Millisecond, "different-key routines should run concurrently")
}

func TestMutexMap_ErrorWhenMaxSizeReached(t *testing.T) {
	m := utils.NewMutexMap[string](1)

	require.NoError(t, m.Lock("test1"))
	assert.ErrorIs(t, m.Lock("test2"), utils.ErrMaxSizeReached)

	require.NoError(t, m.Unlock("test1"))
	require.NoError(t, m.Lock("test2"), "released keys free their slot")
}

func TestMutexMap_UnlockErrorWhenKeyNotFound(t *testing.T) {
	m := utils.NewMutexMap[string](10)
	assert.Error(t, m.Unlock("test"))
}

func TestMutexMap_WithLock(t *testing.T) {
	m := utils.NewMutexMap[string](10)

	called := false
	require.NoError(t, m.WithLock("wallet", func() error {
		called = true
		return nil
	}))
	assert.True(t, called)

	require.NoError(t, m.Lock("wallet"), "lock is released after WithLock returns")
	require.NoError(t, m.Unlock("wallet"))
}
