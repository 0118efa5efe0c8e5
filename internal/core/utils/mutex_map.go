package utils

import (
	"errors"
	"fmt"
	"sync"
)

var ErrMaxSizeReached = errors.New("max size reached")

// MutexMap hands out one mutex per key. Entries are dropped once nobody holds
// or waits on them, so the map only grows with the number of contended keys.
type MutexMap[K comparable] struct {
	edit         sync.Mutex
	queueLengths map[K]int
	mutexes      map[K]*sync.Mutex
	maxSize      int
}

func NewMutexMap[K comparable](maxSize int) *MutexMap[K] {
	return &MutexMap[K]{
		queueLengths: make(map[K]int),
		mutexes:      make(map[K]*sync.Mutex),
		maxSize:      maxSize,
	}
}

func (m *MutexMap[K]) Lock(key K) error {
	m.edit.Lock()

	mu := m.mutexes[key]
	if mu == nil {
		if len(m.mutexes) >= m.maxSize {
			m.edit.Unlock()
			return ErrMaxSizeReached
		}

		mu = &sync.Mutex{}
		m.mutexes[key] = mu
	}

	m.queueLengths[key]++
	m.edit.Unlock()

	mu.Lock()

	return nil
}

func (m *MutexMap[K]) Unlock(key K) error {
	m.edit.Lock()
	defer m.edit.Unlock()

	mu := m.mutexes[key]
	if mu == nil {
		return fmt.Errorf("key %v not found", key)
	}

	mu.Unlock()
	m.queueLengths[key]--

	if m.queueLengths[key] == 0 {
		delete(m.mutexes, key)
		delete(m.queueLengths, key)
	}

	return nil
}

// WithLock runs fn while holding the lock for key.
func (m *MutexMap[K]) WithLock(key K, fn func() error) error {
	if err := m.Lock(key); err != nil {
		return err
	}
	defer m.Unlock(key) //nolint:errcheck

	return fn()
}
