package bridge

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheduler_Fires(t *testing.T) {
	s := NewScheduler()
	var ran atomic.Int32
	s.After(time.Millisecond, func() { ran.Add(1) })

	assert.Eventually(t, func() bool { return ran.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, s.Pending())
}

func TestScheduler_Cancel(t *testing.T) {
	s := NewScheduler()
	var ran atomic.Bool
	cancel := s.After(20*time.Millisecond, func() { ran.Store(true) })

	assert.True(t, cancel())
	assert.False(t, cancel())
	time.Sleep(40 * time.Millisecond)
	assert.False(t, ran.Load())
}

func TestScheduler_Close(t *testing.T) {
	s := NewScheduler()
	var ran atomic.Int32
	s.After(20*time.Millisecond, func() { ran.Add(1) })
	s.After(20*time.Millisecond, func() { ran.Add(1) })
	assert.Equal(t, 2, s.Pending())

	s.Close()
	assert.Equal(t, 0, s.Pending())

	cancel := s.After(time.Millisecond, func() { ran.Add(1) })
	assert.False(t, cancel())

	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, ran.Load())
}
