package ticker

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_FiresRepeatedly(t *testing.T) {
	s := New()
	var calls int32
	ticket := s.Register(5*time.Millisecond, func() { atomic.AddInt32(&calls, 1) })
	defer s.Unregister(ticket)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) >= 2
	}, time.Second, time.Millisecond)
}

func TestScheduler_UnregisterStopsFiring(t *testing.T) {
	s := New()
	var calls int32
	ticket := s.Register(2*time.Millisecond, func() { atomic.AddInt32(&calls, 1) })

	time.Sleep(20 * time.Millisecond)
	s.Unregister(ticket)
	after := atomic.LoadInt32(&calls)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt32(&calls))
}

func TestScheduler_UnregisterIsIdempotent(t *testing.T) {
	s := New()
	ticket := s.Register(time.Second, func() {})
	s.Unregister(ticket)
	assert.NotPanics(t, func() { s.Unregister(ticket) })
}

func TestScheduler_Register_PanicsOnInvalidInterval(t *testing.T) {
	s := New()
	assert.Panics(t, func() { s.Register(0, func() {}) })
	assert.Panics(t, func() { s.Register(time.Second, nil) })
}
