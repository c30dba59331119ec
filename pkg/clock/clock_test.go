package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeout_ResetCoalesces(t *testing.T) {
	fc := NewFake(time.Unix(0, 0))
	to := NewTimeout(fc)

	fired := 0
	to.Reset(100*time.Millisecond, func() { fired++ })
	fc.Advance(50 * time.Millisecond)
	to.Reset(100*time.Millisecond, func() { fired += 10 })
	fc.Advance(60 * time.Millisecond)
	assert.Equal(t, 0, fired, "first callback was superseded")
	assert.True(t, to.Active())

	fc.Advance(40 * time.Millisecond)
	assert.Equal(t, 10, fired)
	assert.False(t, to.Active())
}

func TestTimeout_Stop(t *testing.T) {
	fc := NewFake(time.Unix(0, 0))
	to := NewTimeout(fc)

	fired := false
	to.Reset(time.Second, func() { fired = true })
	to.Stop()
	fc.Advance(2 * time.Second)
	assert.False(t, fired)
	assert.Equal(t, 0, fc.Pending())
}

func TestFake_CallbackScheduledDuringAdvance(t *testing.T) {
	fc := NewFake(time.Unix(0, 0))
	var order []string
	fc.AfterFunc(10*time.Millisecond, func() {
		order = append(order, "a")
		fc.AfterFunc(10*time.Millisecond, func() { order = append(order, "b") })
	})
	fc.AfterFunc(15*time.Millisecond, func() { order = append(order, "c") })

	fc.Advance(30 * time.Millisecond)
	require.Equal(t, []string{"a", "c", "b"}, order)
	assert.Equal(t, time.Unix(0, 0).Add(30*time.Millisecond), fc.Now())
}

func TestExpired(t *testing.T) {
	fc := NewFake(time.Unix(1000, 0))
	captured := fc.Now()
	assert.False(t, Expired(fc, captured, 5*time.Minute))
	fc.Advance(5 * time.Minute)
	assert.True(t, Expired(fc, captured, 5*time.Minute))
}
