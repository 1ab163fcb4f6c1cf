package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncer_FirstCallAlwaysReady(t *testing.T) {
	d := NewDebouncer(time.Second)
	ready, _ := d.Ready(time.Now())
	assert.True(t, ready)
}

func TestDebouncer_GateByInterval(t *testing.T) {
	d := NewDebouncer(time.Second)
	base := time.Unix(1700000000, 0)

	d.Mark(base)

	ready, since := d.Ready(base.Add(500 * time.Millisecond))
	assert.False(t, ready)
	assert.Equal(t, 500*time.Millisecond, since)

	ready, _ = d.Ready(base.Add(time.Second))
	assert.True(t, ready)
}

func TestDebouncer_ZeroIntervalAlwaysReady(t *testing.T) {
	d := NewDebouncer(0)
	d.Mark(time.Now())
	ready, _ := d.ReadyNow()
	assert.True(t, ready)
}

func TestDebouncer_Reset(t *testing.T) {
	d := NewDebouncer(time.Hour)
	d.MarkNow()

	ready, _ := d.ReadyNow()
	assert.False(t, ready)

	d.Reset()
	ready, _ = d.ReadyNow()
	assert.True(t, ready)
}
