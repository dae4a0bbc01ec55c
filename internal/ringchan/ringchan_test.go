package ringchan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingChannel_OverwritesOldest(t *testing.T) {
	rc := New[int](3)

	for i := 0; i < 10; i++ {
		rc.Send(i)
	}

	assert.Equal(t, 3, rc.Len())
	assert.Equal(t, int64(10), rc.Written())
	assert.Equal(t, int64(7), rc.Dropped())

	var got []int
	for {
		v, ok := rc.TryReceive()
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []int{7, 8, 9}, got, "only the newest values MUST survive")
}

func TestRingChannel_SendReportsDrop(t *testing.T) {
	rc := New[string](1)

	assert.False(t, rc.Send("a"))
	assert.True(t, rc.Send("b"))
	assert.Equal(t, "b", <-rc.C())
}

func TestRingChannel_Drain(t *testing.T) {
	rc := New[int](4)
	rc.Send(1)
	rc.Send(2)

	assert.Equal(t, 2, rc.Drain())
	assert.Equal(t, 0, rc.Len())
	assert.Equal(t, 4, rc.Cap())
}

func TestNewPanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
