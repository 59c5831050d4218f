package watch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValueWatch(t *testing.T) {
	v := NewValue(1)
	assert.Equal(t, 1, v.Get())

	var got []int
	cancel := v.Watch(func(i int) { got = append(got, i) })

	v.Set(2)
	v.Set(3)
	cancel()
	cancel()
	v.Set(4)

	assert.Equal(t, []int{2, 3}, got)
	assert.Equal(t, 4, v.Get())
}

func TestValueWatchOrder(t *testing.T) {
	v := NewValue("")
	var calls []string
	c1 := v.Watch(func(string) { calls = append(calls, "a") })
	v.Watch(func(string) { calls = append(calls, "b") })
	v.Watch(func(string) { calls = append(calls, "c") })

	c1()
	v.Set("x")
	assert.Equal(t, []string{"b", "c"}, calls)
}
