package container

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOrderedMapEvictsOldestFirst(t *testing.T) {
	require := require.New(t)

	m := NewOrderedMap[string, int]()
	m.Put("a", 1)
	m.Put("b", 2)
	m.Put("c", 3)
	require.Equal(3, m.Len())

	key, value, ok := m.Oldest()
	require.True(ok)
	require.Equal("a", key)
	require.Equal(1, value)

	key, value, ok = m.DeleteOldest()
	require.True(ok)
	require.Equal("a", key)
	require.Equal(1, value)
	require.Equal(2, m.Len())

	_, ok = m.Get("a")
	require.False(ok)

	key, _, ok = m.Oldest()
	require.True(ok)
	require.Equal("b", key)
}

func TestOrderedMapUpdateKeepsArrivalOrder(t *testing.T) {
	require := require.New(t)

	m := NewOrderedMap[string, int]()
	m.Put("a", 1)
	m.Put("b", 2)
	m.Put("a", 10) // update, should not move to newest

	key, value, ok := m.Oldest()
	require.True(ok)
	require.Equal("a", key)
	require.Equal(10, value)
}

func TestOrderedMapDeleteMiddle(t *testing.T) {
	require := require.New(t)

	m := NewOrderedMap[int, int]()
	for i := 0; i < 5; i++ {
		m.Put(i, i*i)
	}
	m.Delete(2)
	require.Equal(4, m.Len())

	var order []int
	for {
		k, _, ok := m.DeleteOldest()
		if !ok {
			break
		}
		order = append(order, k)
	}
	require.Equal([]int{0, 1, 3, 4}, order)
}
