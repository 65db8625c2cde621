package idtable

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddGetRemove(t *testing.T) {
	tbl := New[string]()

	a, err := tbl.Add("a")
	require.NoError(t, err)
	b, err := tbl.Add("b")
	require.NoError(t, err)

	assert.Equal(t, uint16(1), a)
	assert.Equal(t, uint16(2), b)
	assert.Equal(t, 2, tbl.Len())

	v, ok := tbl.Get(a)
	require.True(t, ok)
	assert.Equal(t, "a", v)

	_, ok = tbl.Remove(a)
	assert.True(t, ok)
	_, ok = tbl.Get(a)
	assert.False(t, ok)
	_, ok = tbl.Remove(a)
	assert.False(t, ok)
}

func TestIDsAreUniqueAndNonZero(t *testing.T) {
	tbl := New[int]()
	rng := rand.New(rand.NewSource(42))
	live := make(map[uint16]bool)

	for i := 0; i < 20000; i++ {
		if len(live) > 0 && rng.Intn(3) == 0 {
			for id := range live {
				_, ok := tbl.Remove(id)
				require.True(t, ok)
				delete(live, id)
				break
			}
			continue
		}
		id, err := tbl.Add(i)
		require.NoError(t, err)
		require.NotZero(t, id)
		require.False(t, live[id], "id %d handed out twice", id)
		live[id] = true
	}

	assert.Equal(t, len(live), tbl.Len())
}

func TestWrapSkipsHeldID(t *testing.T) {
	tbl := New[int]()

	held, err := tbl.Add(0)
	require.NoError(t, err)
	require.Equal(t, uint16(1), held)

	// Run the counter through a full cycle, releasing everything but the held id.
	for i := 0; i < maxEntries; i++ {
		id, err := tbl.Add(i)
		require.NoError(t, err)
		require.NotEqual(t, held, id)
		require.NotZero(t, id)
		tbl.Remove(id)
	}

	id, err := tbl.Add(-1)
	require.NoError(t, err)
	assert.NotEqual(t, held, id)
	assert.NotZero(t, id)
}

func TestTableFull(t *testing.T) {
	tbl := New[struct{}]()
	for i := 0; i < maxEntries; i++ {
		_, err := tbl.Add(struct{}{})
		require.NoError(t, err)
	}

	_, err := tbl.Add(struct{}{})
	assert.ErrorIs(t, err, ErrTableFull)

	tbl.Remove(300)
	id, err := tbl.Add(struct{}{})
	require.NoError(t, err)
	assert.Equal(t, uint16(300), id)
}

func TestEachAscending(t *testing.T) {
	tbl := New[string]()
	for _, s := range []string{"x", "y", "z"} {
		_, err := tbl.Add(s)
		require.NoError(t, err)
	}

	var got []uint16
	tbl.Each(func(id uint16, _ string) {
		got = append(got, id)
		tbl.Remove(id)
	})
	assert.Equal(t, []uint16{1, 2, 3}, got)
	assert.Equal(t, 0, tbl.Len())
}
