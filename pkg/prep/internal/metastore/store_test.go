package metastore

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	s := New()

	_, ok := s.Get("intent", "age")
	require.False(t, ok)

	s.Set("intent", "age", "Numeric")
	s.Set("domain", "age", nil)
	s.Set("intent", "city", "Categorical")

	v, ok := s.Get("intent", "age")
	require.True(t, ok)
	require.Equal(t, "Numeric", v)
	require.Equal(t, 3, s.Len())
	require.Equal(t, []Key{
		{Aspect: "domain", Column: "age"},
		{Aspect: "intent", Column: "age"},
		{Aspect: "intent", Column: "city"},
	}, s.Keys())
	require.Nil(t, s.Written(), "root stores do not track writes")

	var nilStore *Store
	_, ok = nilStore.Get("intent", "age")
	require.False(t, ok)
	require.Zero(t, nilStore.Len())
}

func TestStore_ConcurrentDisjointWriters(t *testing.T) {
	s := New()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				col := fmt.Sprintf("col%d_%d", w, i)
				s.Set("intent", col, w)
				_, _ = s.Get("intent", "col0_0")
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 800, s.Len())
	v, ok := s.Get("intent", "col7_99")
	require.True(t, ok)
	require.Equal(t, 7, v)
}

func TestStore_ForkMerge(t *testing.T) {
	canonical := New()
	canonical.Set("intent", "a", "Numeric")

	left := canonical.Fork()
	right := canonical.Fork()

	t.Run("forks see parent entries but not each other", func(t *testing.T) {
		left.Set("intent", "b", "Categorical")

		v, ok := right.Get("intent", "a")
		require.True(t, ok)
		require.Equal(t, "Numeric", v)

		_, ok = right.Get("intent", "b")
		require.False(t, ok)
		_, ok = canonical.Get("intent", "b")
		require.False(t, ok)
	})

	t.Run("merge applies only written keys", func(t *testing.T) {
		// A newer canonical value must survive the merge of a stale fork.
		canonical.Set("intent", "a", "Neither")
		right.Set("intent", "c", "Numeric")
		right.Set("domain", "c", nil)

		merged := canonical.Merge(right)
		require.Equal(t, []Key{{Aspect: "intent", Column: "c"}}, merged)

		merged = canonical.Merge(left)
		require.Equal(t, []Key{{Aspect: "intent", Column: "b"}}, merged)

		require.Equal(t, map[Key]any{
			{Aspect: "intent", Column: "a"}: "Neither",
			{Aspect: "intent", Column: "b"}: "Categorical",
			{Aspect: "intent", Column: "c"}: "Numeric",
		}, canonical.Snapshot())
	})

	t.Run("merging into a fork propagates writes upwards", func(t *testing.T) {
		parent := New()
		mid := parent.Fork()
		leaf := mid.Fork()
		leaf.Set("domain", "x", "text")

		mid.Merge(leaf)
		parent.Merge(mid)

		v, ok := parent.Get("domain", "x")
		require.True(t, ok)
		require.Equal(t, "text", v)
	})
}
