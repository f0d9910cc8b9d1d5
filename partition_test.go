package vexcl

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartition(t *testing.T) {
	for _, n := range []int{0, 1, 2, 5, 7, 10, 1000, 1001} {
		for _, d := range []int{1, 2, 3, 5, 8} {
			t.Run(fmt.Sprintf("n=%d/d=%d", n, d), func(t *testing.T) {
				parts := partition(n, d)
				require.Len(t, parts, d)

				// Contiguous cover of [0, n) in order.
				assert.Equal(t, 0, parts[0].Begin)
				assert.Equal(t, n, parts[d-1].End)
				for i := 1; i < d; i++ {
					assert.Equal(t, parts[i-1].End, parts[i].Begin)
				}

				// Sizes differ by at most one and never decrease the
				// remainder rule: larger parts come first.
				for i := range parts {
					size := parts[i].Size()
					assert.GreaterOrEqual(t, size, 0)
					assert.LessOrEqual(t, parts[i].Begin, parts[i].End)
					if i > 0 {
						assert.LessOrEqual(t, size, parts[i-1].Size())
						assert.LessOrEqual(t, parts[i-1].Size()-size, 1)
					}
				}
			})
		}
	}
}

func TestPartOwner(t *testing.T) {
	parts := partition(10, 3) // sizes 4, 3, 3
	require.Equal(t, 4, parts[0].Size())
	for i := 0; i < 10; i++ {
		owner := partOwner(parts, i)
		assert.GreaterOrEqual(t, i, parts[owner].Begin)
		assert.Less(t, i, parts[owner].End)
	}
	assert.Equal(t, 0, partOwner(parts, 0))
	assert.Equal(t, 0, partOwner(parts, 3))
	assert.Equal(t, 1, partOwner(parts, 4))
	assert.Equal(t, 2, partOwner(parts, 9))
}
