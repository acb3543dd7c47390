package socsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitBatches(t *testing.T) {
	cases := []struct {
		name string
		n    int
		size int
		want []BatchRange
	}{
		{"empty", 0, 50, nil},
		{"exact", 100, 50, []BatchRange{{0, 0, 50}, {1, 50, 100}}},
		{"remainder", 130, 50, []BatchRange{{0, 0, 50}, {1, 50, 100}, {2, 100, 130}}},
		{"smaller than size", 7, 50, []BatchRange{{0, 0, 7}}},
		{"size zero is one batch", 5, 0, []BatchRange{{0, 0, 5}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SplitBatches(tc.n, tc.size))
		})
	}
}

func TestSplitBatchesCoversEveryRecordOnce(t *testing.T) {
	for _, size := range []int{1, 3, 10, 49, 50, 51, 1000} {
		batches := SplitBatches(137, size)
		next := 0
		for i, b := range batches {
			assert.Equal(t, i, b.Index)
			assert.Equal(t, next, b.Start)
			assert.LessOrEqual(t, b.Len(), size)
			next = b.End
		}
		assert.Equal(t, 137, next, "size %d", size)
		assert.Len(t, batches, (137+size-1)/size)
	}
}

func TestNextGroup(t *testing.T) {
	batches := SplitBatches(100, 10)

	assert.Len(t, nextGroup(batches, 0, 1), 1)
	assert.Len(t, nextGroup(batches, 0, 3), 3)
	assert.Equal(t, 9, nextGroup(batches, 9, 3)[0].Index)
	assert.Len(t, nextGroup(batches, 9, 3), 1)
	assert.Nil(t, nextGroup(batches, 10, 3))
	assert.Len(t, nextGroup(batches, 0, 0), 1)
}

func TestRecordsBefore(t *testing.T) {
	batches := SplitBatches(130, 50)
	assert.Equal(t, 0, recordsBefore(batches, 0))
	assert.Equal(t, 50, recordsBefore(batches, 1))
	assert.Equal(t, 100, recordsBefore(batches, 2))
	assert.Equal(t, 130, recordsBefore(batches, 3))
	assert.Equal(t, 0, recordsBefore(nil, 2))
}
