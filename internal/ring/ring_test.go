package ring

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func fromSlice[E int](s []E) *Buffer[E] {
	size := 1
	for size < len(s) {
		size <<= 1
	}
	if size == 0 {
		size = 1
	}
	b := New[E](size)
	copy(b.s, s)
	b.w = uint(len(s))
	return b
}

func TestNew(t *testing.T) {
	b := New[int](8)
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 8, b.Cap())
}

func TestNew_PanicsOnInvalidSize(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
	assert.Panics(t, func() { New[int](3) })
}

func TestBuffer_SearchAndGet(t *testing.T) {
	b := fromSlice([]int{1, 3, 5, 7, 9})

	assert.Equal(t, 2, b.Search(5))
	assert.Equal(t, 5, b.Len())
	assert.Equal(t, 8, b.Cap())

	// not present, falls past the end
	assert.Equal(t, 5, b.Search(10))

	assert.Equal(t, 1, b.Get(0))
	assert.Equal(t, 9, b.Get(4))
}

func TestBuffer_Insert(t *testing.T) {
	b := New[int](2)
	b.Insert(0, 5)
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, 5, b.Get(0))

	b.Insert(1, 7) // fills capacity
	assert.Equal(t, 2, b.Len())

	b.Insert(1, 6) // forces growth
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, []int{5, 6, 7}, b.Slice())
}

func TestBuffer_InsertOutOfRangePanics(t *testing.T) {
	b := fromSlice([]int{1, 2, 3})
	assert.Panics(t, func() { b.Insert(10, 4) })
}

func TestBuffer_RemoveBefore(t *testing.T) {
	b := fromSlice([]int{1, 2, 3, 4, 5})
	b.RemoveBefore(2)
	assert.Equal(t, []int{3, 4, 5}, b.Slice())
	assert.Equal(t, 3, b.Get(0))
}

func FuzzBuffer_Insert(f *testing.F) {
	f.Add(int64(1))
	f.Add(int64(42))

	f.Fuzz(func(t *testing.T, seed int64) {
		r := rand.New(rand.NewSource(seed))
		b := New[int](1 << 6)

		const n = 1 << 9
		var model []int

		for i := 0; i < n; i++ {
			index := r.Intn(b.Len() + 1)
			value := r.Int()

			b.Insert(index, value)
			model = append(model[:index], append([]int{value}, model[index:]...)...)

			if !equal(b.Slice(), model) {
				t.Fatalf("iter %d: buffer %v != model %v", i, b.Slice(), model)
			}

			if r.Intn(20) == 0 && len(model) > 0 {
				shift := r.Intn(len(model))
				b.RemoveBefore(shift)
				model = model[shift:]
			}
		}
	})
}

func equal(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
