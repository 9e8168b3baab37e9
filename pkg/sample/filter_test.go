package sample

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_FirstOutputIsMean(t *testing.T) {
	f := NewFilter()

	_, ok := f.Previous()
	assert.False(t, ok, "new filter must not have a previous value")

	got, err := f.Apply(Window{100, 102, 98, 104})
	require.NoError(t, err)
	assert.Equal(t, int32(101), got)

	prev, ok := f.Previous()
	assert.True(t, ok)
	assert.Equal(t, int32(101), prev)
}

func TestFilter_SecondOutputIsSmoothed(t *testing.T) {
	f := NewFilter()

	_, err := f.Apply(Window{100, 100, 100, 100})
	require.NoError(t, err)

	// (3*100 + 200) / 4 = 125
	got, err := f.Apply(Window{200, 200, 200, 200})
	require.NoError(t, err)
	assert.Equal(t, int32(125), got)

	// (3*125 + 0) / 4 = 93.75 -> 93
	got, err = f.Apply(Window{0, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, int32(93), got)
}

func TestFilter_Smooth(t *testing.T) {
	f := NewFilter()
	seq := []int32{80, 84, 84, 100}
	want := []int32{80, 81, 81, 85}

	for i, v := range seq {
		assert.Equal(t, want[i], f.Smooth(v), "step %d", i)
	}
}

func TestFilter_FloorClampsNegativeWindows(t *testing.T) {
	f := NewFilter(WithFloor(0))

	got, err := f.Apply(Window{-5, -10, -1, -20})
	require.NoError(t, err)
	assert.Equal(t, int32(0), got)

	for i := 0; i < 10; i++ {
		got, err = f.Apply(Window{-1000, -2000, -3000, -4000})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got, int32(0))
	}
}

func TestFilter_FloorAfterPositiveHistory(t *testing.T) {
	f := NewFilter(WithFloor(0))

	_, err := f.Apply(Window{400, 400, 400, 400})
	require.NoError(t, err)

	// Negative mean is clamped to 0 before smoothing: (3*400 + 0) / 4
	got, err := f.Apply(Window{-400, -400, -400, -400})
	require.NoError(t, err)
	assert.Equal(t, int32(300), got)
}

func TestFilter_Clamp(t *testing.T) {
	f := NewFilter(WithFloor(0))
	assert.Equal(t, int32(0), f.Clamp(-7))
	assert.Equal(t, int32(7), f.Clamp(7))

	_, ok := f.Previous()
	assert.False(t, ok, "clamping does not feed the filter")

	assert.Equal(t, int32(-7), NewFilter().Clamp(-7))
}

func TestFilter_Reset(t *testing.T) {
	f := NewFilter()
	f.Smooth(10)
	f.Smooth(50)

	f.Reset()
	_, ok := f.Previous()
	assert.False(t, ok)
	assert.Equal(t, int32(70), f.Smooth(70))
}

func TestFilter_EmptyWindowKeepsState(t *testing.T) {
	f := NewFilter()
	f.Smooth(42)

	_, err := f.Apply(Window{})
	assert.ErrorIs(t, err, ErrEmptyWindow)

	prev, ok := f.Previous()
	assert.True(t, ok)
	assert.Equal(t, int32(42), prev)
}

func TestFilter_Deterministic(t *testing.T) {
	windows := []Window{{10, 20, 30, 40}, {50, 50, 50, 50}, {0, 0, 4, 4}, {99, 1, 50, 50}}

	a := NewFilter()
	b := NewFilter()
	for _, w := range windows {
		va, errA := a.Apply(w)
		vb, errB := b.Apply(w)
		require.NoError(t, errA)
		require.NoError(t, errB)
		assert.Equal(t, va, vb)
	}
}
