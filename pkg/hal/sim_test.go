package hal

import (
	"testing"

	"github.com/itohio/buttonb/pkg/sample"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimADC_WindowAfterNSamples(t *testing.T) {
	adc := NewSimADC(SimADCConfig{SamplesPerChannel: 4, Millivolts: 3000})

	var windows []sample.Window
	require.NoError(t, adc.Init(func(w sample.Window) { windows = append(windows, w) }))

	for i := 0; i < 3; i++ {
		require.NoError(t, adc.Sample())
	}
	assert.Empty(t, windows)

	require.NoError(t, adc.Sample())
	require.Len(t, windows, 1)
	assert.Len(t, windows[0], 4)

	for i := 0; i < 4; i++ {
		require.NoError(t, adc.Sample())
	}
	assert.Len(t, windows, 2)
}

func TestSimADC_NoiselessReading(t *testing.T) {
	adc := NewSimADC(SimADCConfig{SamplesPerChannel: 4, Millivolts: 3600})

	var got sample.Window
	require.NoError(t, adc.Init(func(w sample.Window) { got = w }))
	for i := 0; i < 4; i++ {
		require.NoError(t, adc.Sample())
	}

	assert.Equal(t, sample.Window{1024, 1024, 1024, 1024}, got)
}

func TestSimADC_NoiseStaysBounded(t *testing.T) {
	adc := NewSimADC(SimADCConfig{SamplesPerChannel: 4, Millivolts: 3000, Noise: 4})

	var windows []sample.Window
	require.NoError(t, adc.Init(func(w sample.Window) { windows = append(windows, w) }))
	for i := 0; i < 40; i++ {
		require.NoError(t, adc.Sample())
	}

	for _, w := range windows {
		mean, err := sample.Mean(w)
		require.NoError(t, err)
		assert.InDelta(t, 853, mean, 8)
	}
}

func TestSimADC_Sag(t *testing.T) {
	adc := NewSimADC(SimADCConfig{SamplesPerChannel: 1, Millivolts: 10, Sag: 100})

	var values []int32
	require.NoError(t, adc.Init(func(w sample.Window) { values = append(values, w[0]) }))
	require.NoError(t, adc.Sample())
	require.NoError(t, adc.Sample())

	assert.Equal(t, []int32{3, 0}, values)
}

func TestSimADC_Faults(t *testing.T) {
	adc := NewSimADC(SimADCConfig{FailInit: true})
	assert.ErrorIs(t, adc.Init(func(sample.Window) {}), ErrHardwareFault)

	adc = NewSimADC(SimADCConfig{})
	assert.ErrorIs(t, adc.Init(nil), ErrHardwareFault)
	assert.ErrorIs(t, adc.Sample(), ErrNotInitialized)

	require.NoError(t, adc.Init(func(sample.Window) {}))
	require.NoError(t, adc.Close())
	assert.ErrorIs(t, adc.Sample(), ErrNotInitialized)
}

func TestSimTemp_Read(t *testing.T) {
	s := NewSimTemp(SimTempConfig{Celsius: 24.5})

	_, err := s.Read()
	assert.ErrorIs(t, err, ErrNotInitialized)

	require.NoError(t, s.Init())
	raw, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, int32(98), raw)
	assert.InDelta(t, float32(24.5), sample.DieCelsius(raw), 0.001)
}

func TestSimTemp_Faults(t *testing.T) {
	assert.ErrorIs(t, NewSimTemp(SimTempConfig{FailInit: true}).Init(), ErrHardwareFault)

	s := NewSimTemp(SimTempConfig{FailRead: true})
	require.NoError(t, s.Init())
	_, err := s.Read()
	assert.ErrorIs(t, err, ErrHardwareFault)
}
