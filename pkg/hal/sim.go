package hal

import (
	"fmt"
	"sync"
	"time"

	"github.com/chewxy/math32"
	"github.com/itohio/buttonb/pkg/sample"
)

// DefaultSamplesPerChannel is the ADC window size.
const DefaultSamplesPerChannel = 4

// vddLSBMillivolts matches the SAADC VDD channel scale.
const vddLSBMillivolts = float32(600*6) / 1024

// SimADCConfig configures a simulated VDD channel.
type SimADCConfig struct {
	SamplesPerChannel int
	Millivolts        float32 // supply voltage at start
	Sag               float32 // mV lost per conversion, a draining battery
	Noise             float32 // noise amplitude in LSB
	FailInit          bool    // simulate a calibration failure
}

// SimADC simulates the supply voltage channel.
type SimADC struct {
	cfg SimADCConfig

	mu          sync.Mutex
	done        DoneHandler
	buf         sample.Window
	n           int
	tick        int
	millivolts  float32
	initialized bool
}

var _ ADC = (*SimADC)(nil)

// NewSimADC creates a simulated ADC.
func NewSimADC(cfg SimADCConfig) *SimADC {
	if cfg.SamplesPerChannel <= 0 {
		cfg.SamplesPerChannel = DefaultSamplesPerChannel
	}
	if cfg.Millivolts == 0 {
		cfg.Millivolts = 3000
	}
	return &SimADC{cfg: cfg, millivolts: cfg.Millivolts}
}

// Init calibrates the simulated converter and arms the buffer.
func (a *SimADC) Init(done DoneHandler) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cfg.FailInit {
		return fmt.Errorf("%w: saadc offset calibration failed", ErrHardwareFault)
	}
	if done == nil {
		return fmt.Errorf("%w: no done handler", ErrHardwareFault)
	}

	a.done = done
	a.buf = make(sample.Window, a.cfg.SamplesPerChannel)
	a.n = 0
	a.initialized = true
	return nil
}

// Sample performs one conversion.
func (a *SimADC) Sample() error {
	a.mu.Lock()

	if !a.initialized {
		a.mu.Unlock()
		return ErrNotInitialized
	}

	a.buf[a.n] = a.convert()
	a.n++

	if a.n < len(a.buf) {
		a.mu.Unlock()
		return nil
	}

	w := make(sample.Window, len(a.buf))
	copy(w, a.buf)
	a.n = 0
	done := a.done
	a.mu.Unlock()

	done(w)
	return nil
}

// Close stops the converter.
func (a *SimADC) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.initialized = false
	return nil
}

// convert produces one raw reading. Caller holds a.mu.
func (a *SimADC) convert() int32 {
	a.tick++
	t := float32(a.tick)

	noise := (math32.Sin(t*0.7) + 0.5*math32.Cos(t*1.3)) * a.cfg.Noise
	raw := a.millivolts/vddLSBMillivolts + noise

	a.millivolts -= a.cfg.Sag
	if a.millivolts < 0 {
		a.millivolts = 0
	}

	return int32(math32.Floor(raw + 0.5))
}

// SimTempConfig configures a simulated die temperature sensor.
type SimTempConfig struct {
	Celsius    float32
	Noise      float32       // noise amplitude in °C
	Conversion time.Duration // simulated conversion busy-wait
	FailInit   bool
	FailRead   bool
}

// SimTemp simulates the TEMP peripheral, which reports quarter degrees.
type SimTemp struct {
	cfg SimTempConfig

	mu          sync.Mutex
	tick        int
	initialized bool
}

var _ TempSensor = (*SimTemp)(nil)

// NewSimTemp creates a simulated temperature sensor.
func NewSimTemp(cfg SimTempConfig) *SimTemp {
	return &SimTemp{cfg: cfg}
}

// Init implements TempSensor.
func (s *SimTemp) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.FailInit {
		return fmt.Errorf("%w: temperature sensor init failed", ErrHardwareFault)
	}
	s.initialized = true
	return nil
}

// Read implements TempSensor.
func (s *SimTemp) Read() (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return 0, ErrNotInitialized
	}
	if s.cfg.FailRead {
		return 0, fmt.Errorf("%w: temperature conversion did not complete", ErrHardwareFault)
	}

	if s.cfg.Conversion > 0 {
		time.Sleep(s.cfg.Conversion)
	}

	s.tick++
	c := s.cfg.Celsius + math32.Sin(float32(s.tick)*0.3)*s.cfg.Noise
	return int32(math32.Floor(c*4 + 0.5)), nil
}
