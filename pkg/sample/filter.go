package sample

// Filter is the per-sensor smoothing state. It turns one window (or one raw
// reading) per measurement cycle into one filtered value using a single-pole
// low-pass with weight 3/4 on history.
//
// A Filter is not safe for concurrent use; it is owned by the main loop.
type Filter struct {
	prev    int32
	hasPrev bool

	floor    int32
	hasFloor bool
}

// FilterOption configures a Filter.
type FilterOption func(*Filter)

// WithFloor clamps window means to be at least min before smoothing.
func WithFloor(min int32) FilterOption {
	return func(f *Filter) {
		f.floor = min
		f.hasFloor = true
	}
}

// NewFilter creates a filter with no previous value.
func NewFilter(opts ...FilterOption) *Filter {
	f := &Filter{}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Apply averages the window, clamps the mean and smooths it against the
// previous output.
func (f *Filter) Apply(w Window) (int32, error) {
	mean, err := Mean(w)
	if err != nil {
		return 0, err
	}
	return f.Smooth(f.Clamp(mean)), nil
}

// Smooth feeds one value into the filter. The first value after creation or
// Reset passes through unchanged; later values yield (3*prev + v) / 4.
func (f *Filter) Smooth(v int32) int32 {
	if !f.hasPrev {
		f.prev = v
		f.hasPrev = true
		return v
	}

	out := int32((3*int64(f.prev) + int64(v)) / 4)
	f.prev = out
	return out
}

// Previous returns the last filtered value, if any.
func (f *Filter) Previous() (int32, bool) {
	return f.prev, f.hasPrev
}

// Reset forgets the previous value, e.g. after a peripheral restart.
func (f *Filter) Reset() {
	f.prev = 0
	f.hasPrev = false
}

// Clamp applies the configured floor to v. It only reads settings fixed at
// construction, so interrupt handlers may call it.
func (f *Filter) Clamp(v int32) int32 {
	if f.hasFloor && v < f.floor {
		return f.floor
	}
	return v
}
