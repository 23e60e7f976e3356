package querykit

// Select returns a function that passes its argument through when enabled is
// true and yields the zero value with ok=false otherwise, whatever the input.
func Select[T any](enabled bool) func(v T) (T, bool) {
	return func(v T) (T, bool) {
		if !enabled {
			var zero T
			return zero, false
		}
		return v, true
	}
}
