package utils

// ProgressFunc receives (current, total, message) updates from long running operations.
type ProgressFunc func(current, total int, message string)

// Report calls f if it is set.
func (f ProgressFunc) Report(current, total int, message string) {
	if f != nil {
		f(current, total, message)
	}
}
