package logger

// NewTestLogger returns a Logger suitable for unit tests: debug level,
// writing to stdout so `go test -v` shows it, but never fatal-exits a test
// binary (Fatal still calls zerolog's Fatal, which tests should simply not
// trigger).
func NewTestLogger() Logger {
	return New(Options{Level: "debug", Console: true})
}
