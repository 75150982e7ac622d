//go:build !linux && !darwin && !freebsd

package logger

// isTerminal always reports false on platforms without termios; colour is
// then disabled by default.
func isTerminal(uintptr) bool {
	return false
}
