//go:build !linux

package core

// pinThread is a no-op where thread affinity is not supported.
func pinThread(int) error { return nil }

func allowedCPUs() []int { return nil }
