//go:build linux

package handler_test

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain checks for goroutine leaks after all tests in this package
// complete, since the TCP/UDP handler tests build real pollers and
// loopback sockets per test.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
