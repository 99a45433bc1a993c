package signalwatch_test

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/vanenet/portmapd/internal/signalwatch"
)

func TestWatcherClearsRunningOnSIGTERM(t *testing.T) {
	w := signalwatch.Start()
	defer w.Stop()

	if !w.Running() {
		t.Fatalf("Running() = false immediately after Start")
	}

	proc, err := os.FindProcess(os.Getpid())
	if err != nil {
		t.Fatalf("FindProcess: %v", err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		t.Fatalf("Signal: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !w.Running() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Running() still true after SIGTERM")
}

func TestWatcherStopWithNoSignalKeepsRunning(t *testing.T) {
	w := signalwatch.Start()
	if !w.Running() {
		t.Fatalf("Running() = false immediately after Start")
	}
	w.Stop()
	if !w.Running() {
		t.Fatalf("Stop() without a signal should not clear Running")
	}
}
