package selftest_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/vanenet/portmapd/internal/selftest"
)

func TestRunAllChecksPass(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	report := selftest.Run(logger)
	if !report.OK() {
		for _, c := range report.Checks {
			if c.Err != nil {
				t.Errorf("check %q failed: %v", c.Name, c.Err)
			}
		}
	}
	if len(report.Checks) == 0 {
		t.Fatalf("Run produced no checks")
	}
}
