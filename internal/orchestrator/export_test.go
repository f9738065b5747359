package orchestrator

import (
	"testing"
	"time"
)

// SetReleaseGrace shortens the monitor release grace for the duration of t.
func SetReleaseGrace(t *testing.T, d time.Duration) {
	old := releaseGrace
	releaseGrace = d
	t.Cleanup(func() { releaseGrace = old })
}
