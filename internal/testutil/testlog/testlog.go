package testlog

import (
	"testing"

	"github.com/danmuck/pkcmd/internal/pklog"
)

// Start configures the test-profile logger and emits a single entry
// naming the running test, mirroring the teacher's testlog helper.
func Start(t *testing.T) {
	t.Helper()
	logger := pklog.ConfigureTests()
	logger.Info().Str("test", t.Name()).Msg("test start")
}
