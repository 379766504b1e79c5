package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo(t *testing.T) {
	old := [3]string{Version, GitCommit, BuildDate}
	t.Cleanup(func() { Version, GitCommit, BuildDate = old[0], old[1], old[2] })

	Version, GitCommit, BuildDate = "v1.2.0", "abc1234", "2026-10-01"
	info := Get()
	assert.Equal(t, "v1.2.0 (abc1234)", info.String())
	assert.Equal(t, "v1.2.0 (abc1234) built 2026-10-01 with "+runtime.Version(), info.Full())
}
