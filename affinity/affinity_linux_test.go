//go:build linux

package affinity

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-httpd/api"
)

func TestSetAffinity_PinsCallingThread(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var orig unix.CPUSet
	require.NoError(t, unix.SchedGetaffinity(0, &orig))
	defer unix.SchedSetaffinity(0, &orig)

	before, err := Current()
	require.NoError(t, err)
	require.NotEmpty(t, before)

	cpu := before[len(before)-1]
	require.NoError(t, SetAffinity(cpu))
	after, err := Current()
	require.NoError(t, err)
	assert.Equal(t, []int{cpu}, after)
}

func TestSetAffinity_RejectsNegative(t *testing.T) {
	assert.ErrorIs(t, SetAffinity(-1), api.ErrInvalidArgument)
}
