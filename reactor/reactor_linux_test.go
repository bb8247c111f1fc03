//go:build linux

package reactor

import (
	"testing"

	"github.com/momentics/hioload-httpd/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newPipe(t *testing.T) (r, w int) {
	t.Helper()
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	t.Cleanup(func() {
		unix.Close(p[0])
		unix.Close(p[1])
	})
	return p[0], p[1]
}

func TestReactor_LevelTriggeredReportsUntilDrained(t *testing.T) {
	re, err := New()
	require.NoError(t, err)
	defer re.Close()

	r, w := newPipe(t)
	require.NoError(t, re.Add(r, api.EventRead, api.WatchOptions{}))

	_, err = unix.Write(w, []byte("x"))
	require.NoError(t, err)

	events := make([]api.Event, 8)
	for i := 0; i < 2; i++ {
		n, err := re.Wait(events, 100)
		require.NoError(t, err)
		require.Equal(t, 1, n)
		assert.Equal(t, r, events[0].Fd)
		assert.NotZero(t, events[0].Mask&api.EventRead)
	}

	buf := make([]byte, 4)
	_, err = unix.Read(r, buf)
	require.NoError(t, err)

	n, err := re.Wait(events, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestReactor_OneShotNeedsRearm(t *testing.T) {
	re, err := New()
	require.NoError(t, err)
	defer re.Close()

	r, w := newPipe(t)
	opts := api.WatchOptions{EdgeTriggered: true, OneShot: true}
	require.NoError(t, re.Add(r, api.EventRead, opts))

	_, err = unix.Write(w, []byte("a"))
	require.NoError(t, err)

	events := make([]api.Event, 8)
	n, err := re.Wait(events, 100)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = unix.Write(w, []byte("b"))
	require.NoError(t, err)
	n, err = re.Wait(events, 20)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "one-shot watch must stay disarmed")

	require.NoError(t, re.Modify(r, api.EventRead, opts))
	n, err = re.Wait(events, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReactor_DeleteStopsNotifications(t *testing.T) {
	re, err := New()
	require.NoError(t, err)
	defer re.Close()

	r, w := newPipe(t)
	require.NoError(t, re.Add(r, api.EventRead, api.WatchOptions{}))
	require.NoError(t, re.Delete(r))

	_, err = unix.Write(w, []byte("x"))
	require.NoError(t, err)

	events := make([]api.Event, 4)
	n, err := re.Wait(events, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Error(t, re.Delete(r))
}
