package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDisabled_NoPanicNoListen(t *testing.T) {
	e := New(false, "host-a")
	e.IncFilesScanned()
	e.IncDirectoriesScanned()
	e.IncArchivesScanned("zip")
	e.AddArchiveEntries("zip", 3)
	e.IncErrors("traversal")
	e.AddDBWrites(10)
	e.AddBytesHashed(2048)
	e.SetScanInProgress(true)
	e.SetQueuePending(5)
	e.SetWorkersRunning(4)
	e.ObserveFileDuration(10 * time.Millisecond)
	e.ObserveFlushDuration(10 * time.Millisecond)
	e.ObserveBatchSize(50)

	require.NoError(t, e.Listen("127.0.0.1", 0, nil))
	require.Nil(t, e.server)
}

func TestEnabled_RegistersSeries(t *testing.T) {
	e := New(true, "host-b")
	e.IncFilesScanned()
	e.IncArchivesScanned("rar")

	mfs, err := e.reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, mfs)

	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	require.True(t, names["files_scanned_total"])
	require.True(t, names["archives_scanned_total"])
}

func TestBind_AutoSelectsPort(t *testing.T) {
	addr, ln, err := bind("127.0.0.1", 0)
	require.NoError(t, err)
	defer ln.Close()
	require.Contains(t, addr, "127.0.0.1:")
}
