package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestJanitorIndexAndPrune(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestStorage(t, Options{UseContentHash: true, OrganizeByType: true, MaxFileSize: 1 << 20})

	old, err := s.Save([]byte("stale content"), "id", "old.txt", "text/plain", "page")
	require.NoError(t, err)
	fresh, err := s.Save([]byte("fresh content"), "id", "new.txt", "text/plain", "page")
	require.NoError(t, err)

	// Age the first file past the retention window.
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old.AbsolutePath, past, past))

	j, err := NewJanitor(s, 24*time.Hour, time.Hour)
	require.NoError(t, err)
	require.NoError(t, j.Start(context.Background()))
	defer j.Stop()

	require.Equal(t, old.Size+fresh.Size, j.TotalSize())

	pruned, err := j.Prune(time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, pruned)

	_, err = os.Stat(old.AbsolutePath)
	require.True(t, os.IsNotExist(err), "stale file should be removed")
	_, err = os.Stat(fresh.AbsolutePath)
	require.NoError(t, err, "fresh file must survive")
	require.Equal(t, fresh.Size, j.TotalSize())
}

func TestJanitorNoticesExternalWrites(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestStorage(t, Options{UseContentHash: true, MaxFileSize: 1 << 20})
	j, err := NewJanitor(s, 24*time.Hour, time.Hour)
	require.NoError(t, err)
	require.NoError(t, j.Start(context.Background()))
	defer j.Stop()

	info, err := s.Save([]byte("written after start"), "id", "late.txt", "text/plain", "")
	require.NoError(t, err)

	// fsnotify delivery is asynchronous.
	deadline := time.Now().Add(2 * time.Second)
	for j.TotalSize() != info.Size && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, info.Size, j.TotalSize())
}
