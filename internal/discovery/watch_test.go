package discovery

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_CollapsesBursts(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher([]string{dir, filepath.Join(dir, "missing")}, 200*time.Millisecond, nil)
	require.NoError(t, err)
	defer w.Close()

	changes := make(chan struct{}, 10)
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx, func() { changes <- struct{}{} })

	writeFile(t, dir, "a.sh", "echo a\n")
	writeFile(t, dir, "b.sh", "echo b\n")
	writeFile(t, dir, "a.sh", "echo a2\n")

	select {
	case <-changes:
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	select {
	case <-changes:
		t.Fatal("burst reported more than once")
	case <-time.After(600 * time.Millisecond):
	}

	cancel()
	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.Empty(t, changes)
}
