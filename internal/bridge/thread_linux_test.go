//go:build linux

package bridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

func TestCallsShareOneThread(t *testing.T) {
	b := newTestBridge(t)

	const callers = 32
	tids := make([]int, callers)
	g := new(errgroup.Group)
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			tid, err := Call(context.Background(), b, func(context.Context) (int, error) {
				return unix.Gettid(), nil
			})
			tids[i] = tid
			return err
		})
	}
	require.NoError(t, g.Wait())

	for _, tid := range tids {
		assert.Equal(t, tids[0], tid)
	}
	assert.NotEqual(t, unix.Gettid(), tids[0], "payloads never run on the caller's thread")
}
