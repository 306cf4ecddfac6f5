package mcpmgr

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelsMatchStandardErrorsIs(t *testing.T) {
	m := newTestManager(t, newFakeTransports())

	_, err := m.ListTools(testContext(t), "ghost", nil)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, ErrUnknownServer))
	assert.True(t, errors.Is(err, ErrUnknownServer))
	assert.Contains(t, err.Error(), `"ghost"`)
}

func TestMarkTimeout(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()

	cause := errors.New("read frame")
	err := errors.Wrap(markTimeout(ctx, cause), "mcpmgr: connect \"slow\"")
	assert.True(t, stderrors.Is(err, ErrTimeout))
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.True(t, IsTimeout(err))
	assert.True(t, stderrors.Is(err, cause), "the original cause stays reachable")
	assert.Equal(t, "mcpmgr: connect \"slow\": read frame", err.Error())

	assert.Same(t, cause, markTimeout(context.Background(), cause))
	assert.NoError(t, markTimeout(ctx, nil))
}

func TestHangingDialTimeoutMatchesStandardErrorsIs(t *testing.T) {
	f := newFakeTransports()
	f.stdio = dialHang
	m := newTestManager(t, f)

	cfg := stdioConfig()
	cfg.Timeout = 50 * time.Millisecond
	_, err := m.ConnectToServer(testContext(t), "slow", cfg)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, ErrTimeout), "expected timeout, got %v", err)
}
