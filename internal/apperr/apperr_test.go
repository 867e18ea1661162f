package apperr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("publish: %w", Conflict("publish", "version %d taken", 4))
	assert.Equal(t, KindConflict, KindOf(err))
	assert.True(t, Is(err, KindConflict))
	assert.True(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "version 4 taken")
}

func TestKindOfPlainErrors(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	assert.Equal(t, KindCancelled, KindOf(fmt.Errorf("x: %w", context.Canceled)))
}

func TestIOClassification(t *testing.T) {
	full := IO("copy", &fs.PathError{Op: "write", Path: "/x", Err: syscall.ENOSPC})
	require.True(t, Is(full, KindIO))
	assert.False(t, IsRetryable(full))

	share := IO("copy", &fs.PathError{Op: "open", Path: "/net/x", Err: syscall.EHOSTDOWN})
	assert.True(t, IsRetryable(share))

	var ae *Error
	require.ErrorAs(t, share, &ae)
	assert.True(t, ae.Transient)
	assert.ErrorIs(t, share, syscall.EHOSTDOWN)
}

func TestIOKeepsExistingKind(t *testing.T) {
	c := Cancelled("archive", context.Canceled)
	assert.Same(t, c, IO("archive", c).(*Error))
	assert.Nil(t, IO("noop", nil))
	assert.ErrorIs(t, IO("stat", os.ErrNotExist), os.ErrNotExist)
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, KindIO, "op", "msg"))
}
