//go:build linux

package divert

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sofiworker/gdivert/gerr"
)

func TestNewRawHandleRejectsDrop(t *testing.T) {
	_, err := NewRawHandle(WithFlags(FlagDrop))
	assert.Equal(t, gerr.KindInvalidState, gerr.KindOf(err))
}

func TestNewRawHandleForcesSniff(t *testing.T) {
	h, err := NewRawHandle()
	require.NoError(t, err)
	assert.True(t, h.Options().Flags.Has(FlagSniff), "Run must never reinject what a raw handle copies")

	h, err = NewRawHandle(WithFlags(FlagNoChecksum))
	require.NoError(t, err)
	assert.Equal(t, FlagSniff|FlagNoChecksum, h.Options().Flags)
}

func TestRawHandleClosed(t *testing.T) {
	h, err := NewRawHandle(WithFlags(FlagSniff))
	require.NoError(t, err)
	assert.False(t, h.IsOpen())
	assert.NoError(t, h.Close())

	_, err = h.Recv(context.Background())
	assert.Equal(t, gerr.KindInvalidState, gerr.KindOf(err))
	_, err = h.Param(ParamQueueLen)
	assert.Equal(t, gerr.KindInvalidState, gerr.KindOf(err))
}

func TestRawHandleUnknownInterface(t *testing.T) {
	h, err := NewRawHandle(WithFlags(FlagSniff), WithInterface("gdivert-missing0"))
	require.NoError(t, err)
	err = h.Open(context.Background())
	require.Error(t, err)
	assert.False(t, h.IsOpen())
}
