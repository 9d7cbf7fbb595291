package simkernel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKernel_FixedAngle(t *testing.T) {
	k := New()
	angle, err := k.Process(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 90.0, angle)
}

func TestKernel_SetAngle(t *testing.T) {
	k := New()
	k.SetAngle(42)

	angle, err := k.Process(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 42.0, angle)
}

func TestKernel_SetError(t *testing.T) {
	k := New()
	boom := assertError("boom")
	k.SetError(boom)

	_, err := k.Process(context.Background(), nil, nil)
	assert.ErrorIs(t, err, boom)

	k.SetError(nil)
	_, err = k.Process(context.Background(), nil, nil)
	assert.NoError(t, err)
}

func TestKernel_WaveVaries(t *testing.T) {
	k := NewWithWave()

	a1, err := k.Process(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, a1, 45.0)
	assert.LessOrEqual(t, a1, 135.0)
}

func TestKernel_CloseIsIdempotent(t *testing.T) {
	k := New()
	require.NoError(t, k.Close())
	require.NoError(t, k.Close())
	assert.True(t, k.Closed())
}

type assertError string

func (e assertError) Error() string { return string(e) }
