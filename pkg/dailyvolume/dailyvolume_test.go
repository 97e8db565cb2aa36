package dailyvolume_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainguard/core/pkg/dailyvolume"
)

func TestMemory_VolumeAtStartsZero(t *testing.T) {
	m := dailyvolume.NewMemory()

	v, err := m.VolumeAt(context.Background(), 1000)
	require.NoError(t, err)
	require.Equal(t, uint64(0), v)
}

func TestMemory_AddAccumulatesWithinWindow(t *testing.T) {
	m := dailyvolume.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Add(ctx, 100, 1000))
	require.NoError(t, m.Add(ctx, 250, 2000))

	v, err := m.VolumeAt(ctx, 3000)
	require.NoError(t, err)
	require.Equal(t, uint64(350), v)
}

func TestMemory_RollsOverAfterWindowElapses(t *testing.T) {
	m := dailyvolume.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Add(ctx, 500, 1000))

	v, err := m.VolumeAt(ctx, 1000+dailyvolume.WindowNs-1)
	require.NoError(t, err)
	require.Equal(t, uint64(500), v, "volume must persist until the window fully elapses")

	v, err = m.VolumeAt(ctx, 1000+dailyvolume.WindowNs)
	require.NoError(t, err)
	require.Equal(t, uint64(0), v, "volume must reset once a full day has elapsed since the last reset")
}

func TestMemory_AddAfterRolloverStartsFreshWindow(t *testing.T) {
	m := dailyvolume.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Add(ctx, 900_000, 1000))
	require.NoError(t, m.Add(ctx, 100, 1000+dailyvolume.WindowNs+1))

	v, err := m.VolumeAt(ctx, 1000+dailyvolume.WindowNs+2)
	require.NoError(t, err)
	require.Equal(t, uint64(100), v)
}
