package cooldown_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainguard/core/pkg/contracts"
	"github.com/chainguard/core/pkg/cooldown"
)

func TestMemory_LastSuccess_MissIsFalse(t *testing.T) {
	m := cooldown.NewMemory()

	_, ok := m.LastSuccess(context.Background(), "operator-1", contracts.ActionTransfer)
	require.False(t, ok)
}

func TestMemory_RecordThenLastSuccess(t *testing.T) {
	m := cooldown.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.RecordSuccess(ctx, "operator-1", contracts.ActionTransfer, 1000))

	got, ok := m.LastSuccess(ctx, "operator-1", contracts.ActionTransfer)
	require.True(t, ok)
	require.Equal(t, uint64(1000), got)
}

func TestMemory_IsolatedPerCallerAndActionType(t *testing.T) {
	m := cooldown.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.RecordSuccess(ctx, "operator-1", contracts.ActionTransfer, 1000))

	_, ok := m.LastSuccess(ctx, "operator-2", contracts.ActionTransfer)
	require.False(t, ok, "a different caller must not see another caller's cooldown")

	_, ok = m.LastSuccess(ctx, "operator-1", contracts.ActionSwap)
	require.False(t, ok, "a different action type must not see another action type's cooldown")
}

func TestAsFunc_AdaptsTrackerToConditionContextShape(t *testing.T) {
	m := cooldown.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.RecordSuccess(ctx, "operator-1", contracts.ActionTransfer, 2000))

	lookup := cooldown.AsFunc(ctx, m)

	got, ok := lookup("operator-1", contracts.ActionTransfer)
	require.True(t, ok)
	require.Equal(t, uint64(2000), got)
}
