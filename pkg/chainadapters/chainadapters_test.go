package chainadapters_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainguard/core/pkg/chainadapters"
	"github.com/chainguard/core/pkg/contracts"
)

func action() contracts.Action {
	return contracts.Transfer{Chain: "ethereum", Token: "USDC", To: "0xabc", Qty: 100}
}

func TestExecute_SignAndSubmitSucceed(t *testing.T) {
	fake := chainadapters.NewFake()

	result := chainadapters.Execute(context.Background(), fake, fake, action(), "caller-1")

	require.True(t, result.Success)
	require.Equal(t, "ethereum", result.Chain)
	require.NotEmpty(t, result.TxHash)
	require.Empty(t, result.Error)
}

func TestExecute_SignFailureSurfacesInResult(t *testing.T) {
	fake := chainadapters.NewFake()
	fake.FailSign = true

	result := chainadapters.Execute(context.Background(), fake, fake, action(), "caller-1")

	require.False(t, result.Success)
	require.Empty(t, result.TxHash)
	require.Contains(t, result.Error, "sign:")
}

func TestExecute_SubmitFailureSurfacesInResult(t *testing.T) {
	fake := chainadapters.NewFake()
	fake.FailSubmit = "rpc unavailable"

	result := chainadapters.Execute(context.Background(), fake, fake, action(), "caller-1")

	require.False(t, result.Success)
	require.Empty(t, result.TxHash)
	require.Contains(t, result.Error, "submit:")
	require.Contains(t, result.Error, "rpc unavailable")
}

func TestFake_SubmitProducesDistinctHashes(t *testing.T) {
	fake := chainadapters.NewFake()

	h1, err := fake.Submit(context.Background(), "ethereum", []byte("a"))
	require.NoError(t, err)
	h2, err := fake.Submit(context.Background(), "ethereum", []byte("b"))
	require.NoError(t, err)

	require.NotEqual(t, h1, h2)
}
