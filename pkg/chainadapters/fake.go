package chainadapters

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chainguard/core/pkg/contracts"
)

// Fake is an in-memory Signer+RPC double for tests, per the design notes'
// requirement that external collaborators be injectable behind interfaces.
// It returns deterministic signatures and transaction hashes, or a
// configured failure.
type Fake struct {
	mu       sync.Mutex
	seq      atomic.Uint64
	FailSign bool
	FailSubmit string // non-empty: Submit fails with this error message
}

func NewFake() *Fake { return &Fake{} }

func (f *Fake) Sign(_ context.Context, action contracts.Action, derivationContext string) ([]byte, error) {
	if f.FailSign {
		return nil, fmt.Errorf("fake signer: configured failure")
	}
	return []byte(fmt.Sprintf("sig:%s:%s", action.ActionType(), derivationContext)), nil
}

func (f *Fake) Submit(_ context.Context, chain string, signedPayload []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailSubmit != "" {
		return "", fmt.Errorf("%s", f.FailSubmit)
	}
	n := f.seq.Add(1)
	return fmt.Sprintf("0xfake%s%d", chain, n), nil
}
