package chain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xProject/0x-coordinator-server/pkg/coordinator"
	"github.com/0xProject/0x-coordinator-server/pkg/zeroex"
)

// UnconstrainedOracle serves chains configured without an RPC endpoint. Every
// order reports no on-chain state, so allocation falls back to each order's
// full taker-asset amount and over-subscription is policed by the fill ledger
// alone.
type UnconstrainedOracle struct{}

func (UnconstrainedOracle) OrderRelevantStates(_ context.Context, orders []*zeroex.Order) ([]*coordinator.OrderRelevantState, error) {
	return make([]*coordinator.OrderRelevantState, len(orders)), nil
}

// LocalVerifier verifies ECDSA-backed signature types without a chain
// connection. Contract-backed types (Wallet, Validator, PreSigned) cannot be
// checked locally and are rejected.
type LocalVerifier struct{}

func (LocalVerifier) ValidSignature(_ context.Context, hash common.Hash, signature []byte, signerAddress common.Address) (bool, error) {
	parsed, err := zeroex.ParseSignature(signature)
	if err != nil {
		return false, nil
	}
	switch parsed.Type {
	case zeroex.EIP712Signature, zeroex.EthSignSignature:
		recovered, err := zeroex.RecoverSigner(hash, signature)
		if err != nil {
			return false, nil
		}
		return recovered == signerAddress, nil
	default:
		return false, nil
	}
}

var (
	_ coordinator.OrderStateOracle  = UnconstrainedOracle{}
	_ coordinator.SignatureVerifier = LocalVerifier{}
)
