package coordinator

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xProject/0x-coordinator-server/pkg/zeroex"
)

// OrderRelevantState is an on-chain snapshot for one order. A nil term means
// the oracle could not or did not need to constrain it; the allocation engine
// treats nil as unconstrained.
type OrderRelevantState struct {
	// FilledTakerAssetAmount is the taker-asset amount already filled
	// on-chain.
	FilledTakerAssetAmount *big.Int
	// CancelledOnChain reflects a hard on-chain cancel, distinct from the
	// coordinator's soft-cancel flag.
	CancelledOnChain bool

	MakerBalance      *big.Int
	MakerAllowance    *big.Int
	MakerFeeBalance   *big.Int
	MakerFeeAllowance *big.Int

	// Taker-side terms apply only when the order binds a taker.
	TakerBalance      *big.Int
	TakerAllowance    *big.Int
	TakerFeeBalance   *big.Int
	TakerFeeAllowance *big.Int
}

// OrderStateOracle reads the on-chain state the fill-allocation engine needs.
type OrderStateOracle interface {
	// OrderRelevantStates returns one state per order, aligned by index.
	OrderRelevantStates(ctx context.Context, orders []*zeroex.Order) ([]*OrderRelevantState, error)
}

// SignatureVerifier decides whether signerAddress authorized hash under the
// given 0x signature. Wallet-type signatures need an on-chain call, so the
// check takes a context.
type SignatureVerifier interface {
	ValidSignature(ctx context.Context, hash common.Hash, signature []byte, signerAddress common.Address) (bool, error)
}
