package coordinator

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xProject/0x-coordinator-server/pkg/zeroex"
)

var zero = big.NewInt(0)

// TakerAssetFillAmounts derives the per-order taker-asset allocation of a
// decoded fill call. Fill-one and batch-fill calls take the caller's amounts
// verbatim; market calls spread the aggregate amount greedily across orders,
// clamped by each order's remaining fillable amount. states must align with
// call.Orders for market calls and may be nil otherwise.
func TakerAssetFillAmounts(call *zeroex.DecodedCall, states []*OrderRelevantState) ([]*big.Int, error) {
	switch call.Kind {
	case zeroex.CallFillOrder:
		return []*big.Int{call.TakerAssetFillAmount}, nil
	case zeroex.CallBatchFillOrders:
		if len(call.TakerAssetFillAmounts) != len(call.Orders) {
			return nil, fmt.Errorf("batch fill carries %d amounts for %d orders", len(call.TakerAssetFillAmounts), len(call.Orders))
		}
		return call.TakerAssetFillAmounts, nil
	case zeroex.CallMarketSellOrders:
		return marketSellAllocations(call.Orders, states, call.TakerAssetFillAmount)
	case zeroex.CallMarketBuyOrders:
		return marketBuyAllocations(call.Orders, states, call.MakerAssetFillAmount)
	default:
		return nil, fmt.Errorf("no fill allocation for %s", call.FunctionName)
	}
}

func marketSellAllocations(orders []*zeroex.Order, states []*OrderRelevantState, requested *big.Int) ([]*big.Int, error) {
	if len(states) != len(orders) {
		return nil, fmt.Errorf("oracle returned %d states for %d orders", len(states), len(orders))
	}
	remaining := new(big.Int).Set(requested)
	allocations := make([]*big.Int, len(orders))
	for i, order := range orders {
		fillable := remainingFillableTakerAmount(order, states[i])
		allocation := bigMin(remaining, fillable)
		allocations[i] = allocation
		remaining = new(big.Int).Sub(remaining, allocation)
	}
	return allocations, nil
}

// marketBuyAllocations works in maker-asset units: the outstanding buy target
// converts to taker units at each order's rate, clamps by the remaining
// fillable amount, and the realized maker side is deducted.
func marketBuyAllocations(orders []*zeroex.Order, states []*OrderRelevantState, requestedMaker *big.Int) ([]*big.Int, error) {
	if len(states) != len(orders) {
		return nil, fmt.Errorf("oracle returned %d states for %d orders", len(states), len(orders))
	}
	remainingMaker := new(big.Int).Set(requestedMaker)
	allocations := make([]*big.Int, len(orders))
	for i, order := range orders {
		fillable := remainingFillableTakerAmount(order, states[i])
		requestedTaker := mulDivFloor(remainingMaker, order.TakerAssetAmount, order.MakerAssetAmount)
		allocation := bigMin(requestedTaker, fillable)
		allocations[i] = allocation
		realizedMaker := mulDivFloor(allocation, order.MakerAssetAmount, order.TakerAssetAmount)
		remainingMaker = new(big.Int).Sub(remainingMaker, realizedMaker)
		if remainingMaker.Sign() < 0 {
			remainingMaker = big.NewInt(0)
		}
	}
	return allocations, nil
}

// remainingFillableTakerAmount is the minimum of every constraint the oracle
// could price: unfilled remainder, taker-side balance and fee funding (when
// the order binds a taker), maker-side balance and fee funding converted to
// taker units. Division floors throughout.
func remainingFillableTakerAmount(order *zeroex.Order, state *OrderRelevantState) *big.Int {
	if state == nil {
		return new(big.Int).Set(order.TakerAssetAmount)
	}
	if state.CancelledOnChain {
		return big.NewInt(0)
	}

	remaining := new(big.Int).Set(order.TakerAssetAmount)
	if state.FilledTakerAssetAmount != nil {
		remaining.Sub(remaining, state.FilledTakerAssetAmount)
	}
	if remaining.Sign() <= 0 {
		return big.NewInt(0)
	}

	takerBound := order.TakerAddress != (common.Address{})
	if takerBound {
		if funded := spendable(state.TakerBalance, state.TakerAllowance); funded != nil {
			remaining = bigMin(remaining, funded)
		}
		if order.TakerFee != nil && order.TakerFee.Sign() > 0 {
			if feeFunded := spendable(state.TakerFeeBalance, state.TakerFeeAllowance); feeFunded != nil {
				remaining = bigMin(remaining, mulDivFloor(feeFunded, order.TakerAssetAmount, order.TakerFee))
			}
		}
	}

	if funded := spendable(state.MakerBalance, state.MakerAllowance); funded != nil {
		remaining = bigMin(remaining, mulDivFloor(funded, order.TakerAssetAmount, order.MakerAssetAmount))
	}
	if order.MakerFee != nil && order.MakerFee.Sign() > 0 {
		if feeFunded := spendable(state.MakerFeeBalance, state.MakerFeeAllowance); feeFunded != nil {
			remaining = bigMin(remaining, mulDivFloor(feeFunded, order.TakerAssetAmount, order.MakerFee))
		}
	}

	if remaining.Sign() < 0 {
		return big.NewInt(0)
	}
	return remaining
}

// spendable is min(balance, allowance); nil when neither side is known.
func spendable(balance, allowance *big.Int) *big.Int {
	switch {
	case balance == nil:
		return allowance
	case allowance == nil:
		return balance
	default:
		return bigMin(balance, allowance)
	}
}

// mulDivFloor computes a*b/d with floor division; a zero divisor yields zero
// rather than a panic, since an order with a zero denominator cannot convert
// between asset units at all.
func mulDivFloor(a, b, d *big.Int) *big.Int {
	if a == nil || b == nil || d == nil || d.Sign() == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Div(product, d)
}

func bigMin(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
