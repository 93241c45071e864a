package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/0xProject/0x-coordinator-server/pkg/coordinator"
	"github.com/0xProject/0x-coordinator-server/pkg/zeroex"
)

// exchangeViewABI covers the read-only exchange functions the coordinator
// consults: fill and cancel state by order hash, and hash-signature
// validation for contract-backed signature types.
const exchangeViewABI = `[
  {"constant":true,"inputs":[{"internalType":"bytes32","name":"orderHash","type":"bytes32"}],"name":"filled","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"payable":false,"stateMutability":"view","type":"function"},
  {"constant":true,"inputs":[{"internalType":"bytes32","name":"orderHash","type":"bytes32"}],"name":"cancelled","outputs":[{"internalType":"bool","name":"","type":"bool"}],"payable":false,"stateMutability":"view","type":"function"},
  {"constant":true,"inputs":[{"internalType":"bytes32","name":"hash","type":"bytes32"},{"internalType":"address","name":"signerAddress","type":"address"},{"internalType":"bytes","name":"signature","type":"bytes"}],"name":"isValidHashSignature","outputs":[{"internalType":"bool","name":"isValid","type":"bool"}],"payable":false,"stateMutability":"view","type":"function"}
]`

// devUtilsABI covers the DevUtils helper used to batch balance and asset
// proxy allowance reads for one owner.
const devUtilsABI = `[
  {"constant":true,"inputs":[{"internalType":"address","name":"ownerAddress","type":"address"},{"internalType":"bytes[]","name":"assetData","type":"bytes[]"}],"name":"getBatchBalancesAndAssetProxyAllowances","outputs":[{"internalType":"uint256[]","name":"balances","type":"uint256[]"},{"internalType":"uint256[]","name":"allowances","type":"uint256[]"}],"payable":false,"stateMutability":"view","type":"function"}
]`

// Backend is the slice of an Ethereum client the oracle needs. *ethclient.Client
// satisfies it; tests script it.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Client reads order state and verifies signatures against a live chain. It
// implements coordinator.OrderStateOracle and coordinator.SignatureVerifier.
type Client struct {
	backend   Backend
	addresses zeroex.ContractAddresses
	exchange  abi.ABI
	devUtils  abi.ABI
	logger    *zap.Logger
}

// NewClient wraps an existing backend.
func NewClient(backend Backend, addresses zeroex.ContractAddresses, logger *zap.Logger) (*Client, error) {
	exchange, err := abi.JSON(strings.NewReader(exchangeViewABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse exchange ABI: %w", err)
	}
	devUtils, err := abi.JSON(strings.NewReader(devUtilsABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse devutils ABI: %w", err)
	}
	return &Client{
		backend:   backend,
		addresses: addresses,
		exchange:  exchange,
		devUtils:  devUtils,
		logger:    logger,
	}, nil
}

// Dial connects to a JSON-RPC endpoint and wraps it.
func Dial(rpcURL string, addresses zeroex.ContractAddresses, logger *zap.Logger) (*Client, error) {
	backend, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}
	return NewClient(backend, addresses, logger)
}

var (
	_ coordinator.OrderStateOracle  = (*Client)(nil)
	_ coordinator.SignatureVerifier = (*Client)(nil)
)

// assetSlot names which constraint of an order a balance query feeds.
type assetSlot int

const (
	slotMakerAsset assetSlot = iota
	slotMakerFee
	slotTakerAsset
	slotTakerFee
)

type balanceQuery struct {
	order     int
	slot      assetSlot
	assetData []byte
}

// OrderRelevantStates snapshots on-chain fill state plus maker/taker funding
// for every order. Fill and cancel flags come from the exchange contract;
// balances and asset-proxy allowances from DevUtils, batched per owner.
func (c *Client) OrderRelevantStates(ctx context.Context, orders []*zeroex.Order) ([]*coordinator.OrderRelevantState, error) {
	states := make([]*coordinator.OrderRelevantState, len(orders))
	for i := range states {
		states[i] = &coordinator.OrderRelevantState{}
	}

	queries := make(map[common.Address][]balanceQuery)
	var owners []common.Address
	addQuery := func(owner common.Address, q balanceQuery) {
		if len(q.assetData) == 0 {
			return
		}
		if _, ok := queries[owner]; !ok {
			owners = append(owners, owner)
		}
		queries[owner] = append(queries[owner], q)
	}

	for i, order := range orders {
		hash, err := order.Hash()
		if err != nil {
			return nil, fmt.Errorf("failed to hash order: %w", err)
		}
		filled, err := c.filled(ctx, hash)
		if err != nil {
			return nil, err
		}
		cancelled, err := c.cancelled(ctx, hash)
		if err != nil {
			return nil, err
		}
		states[i].FilledTakerAssetAmount = filled
		states[i].CancelledOnChain = cancelled

		addQuery(order.MakerAddress, balanceQuery{order: i, slot: slotMakerAsset, assetData: order.MakerAssetData})
		if order.MakerFee != nil && order.MakerFee.Sign() > 0 {
			addQuery(order.MakerAddress, balanceQuery{order: i, slot: slotMakerFee, assetData: order.MakerFeeAssetData})
		}
		if order.TakerAddress != (common.Address{}) {
			addQuery(order.TakerAddress, balanceQuery{order: i, slot: slotTakerAsset, assetData: order.TakerAssetData})
			if order.TakerFee != nil && order.TakerFee.Sign() > 0 {
				addQuery(order.TakerAddress, balanceQuery{order: i, slot: slotTakerFee, assetData: order.TakerFeeAssetData})
			}
		}
	}

	for _, owner := range owners {
		batch := queries[owner]
		assetData := make([][]byte, len(batch))
		for i, q := range batch {
			assetData[i] = q.assetData
		}
		balances, allowances, err := c.batchBalancesAndAllowances(ctx, owner, assetData)
		if err != nil {
			return nil, err
		}
		if len(balances) != len(batch) || len(allowances) != len(batch) {
			return nil, fmt.Errorf("devutils returned %d/%d results for %d queries", len(balances), len(allowances), len(batch))
		}
		for i, q := range batch {
			state := states[q.order]
			switch q.slot {
			case slotMakerAsset:
				state.MakerBalance, state.MakerAllowance = balances[i], allowances[i]
			case slotMakerFee:
				state.MakerFeeBalance, state.MakerFeeAllowance = balances[i], allowances[i]
			case slotTakerAsset:
				state.TakerBalance, state.TakerAllowance = balances[i], allowances[i]
			case slotTakerFee:
				state.TakerFeeBalance, state.TakerFeeAllowance = balances[i], allowances[i]
			}
		}
	}

	return states, nil
}

// ValidSignature verifies a 0x signature over hash. ECDSA-backed types verify
// locally; contract-backed types defer to the exchange's signature validation.
func (c *Client) ValidSignature(ctx context.Context, hash common.Hash, signature []byte, signerAddress common.Address) (bool, error) {
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
	case zeroex.WalletSignature, zeroex.ValidatorSignature, zeroex.PreSignedSignature:
		return c.isValidHashSignature(ctx, hash, signerAddress, signature)
	default:
		return false, nil
	}
}

func (c *Client) filled(ctx context.Context, orderHash common.Hash) (*big.Int, error) {
	out, err := c.callExchange(ctx, "filled", orderHash)
	if err != nil {
		return nil, err
	}
	amount, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("filled returned %T, want *big.Int", out[0])
	}
	return amount, nil
}

func (c *Client) cancelled(ctx context.Context, orderHash common.Hash) (bool, error) {
	out, err := c.callExchange(ctx, "cancelled", orderHash)
	if err != nil {
		return false, err
	}
	flag, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("cancelled returned %T, want bool", out[0])
	}
	return flag, nil
}

func (c *Client) isValidHashSignature(ctx context.Context, hash common.Hash, signerAddress common.Address, signature []byte) (bool, error) {
	out, err := c.callExchange(ctx, "isValidHashSignature", hash, signerAddress, signature)
	if err != nil {
		return false, err
	}
	valid, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("isValidHashSignature returned %T, want bool", out[0])
	}
	return valid, nil
}

func (c *Client) batchBalancesAndAllowances(ctx context.Context, owner common.Address, assetData [][]byte) ([]*big.Int, []*big.Int, error) {
	data, err := c.devUtils.Pack("getBatchBalancesAndAssetProxyAllowances", owner, assetData)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to pack devutils call: %w", err)
	}
	ret, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.addresses.DevUtils, Data: data}, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("devutils call failed: %w", err)
	}
	out, err := c.devUtils.Unpack("getBatchBalancesAndAssetProxyAllowances", ret)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to unpack devutils result: %w", err)
	}
	balances, ok := out[0].([]*big.Int)
	if !ok {
		return nil, nil, fmt.Errorf("devutils balances returned %T", out[0])
	}
	allowances, ok := out[1].([]*big.Int)
	if !ok {
		return nil, nil, fmt.Errorf("devutils allowances returned %T", out[1])
	}
	return balances, allowances, nil
}

func (c *Client) callExchange(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.exchange.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}
	ret, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.addresses.Exchange, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}
	out, err := c.exchange.Unpack(method, ret)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	return out, nil
}
