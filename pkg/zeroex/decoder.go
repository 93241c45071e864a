package zeroex

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// orderComponents mirrors the LibOrder.Order tuple of the v3 exchange.
const orderComponents = `[` +
	`{"internalType":"address","name":"makerAddress","type":"address"},` +
	`{"internalType":"address","name":"takerAddress","type":"address"},` +
	`{"internalType":"address","name":"feeRecipientAddress","type":"address"},` +
	`{"internalType":"address","name":"senderAddress","type":"address"},` +
	`{"internalType":"uint256","name":"makerAssetAmount","type":"uint256"},` +
	`{"internalType":"uint256","name":"takerAssetAmount","type":"uint256"},` +
	`{"internalType":"uint256","name":"makerFee","type":"uint256"},` +
	`{"internalType":"uint256","name":"takerFee","type":"uint256"},` +
	`{"internalType":"uint256","name":"expirationTimeSeconds","type":"uint256"},` +
	`{"internalType":"uint256","name":"salt","type":"uint256"},` +
	`{"internalType":"bytes","name":"makerAssetData","type":"bytes"},` +
	`{"internalType":"bytes","name":"takerAssetData","type":"bytes"},` +
	`{"internalType":"bytes","name":"makerFeeAssetData","type":"bytes"},` +
	`{"internalType":"bytes","name":"takerFeeAssetData","type":"bytes"}` +
	`]`

const transactionComponents = `[` +
	`{"internalType":"uint256","name":"salt","type":"uint256"},` +
	`{"internalType":"uint256","name":"expirationTimeSeconds","type":"uint256"},` +
	`{"internalType":"uint256","name":"gasPrice","type":"uint256"},` +
	`{"internalType":"address","name":"signerAddress","type":"address"},` +
	`{"internalType":"bytes","name":"data","type":"bytes"}` +
	`]`

func orderArg(name string) string {
	return `{"components":` + orderComponents + `,"internalType":"struct LibOrder.Order","name":"` + name + `","type":"tuple"}`
}

func ordersArg(name string) string {
	return `{"components":` + orderComponents + `,"internalType":"struct LibOrder.Order[]","name":"` + name + `","type":"tuple[]"}`
}

const (
	uintAmountArg  = `{"internalType":"uint256","name":"%s","type":"uint256"}`
	signatureArg   = `{"internalType":"bytes","name":"%s","type":"bytes"}`
	signaturesArg  = `{"internalType":"bytes[]","name":"signatures","type":"bytes[]"}`
	uintAmountsArg = `{"internalType":"uint256[]","name":"takerAssetFillAmounts","type":"uint256[]"}`
)

func fillFn(name string) string {
	return `{"constant":false,"inputs":[` + orderArg("order") + `,` +
		fmt.Sprintf(uintAmountArg, "takerAssetFillAmount") + `,` +
		fmt.Sprintf(signatureArg, "signature") +
		`],"name":"` + name + `","outputs":[],"payable":true,"stateMutability":"payable","type":"function"}`
}

func batchFillFn(name string) string {
	return `{"constant":false,"inputs":[` + ordersArg("orders") + `,` +
		uintAmountsArg + `,` + signaturesArg +
		`],"name":"` + name + `","outputs":[],"payable":true,"stateMutability":"payable","type":"function"}`
}

func marketFn(name, amountName string) string {
	return `{"constant":false,"inputs":[` + ordersArg("orders") + `,` +
		fmt.Sprintf(uintAmountArg, amountName) + `,` + signaturesArg +
		`],"name":"` + name + `","outputs":[],"payable":true,"stateMutability":"payable","type":"function"}`
}

var exchangeABIJSON = `[` + strings.Join([]string{
	fillFn("fillOrder"),
	fillFn("fillOrKillOrder"),
	batchFillFn("batchFillOrders"),
	batchFillFn("batchFillOrKillOrders"),
	batchFillFn("batchFillOrdersNoThrow"),
	marketFn("marketSellOrdersFillOrKill", "takerAssetFillAmount"),
	marketFn("marketSellOrdersNoThrow", "takerAssetFillAmount"),
	marketFn("marketBuyOrdersFillOrKill", "makerAssetFillAmount"),
	marketFn("marketBuyOrdersNoThrow", "makerAssetFillAmount"),
	`{"constant":false,"inputs":[` + orderArg("order") + `],"name":"cancelOrder","outputs":[],"payable":false,"stateMutability":"nonpayable","type":"function"}`,
	`{"constant":false,"inputs":[` + ordersArg("orders") + `],"name":"batchCancelOrders","outputs":[],"payable":false,"stateMutability":"nonpayable","type":"function"}`,
	`{"constant":false,"inputs":[{"internalType":"uint256","name":"targetOrderEpoch","type":"uint256"}],"name":"cancelOrdersUpTo","outputs":[],"payable":false,"stateMutability":"nonpayable","type":"function"}`,
	`{"constant":false,"inputs":[` + orderArg("leftOrder") + `,` + orderArg("rightOrder") + `,` +
		fmt.Sprintf(signatureArg, "leftSignature") + `,` + fmt.Sprintf(signatureArg, "rightSignature") +
		`],"name":"matchOrders","outputs":[],"payable":true,"stateMutability":"payable","type":"function"}`,
	`{"constant":false,"inputs":[{"internalType":"bytes32","name":"hash","type":"bytes32"}],"name":"preSign","outputs":[],"payable":false,"stateMutability":"nonpayable","type":"function"}`,
	`{"constant":false,"inputs":[{"components":` + transactionComponents + `,"internalType":"struct LibZeroExTransaction.ZeroExTransaction","name":"transaction","type":"tuple"},` +
		fmt.Sprintf(signatureArg, "signature") +
		`],"name":"executeTransaction","outputs":[],"payable":true,"stateMutability":"payable","type":"function"}`,
}, ",") + `]`

// wireOrder matches the LibOrder.Order tuple field-for-field so abi
// conversion can bind by name.
type wireOrder struct {
	MakerAddress          common.Address
	TakerAddress          common.Address
	FeeRecipientAddress   common.Address
	SenderAddress         common.Address
	MakerAssetAmount      *big.Int
	TakerAssetAmount      *big.Int
	MakerFee              *big.Int
	TakerFee              *big.Int
	ExpirationTimeSeconds *big.Int
	Salt                  *big.Int
	MakerAssetData        []byte
	TakerAssetData        []byte
	MakerFeeAssetData     []byte
	TakerFeeAssetData     []byte
}

// CallKind classifies a decoded exchange call by its argument shape.
type CallKind int

// CallKind values
const (
	CallFillOrder CallKind = iota
	CallBatchFillOrders
	CallMarketSellOrders
	CallMarketBuyOrders
	CallCancelOrder
	CallBatchCancelOrders
)

// IsCancel reports whether the call soft-cancels orders rather than fills
// them.
func (k CallKind) IsCancel() bool {
	return k == CallCancelOrder || k == CallBatchCancelOrders
}

// DecodedCall is the typed form of exchange calldata embedded in a 0x
// transaction.
type DecodedCall struct {
	FunctionName string
	Kind         CallKind
	Orders       []*Order

	// TakerAssetFillAmounts holds the per-order amounts of batch fills.
	TakerAssetFillAmounts []*big.Int
	// TakerAssetFillAmount is the single amount of fillOrder variants and
	// market sells.
	TakerAssetFillAmount *big.Int
	// MakerAssetFillAmount is the market-buy target.
	MakerAssetFillAmount *big.Int

	Signatures [][]byte
}

// ErrCalldataTooShort is returned when calldata cannot hold a selector.
var ErrCalldataTooShort = errors.New("calldata shorter than a function selector")

// UnsupportedFunctionError marks calldata for an exchange function the
// coordinator recognizes but does not coordinate.
type UnsupportedFunctionError struct {
	Name string
}

func (e *UnsupportedFunctionError) Error() string {
	return fmt.Sprintf("exchange function not supported: %s", e.Name)
}

// Functions the exchange exposes and the decoder recognizes, but which the
// coordinator refuses to approve.
var unsupportedFunctions = map[string]bool{
	"cancelOrdersUpTo":   true,
	"matchOrders":        true,
	"preSign":            true,
	"executeTransaction": true,
}

var callKinds = map[string]CallKind{
	"fillOrder":                  CallFillOrder,
	"fillOrKillOrder":            CallFillOrder,
	"batchFillOrders":            CallBatchFillOrders,
	"batchFillOrKillOrders":      CallBatchFillOrders,
	"batchFillOrdersNoThrow":     CallBatchFillOrders,
	"marketSellOrdersFillOrKill": CallMarketSellOrders,
	"marketSellOrdersNoThrow":    CallMarketSellOrders,
	"marketBuyOrdersFillOrKill":  CallMarketBuyOrders,
	"marketBuyOrdersNoThrow":     CallMarketBuyOrders,
	"cancelOrder":                CallCancelOrder,
	"batchCancelOrders":          CallBatchCancelOrders,
}

// Decoder decodes and encodes calldata against the v3 exchange ABI.
type Decoder struct {
	abi abi.ABI
}

// NewDecoder parses the embedded exchange ABI.
func NewDecoder() (*Decoder, error) {
	parsed, err := abi.JSON(strings.NewReader(exchangeABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse exchange ABI: %w", err)
	}
	return &Decoder{abi: parsed}, nil
}

// DecodeExchangeCalldata classifies calldata destined for the exchange
// contract. chainID and exchangeAddress give decoded orders their hashing
// context.
func (d *Decoder) DecodeExchangeCalldata(data []byte, chainID *big.Int, exchangeAddress common.Address) (*DecodedCall, error) {
	if len(data) < 4 {
		return nil, ErrCalldataTooShort
	}
	method, err := d.abi.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("unrecognized exchange selector %s", hexutil.Encode(data[:4]))
	}
	if unsupportedFunctions[method.Name] {
		return nil, &UnsupportedFunctionError{Name: method.Name}
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s calldata: %w", method.Name, err)
	}

	call := &DecodedCall{
		FunctionName: method.Name,
		Kind:         callKinds[method.Name],
	}
	switch call.Kind {
	case CallFillOrder:
		wire := *abi.ConvertType(args[0], new(wireOrder)).(*wireOrder)
		call.Orders = []*Order{orderFromWire(wire, chainID, exchangeAddress)}
		call.TakerAssetFillAmount = args[1].(*big.Int)
		call.Signatures = [][]byte{args[2].([]byte)}
	case CallBatchFillOrders:
		call.Orders = ordersFromWire(*abi.ConvertType(args[0], new([]wireOrder)).(*[]wireOrder), chainID, exchangeAddress)
		call.TakerAssetFillAmounts = args[1].([]*big.Int)
		call.Signatures = args[2].([][]byte)
	case CallMarketSellOrders:
		call.Orders = ordersFromWire(*abi.ConvertType(args[0], new([]wireOrder)).(*[]wireOrder), chainID, exchangeAddress)
		call.TakerAssetFillAmount = args[1].(*big.Int)
		call.Signatures = args[2].([][]byte)
	case CallMarketBuyOrders:
		call.Orders = ordersFromWire(*abi.ConvertType(args[0], new([]wireOrder)).(*[]wireOrder), chainID, exchangeAddress)
		call.MakerAssetFillAmount = args[1].(*big.Int)
		call.Signatures = args[2].([][]byte)
	case CallCancelOrder:
		wire := *abi.ConvertType(args[0], new(wireOrder)).(*wireOrder)
		call.Orders = []*Order{orderFromWire(wire, chainID, exchangeAddress)}
	case CallBatchCancelOrders:
		call.Orders = ordersFromWire(*abi.ConvertType(args[0], new([]wireOrder)).(*[]wireOrder), chainID, exchangeAddress)
	}
	return call, nil
}

func orderFromWire(w wireOrder, chainID *big.Int, exchangeAddress common.Address) *Order {
	return &Order{
		ChainID:               chainID,
		ExchangeAddress:       exchangeAddress,
		MakerAddress:          w.MakerAddress,
		TakerAddress:          w.TakerAddress,
		FeeRecipientAddress:   w.FeeRecipientAddress,
		SenderAddress:         w.SenderAddress,
		MakerAssetAmount:      w.MakerAssetAmount,
		TakerAssetAmount:      w.TakerAssetAmount,
		MakerFee:              w.MakerFee,
		TakerFee:              w.TakerFee,
		ExpirationTimeSeconds: w.ExpirationTimeSeconds,
		Salt:                  w.Salt,
		MakerAssetData:        w.MakerAssetData,
		TakerAssetData:        w.TakerAssetData,
		MakerFeeAssetData:     w.MakerFeeAssetData,
		TakerFeeAssetData:     w.TakerFeeAssetData,
	}
}

func ordersFromWire(wires []wireOrder, chainID *big.Int, exchangeAddress common.Address) []*Order {
	orders := make([]*Order, len(wires))
	for i, w := range wires {
		orders[i] = orderFromWire(w, chainID, exchangeAddress)
	}
	return orders
}

func orderToWire(o *Order) wireOrder {
	return wireOrder{
		MakerAddress:          o.MakerAddress,
		TakerAddress:          o.TakerAddress,
		FeeRecipientAddress:   o.FeeRecipientAddress,
		SenderAddress:         o.SenderAddress,
		MakerAssetAmount:      orZero(o.MakerAssetAmount),
		TakerAssetAmount:      orZero(o.TakerAssetAmount),
		MakerFee:              orZero(o.MakerFee),
		TakerFee:              orZero(o.TakerFee),
		ExpirationTimeSeconds: orZero(o.ExpirationTimeSeconds),
		Salt:                  orZero(o.Salt),
		MakerAssetData:        orEmpty(o.MakerAssetData),
		TakerAssetData:        orEmpty(o.TakerAssetData),
		MakerFeeAssetData:     orEmpty(o.MakerFeeAssetData),
		TakerFeeAssetData:     orEmpty(o.TakerFeeAssetData),
	}
}

func ordersToWire(orders []*Order) []wireOrder {
	wires := make([]wireOrder, len(orders))
	for i, o := range orders {
		wires[i] = orderToWire(o)
	}
	return wires
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func orEmpty(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

func signaturesOf(orders []*SignedOrder) ([]*Order, [][]byte) {
	bare := make([]*Order, len(orders))
	sigs := make([][]byte, len(orders))
	for i, o := range orders {
		bare[i] = &o.Order
		sigs[i] = o.Signature
	}
	return bare, sigs
}

// EncodeFillOrder packs a fillOrder-family call (fillOrder, fillOrKillOrder).
func (d *Decoder) EncodeFillOrder(functionName string, order *SignedOrder, takerAssetFillAmount *big.Int) ([]byte, error) {
	if callKinds[functionName] != CallFillOrder {
		return nil, fmt.Errorf("%s is not a single-fill function", functionName)
	}
	return d.abi.Pack(functionName, orderToWire(&order.Order), takerAssetFillAmount, order.Signature)
}

// EncodeBatchFill packs a batchFillOrders-family call.
func (d *Decoder) EncodeBatchFill(functionName string, orders []*SignedOrder, takerAssetFillAmounts []*big.Int) ([]byte, error) {
	if callKinds[functionName] != CallBatchFillOrders {
		return nil, fmt.Errorf("%s is not a batch-fill function", functionName)
	}
	bare, sigs := signaturesOf(orders)
	return d.abi.Pack(functionName, ordersToWire(bare), takerAssetFillAmounts, sigs)
}

// EncodeMarketSell packs a marketSellOrders-family call.
func (d *Decoder) EncodeMarketSell(functionName string, orders []*SignedOrder, takerAssetFillAmount *big.Int) ([]byte, error) {
	if callKinds[functionName] != CallMarketSellOrders {
		return nil, fmt.Errorf("%s is not a market-sell function", functionName)
	}
	bare, sigs := signaturesOf(orders)
	return d.abi.Pack(functionName, ordersToWire(bare), takerAssetFillAmount, sigs)
}

// EncodeMarketBuy packs a marketBuyOrders-family call.
func (d *Decoder) EncodeMarketBuy(functionName string, orders []*SignedOrder, makerAssetFillAmount *big.Int) ([]byte, error) {
	if callKinds[functionName] != CallMarketBuyOrders {
		return nil, fmt.Errorf("%s is not a market-buy function", functionName)
	}
	bare, sigs := signaturesOf(orders)
	return d.abi.Pack(functionName, ordersToWire(bare), makerAssetFillAmount, sigs)
}

// EncodeCancelOrder packs a cancelOrder call.
func (d *Decoder) EncodeCancelOrder(order *Order) ([]byte, error) {
	return d.abi.Pack("cancelOrder", orderToWire(order))
}

// EncodeBatchCancelOrders packs a batchCancelOrders call.
func (d *Decoder) EncodeBatchCancelOrders(orders []*Order) ([]byte, error) {
	return d.abi.Pack("batchCancelOrders", ordersToWire(orders))
}

// EncodeCancelOrdersUpTo packs a cancelOrdersUpTo call. The coordinator never
// approves it; callers use it to address the exchange directly.
func (d *Decoder) EncodeCancelOrdersUpTo(targetOrderEpoch *big.Int) ([]byte, error) {
	return d.abi.Pack("cancelOrdersUpTo", targetOrderEpoch)
}

// EncodeMatchOrders packs a matchOrders call, another function the
// coordinator recognizes but refuses.
func (d *Decoder) EncodeMatchOrders(left, right *SignedOrder) ([]byte, error) {
	return d.abi.Pack("matchOrders", orderToWire(&left.Order), orderToWire(&right.Order), left.Signature, right.Signature)
}
