package zeroex

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Order represents an unsigned 0x limit order. ChainID and ExchangeAddress
// pin the order to one deployment of the exchange; both feed the order hash.
type Order struct {
	ChainID               *big.Int       `json:"chainId"`
	ExchangeAddress       common.Address `json:"exchangeAddress"`
	MakerAddress          common.Address `json:"makerAddress"`
	MakerAssetData        []byte         `json:"makerAssetData"`
	MakerFeeAssetData     []byte         `json:"makerFeeAssetData"`
	MakerAssetAmount      *big.Int       `json:"makerAssetAmount"`
	MakerFee              *big.Int       `json:"makerFee"`
	TakerAddress          common.Address `json:"takerAddress"`
	TakerAssetData        []byte         `json:"takerAssetData"`
	TakerFeeAssetData     []byte         `json:"takerFeeAssetData"`
	TakerAssetAmount      *big.Int       `json:"takerAssetAmount"`
	TakerFee              *big.Int       `json:"takerFee"`
	SenderAddress         common.Address `json:"senderAddress"`
	FeeRecipientAddress   common.Address `json:"feeRecipientAddress"`
	ExpirationTimeSeconds *big.Int       `json:"expirationTimeSeconds"`
	Salt                  *big.Int       `json:"salt"`

	// Cache hash for performance
	hash *common.Hash
}

// SignedOrder represents a signed 0x order.
type SignedOrder struct {
	Order
	Signature []byte `json:"signature"`
}

var eip712OrderTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Order": {
		{Name: "makerAddress", Type: "address"},
		{Name: "takerAddress", Type: "address"},
		{Name: "feeRecipientAddress", Type: "address"},
		{Name: "senderAddress", Type: "address"},
		{Name: "makerAssetAmount", Type: "uint256"},
		{Name: "takerAssetAmount", Type: "uint256"},
		{Name: "makerFee", Type: "uint256"},
		{Name: "takerFee", Type: "uint256"},
		{Name: "expirationTimeSeconds", Type: "uint256"},
		{Name: "salt", Type: "uint256"},
		{Name: "makerAssetData", Type: "bytes"},
		{Name: "takerAssetData", Type: "bytes"},
		{Name: "makerFeeAssetData", Type: "bytes"},
		{Name: "takerFeeAssetData", Type: "bytes"},
	},
}

// protocolDomain is the EIP-712 domain of the exchange contract itself.
func protocolDomain(chainID *big.Int, verifyingContract common.Address) apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              "0x Protocol",
		Version:           "3.0.0",
		ChainId:           (*math.HexOrDecimal256)(chainID),
		VerifyingContract: verifyingContract.Hex(),
	}
}

// ResetHash clears the cached order hash. Usually only required for testing.
func (o *Order) ResetHash() {
	o.hash = nil
}

// Hash computes the canonical 0x order hash: the EIP-712 digest of the order
// under the exchange domain for (ChainID, ExchangeAddress). The result is
// cached; mutate-and-rehash requires ResetHash.
func (o *Order) Hash() (common.Hash, error) {
	if o.hash != nil {
		return *o.hash, nil
	}
	if o.ChainID == nil {
		return common.Hash{}, errors.New("order has no chain id")
	}

	typedData := apitypes.TypedData{
		Types:       eip712OrderTypes,
		PrimaryType: "Order",
		Domain:      protocolDomain(o.ChainID, o.ExchangeAddress),
		Message: apitypes.TypedDataMessage{
			"makerAddress":          o.MakerAddress.Hex(),
			"takerAddress":          o.TakerAddress.Hex(),
			"feeRecipientAddress":   o.FeeRecipientAddress.Hex(),
			"senderAddress":         o.SenderAddress.Hex(),
			"makerAssetAmount":      bigIntString(o.MakerAssetAmount),
			"takerAssetAmount":      bigIntString(o.TakerAssetAmount),
			"makerFee":              bigIntString(o.MakerFee),
			"takerFee":              bigIntString(o.TakerFee),
			"expirationTimeSeconds": bigIntString(o.ExpirationTimeSeconds),
			"salt":                  bigIntString(o.Salt),
			"makerAssetData":        hexutil.Encode(o.MakerAssetData),
			"takerAssetData":        hexutil.Encode(o.TakerAssetData),
			"makerFeeAssetData":     hexutil.Encode(o.MakerFeeAssetData),
			"takerFeeAssetData":     hexutil.Encode(o.TakerFeeAssetData),
		},
	}

	digest, err := hashTypedData(typedData)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash order: %w", err)
	}
	hash := common.BytesToHash(digest)
	o.hash = &hash
	return hash, nil
}

// hashTypedData computes keccak256("\x19\x01" || domainSeparator || structHash).
func hashTypedData(typedData apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}
	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(structHash)))
	return keccak256(rawData), nil
}

func bigIntString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// orderJSON is the wire representation of an Order: amounts as decimal
// strings, byte fields as 0x-prefixed hex, addresses lowercased.
type orderJSON struct {
	ChainID               int64  `json:"chainId"`
	ExchangeAddress       string `json:"exchangeAddress"`
	MakerAddress          string `json:"makerAddress"`
	MakerAssetData        string `json:"makerAssetData"`
	MakerFeeAssetData     string `json:"makerFeeAssetData"`
	MakerAssetAmount      string `json:"makerAssetAmount"`
	MakerFee              string `json:"makerFee"`
	TakerAddress          string `json:"takerAddress"`
	TakerAssetData        string `json:"takerAssetData"`
	TakerFeeAssetData     string `json:"takerFeeAssetData"`
	TakerAssetAmount      string `json:"takerAssetAmount"`
	TakerFee              string `json:"takerFee"`
	SenderAddress         string `json:"senderAddress"`
	FeeRecipientAddress   string `json:"feeRecipientAddress"`
	ExpirationTimeSeconds string `json:"expirationTimeSeconds"`
	Salt                  string `json:"salt"`
}

type signedOrderJSON struct {
	orderJSON
	Signature string `json:"signature"`
}

func (o *Order) toJSON() orderJSON {
	chainID := int64(0)
	if o.ChainID != nil {
		chainID = o.ChainID.Int64()
	}
	return orderJSON{
		ChainID:               chainID,
		ExchangeAddress:       strings.ToLower(o.ExchangeAddress.Hex()),
		MakerAddress:          strings.ToLower(o.MakerAddress.Hex()),
		MakerAssetData:        hexutil.Encode(o.MakerAssetData),
		MakerFeeAssetData:     hexutil.Encode(o.MakerFeeAssetData),
		MakerAssetAmount:      bigIntString(o.MakerAssetAmount),
		MakerFee:              bigIntString(o.MakerFee),
		TakerAddress:          strings.ToLower(o.TakerAddress.Hex()),
		TakerAssetData:        hexutil.Encode(o.TakerAssetData),
		TakerFeeAssetData:     hexutil.Encode(o.TakerFeeAssetData),
		TakerAssetAmount:      bigIntString(o.TakerAssetAmount),
		TakerFee:              bigIntString(o.TakerFee),
		SenderAddress:         strings.ToLower(o.SenderAddress.Hex()),
		FeeRecipientAddress:   strings.ToLower(o.FeeRecipientAddress.Hex()),
		ExpirationTimeSeconds: bigIntString(o.ExpirationTimeSeconds),
		Salt:                  bigIntString(o.Salt),
	}
}

func (o *Order) fromJSON(raw orderJSON) error {
	o.ChainID = big.NewInt(raw.ChainID)
	o.ExchangeAddress = common.HexToAddress(raw.ExchangeAddress)
	o.MakerAddress = common.HexToAddress(raw.MakerAddress)
	o.MakerAssetData = common.FromHex(raw.MakerAssetData)
	o.MakerFeeAssetData = common.FromHex(raw.MakerFeeAssetData)
	o.TakerAddress = common.HexToAddress(raw.TakerAddress)
	o.TakerAssetData = common.FromHex(raw.TakerAssetData)
	o.TakerFeeAssetData = common.FromHex(raw.TakerFeeAssetData)
	o.SenderAddress = common.HexToAddress(raw.SenderAddress)
	o.FeeRecipientAddress = common.HexToAddress(raw.FeeRecipientAddress)

	var err error
	if o.MakerAssetAmount, err = parseBigInt("makerAssetAmount", raw.MakerAssetAmount); err != nil {
		return err
	}
	if o.MakerFee, err = parseBigInt("makerFee", raw.MakerFee); err != nil {
		return err
	}
	if o.TakerAssetAmount, err = parseBigInt("takerAssetAmount", raw.TakerAssetAmount); err != nil {
		return err
	}
	if o.TakerFee, err = parseBigInt("takerFee", raw.TakerFee); err != nil {
		return err
	}
	if o.ExpirationTimeSeconds, err = parseBigInt("expirationTimeSeconds", raw.ExpirationTimeSeconds); err != nil {
		return err
	}
	if o.Salt, err = parseBigInt("salt", raw.Salt); err != nil {
		return err
	}
	o.hash = nil
	return nil
}

// MarshalJSON implements a custom JSON marshaller for the Order type.
func (o Order) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.toJSON())
}

// UnmarshalJSON implements a custom JSON unmarshaller for the Order type.
func (o *Order) UnmarshalJSON(data []byte) error {
	var raw orderJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return o.fromJSON(raw)
}

// MarshalJSON implements a custom JSON marshaller for the SignedOrder type.
func (s SignedOrder) MarshalJSON() ([]byte, error) {
	return json.Marshal(signedOrderJSON{
		orderJSON: s.Order.toJSON(),
		Signature: hexutil.Encode(s.Signature),
	})
}

// UnmarshalJSON implements a custom JSON unmarshaller for the SignedOrder type.
func (s *SignedOrder) UnmarshalJSON(data []byte) error {
	var raw signedOrderJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := s.Order.fromJSON(raw.orderJSON); err != nil {
		return err
	}
	s.Signature = common.FromHex(raw.Signature)
	return nil
}

func parseBigInt(field, value string) (*big.Int, error) {
	if value == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := math.ParseBig256(value)
	if !ok {
		return nil, fmt.Errorf("invalid uint256 for %s: %q", field, value)
	}
	return parsed, nil
}
