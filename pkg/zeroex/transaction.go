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

// Transaction is a 0x meta-transaction: an exchange call encoded in Data,
// executed on behalf of SignerAddress by whoever submits it on-chain.
type Transaction struct {
	ChainID               *big.Int       `json:"chainId"`
	ExchangeAddress       common.Address `json:"exchangeAddress"`
	SignerAddress         common.Address `json:"signerAddress"`
	Salt                  *big.Int       `json:"salt"`
	ExpirationTimeSeconds *big.Int       `json:"expirationTimeSeconds"`
	GasPrice              *big.Int       `json:"gasPrice"`
	Data                  []byte         `json:"data"`

	hash *common.Hash
}

// SignedTransaction is a 0x transaction plus its signature.
type SignedTransaction struct {
	Transaction
	Signature []byte `json:"signature"`
}

var eip712TransactionTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"ZeroExTransaction": {
		{Name: "salt", Type: "uint256"},
		{Name: "expirationTimeSeconds", Type: "uint256"},
		{Name: "gasPrice", Type: "uint256"},
		{Name: "signerAddress", Type: "address"},
		{Name: "data", Type: "bytes"},
	},
}

// ResetHash clears the cached transaction hash.
func (t *Transaction) ResetHash() {
	t.hash = nil
}

// Hash computes the EIP-712 digest of the transaction under the exchange
// domain for (ChainID, ExchangeAddress). The result is cached.
func (t *Transaction) Hash() (common.Hash, error) {
	if t.hash != nil {
		return *t.hash, nil
	}
	if t.ChainID == nil {
		return common.Hash{}, errors.New("transaction has no chain id")
	}

	typedData := apitypes.TypedData{
		Types:       eip712TransactionTypes,
		PrimaryType: "ZeroExTransaction",
		Domain:      protocolDomain(t.ChainID, t.ExchangeAddress),
		Message: apitypes.TypedDataMessage{
			"salt":                  bigIntString(t.Salt),
			"expirationTimeSeconds": bigIntString(t.ExpirationTimeSeconds),
			"gasPrice":              bigIntString(t.GasPrice),
			"signerAddress":         t.SignerAddress.Hex(),
			"data":                  hexutil.Encode(t.Data),
		},
	}

	digest, err := hashTypedData(typedData)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash transaction: %w", err)
	}
	hash := common.BytesToHash(digest)
	t.hash = &hash
	return hash, nil
}

// metaTxDomainJSON is the EIP-712 domain block carried on the wire next to
// the transaction fields it contextualizes.
type metaTxDomainJSON struct {
	ChainID           int64  `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
}

type signedTransactionJSON struct {
	SignerAddress         string           `json:"signerAddress"`
	Salt                  string           `json:"salt"`
	ExpirationTimeSeconds string           `json:"expirationTimeSeconds"`
	GasPrice              string           `json:"gasPrice"`
	Data                  string           `json:"data"`
	Domain                metaTxDomainJSON `json:"domain"`
	Signature             string           `json:"signature"`
}

// MarshalJSON implements a custom JSON marshaller for the SignedTransaction type.
func (s SignedTransaction) MarshalJSON() ([]byte, error) {
	chainID := int64(0)
	if s.ChainID != nil {
		chainID = s.ChainID.Int64()
	}
	return json.Marshal(signedTransactionJSON{
		SignerAddress:         strings.ToLower(s.SignerAddress.Hex()),
		Salt:                  bigIntString(s.Salt),
		ExpirationTimeSeconds: bigIntString(s.ExpirationTimeSeconds),
		GasPrice:              bigIntString(s.GasPrice),
		Data:                  hexutil.Encode(s.Data),
		Domain: metaTxDomainJSON{
			ChainID:           chainID,
			VerifyingContract: strings.ToLower(s.ExchangeAddress.Hex()),
		},
		Signature: hexutil.Encode(s.Signature),
	})
}

// UnmarshalJSON implements a custom JSON unmarshaller for the SignedTransaction type.
func (s *SignedTransaction) UnmarshalJSON(data []byte) error {
	var raw signedTransactionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.ChainID = big.NewInt(raw.Domain.ChainID)
	s.ExchangeAddress = common.HexToAddress(raw.Domain.VerifyingContract)
	s.SignerAddress = common.HexToAddress(raw.SignerAddress)
	s.Data = common.FromHex(raw.Data)
	s.Signature = common.FromHex(raw.Signature)

	var err error
	if s.Salt, err = parseBigInt("salt", raw.Salt); err != nil {
		return err
	}
	if s.ExpirationTimeSeconds, err = parseBigInt("expirationTimeSeconds", raw.ExpirationTimeSeconds); err != nil {
		return err
	}
	if s.GasPrice, err = parseBigInt("gasPrice", raw.GasPrice); err != nil {
		return err
	}
	s.hash = nil
	return nil
}

var eip712ApprovalTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"CoordinatorApproval": {
		{Name: "txOrigin", Type: "address"},
		{Name: "transactionHash", Type: "bytes32"},
		{Name: "transactionSignature", Type: "bytes"},
		{Name: "approvalExpirationTimeSeconds", Type: "uint256"},
	},
}

// CoordinatorApproval is the message a coordinator signs to let txOrigin
// submit an approved transaction to the coordinator contract.
type CoordinatorApproval struct {
	ChainID                       *big.Int
	CoordinatorAddress            common.Address
	TxOrigin                      common.Address
	TransactionHash               common.Hash
	TransactionSignature          []byte
	ApprovalExpirationTimeSeconds *big.Int
}

// Hash computes the EIP-712 digest of the approval under the coordinator
// contract's own domain.
func (a *CoordinatorApproval) Hash() (common.Hash, error) {
	if a.ChainID == nil {
		return common.Hash{}, errors.New("approval has no chain id")
	}

	typedData := apitypes.TypedData{
		Types:       eip712ApprovalTypes,
		PrimaryType: "CoordinatorApproval",
		Domain: apitypes.TypedDataDomain{
			Name:              "0x Protocol Coordinator",
			Version:           "3.0.0",
			ChainId:           (*math.HexOrDecimal256)(a.ChainID),
			VerifyingContract: a.CoordinatorAddress.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"txOrigin":                      a.TxOrigin.Hex(),
			"transactionHash":               a.TransactionHash.Hex(),
			"transactionSignature":          hexutil.Encode(a.TransactionSignature),
			"approvalExpirationTimeSeconds": bigIntString(a.ApprovalExpirationTimeSeconds),
		},
	}

	digest, err := hashTypedData(typedData)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash approval: %w", err)
	}
	return common.BytesToHash(digest), nil
}
