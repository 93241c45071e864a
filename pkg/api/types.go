package api

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/0xProject/0x-coordinator-server/pkg/coordinator"
	"github.com/0xProject/0x-coordinator-server/pkg/zeroex"
)

// Wire shapes of the /v2 surface. Every field arrives as a pointer so schema
// validation can tell a missing field from a zero value; amounts travel as
// decimal strings because they are uint256s.

// RequestTransactionBody is the POST /v2/request_transaction payload.
type RequestTransactionBody struct {
	SignedTransaction *SignedTransactionWire `json:"signedTransaction"`
	TxOrigin          *string                `json:"txOrigin"`
}

// SignedTransactionWire mirrors zeroex.SignedTransaction field-for-field on
// the wire.
type SignedTransactionWire struct {
	SignerAddress         *string       `json:"signerAddress"`
	Salt                  *string       `json:"salt"`
	ExpirationTimeSeconds *string       `json:"expirationTimeSeconds"`
	GasPrice              *string       `json:"gasPrice"`
	Data                  *string       `json:"data"`
	Domain                *TxDomainWire `json:"domain"`
	Signature             *string       `json:"signature"`
}

// TxDomainWire is the EIP-712 domain block of a meta-transaction.
type TxDomainWire struct {
	ChainID           *int64  `json:"chainId"`
	VerifyingContract *string `json:"verifyingContract"`
}

// SoftCancelsBody is the POST /v2/soft_cancels payload.
type SoftCancelsBody struct {
	OrderHashes *[]string `json:"orderHashes"`
}

// SoftCancelsResponse echoes back the subset of requested hashes that are
// soft-cancelled.
type SoftCancelsResponse struct {
	OrderHashes []string `json:"orderHashes"`
}

// Validate runs the schema stage over the request body: every required field
// must be present and well-formed. On success the parsed meta-transaction and
// tx origin are returned; on failure a RequestError carrying one entry per
// offending field.
func (b *RequestTransactionBody) Validate() (*zeroex.SignedTransaction, common.Address, *coordinator.RequestError) {
	var failures []coordinator.ValidationError
	fail := func(field string, code coordinator.ValidationErrorCode, reason string) {
		failures = append(failures, coordinator.ValidationError{Field: field, Code: code, Reason: reason})
	}

	var txOrigin common.Address
	if b.TxOrigin == nil {
		fail("txOrigin", coordinator.CodeRequiredField, `requires property "txOrigin"`)
	} else if !common.IsHexAddress(*b.TxOrigin) {
		fail("txOrigin", coordinator.CodeInvalidAddress, "txOrigin is not a valid hex address")
	} else {
		txOrigin = common.HexToAddress(*b.TxOrigin)
	}

	if b.SignedTransaction == nil {
		fail("signedTransaction", coordinator.CodeRequiredField, `requires property "signedTransaction"`)
		return nil, common.Address{}, coordinator.NewSchemaViolation(failures...)
	}

	wire := b.SignedTransaction
	tx := &zeroex.SignedTransaction{}

	if wire.SignerAddress == nil {
		fail("signedTransaction.signerAddress", coordinator.CodeRequiredField, `requires property "signerAddress"`)
	} else if !common.IsHexAddress(*wire.SignerAddress) {
		fail("signedTransaction.signerAddress", coordinator.CodeInvalidAddress, "signerAddress is not a valid hex address")
	} else {
		tx.SignerAddress = common.HexToAddress(*wire.SignerAddress)
	}

	tx.Salt = requireUint256("signedTransaction.salt", wire.Salt, fail)
	tx.ExpirationTimeSeconds = requireUint256("signedTransaction.expirationTimeSeconds", wire.ExpirationTimeSeconds, fail)
	tx.GasPrice = requireUint256("signedTransaction.gasPrice", wire.GasPrice, fail)
	tx.Data = requireHexBytes("signedTransaction.data", wire.Data, fail)
	tx.Signature = requireHexBytes("signedTransaction.signature", wire.Signature, fail)

	if wire.Domain == nil {
		fail("signedTransaction.domain", coordinator.CodeRequiredField, `requires property "domain"`)
	} else {
		if wire.Domain.ChainID == nil {
			fail("signedTransaction.domain.chainId", coordinator.CodeRequiredField, `requires property "chainId"`)
		} else {
			tx.ChainID = big.NewInt(*wire.Domain.ChainID)
		}
		if wire.Domain.VerifyingContract == nil {
			fail("signedTransaction.domain.verifyingContract", coordinator.CodeRequiredField, `requires property "verifyingContract"`)
		} else if !common.IsHexAddress(*wire.Domain.VerifyingContract) {
			fail("signedTransaction.domain.verifyingContract", coordinator.CodeInvalidAddress, "verifyingContract is not a valid hex address")
		} else {
			tx.ExchangeAddress = common.HexToAddress(*wire.Domain.VerifyingContract)
		}
	}

	if len(failures) > 0 {
		return nil, common.Address{}, coordinator.NewSchemaViolation(failures...)
	}
	return tx, txOrigin, nil
}

// Validate checks the soft-cancel listing body and parses its order hashes.
func (b *SoftCancelsBody) Validate() ([]common.Hash, *coordinator.RequestError) {
	if b.OrderHashes == nil {
		return nil, coordinator.NewSchemaViolation(coordinator.ValidationError{
			Field:  "orderHashes",
			Code:   coordinator.CodeRequiredField,
			Reason: `requires property "orderHashes"`,
		})
	}
	hashes := make([]common.Hash, 0, len(*b.OrderHashes))
	var failures []coordinator.ValidationError
	for _, raw := range *b.OrderHashes {
		decoded, err := hexutil.Decode(raw)
		if err != nil || len(decoded) != common.HashLength {
			failures = append(failures, coordinator.ValidationError{
				Field:  "orderHashes",
				Code:   coordinator.CodeIncorrectFormat,
				Reason: "order hash must be a 0x-prefixed 32-byte hex string",
			})
			continue
		}
		hashes = append(hashes, common.BytesToHash(decoded))
	}
	if len(failures) > 0 {
		return nil, coordinator.NewSchemaViolation(failures...)
	}
	return hashes, nil
}

type failFunc func(field string, code coordinator.ValidationErrorCode, reason string)

// requireUint256 parses a required decimal-string uint256 field.
func requireUint256(field string, value *string, fail failFunc) *big.Int {
	if value == nil {
		fail(field, coordinator.CodeRequiredField, `requires property "`+lastSegment(field)+`"`)
		return nil
	}
	parsed, ok := math.ParseBig256(*value)
	if !ok {
		fail(field, coordinator.CodeIncorrectFormat, "must be a decimal uint256 string")
		return nil
	}
	if parsed.Sign() < 0 {
		fail(field, coordinator.CodeValueOutOfRange, "must not be negative")
		return nil
	}
	return parsed
}

// requireHexBytes parses a required 0x-prefixed byte field.
func requireHexBytes(field string, value *string, fail failFunc) []byte {
	if value == nil {
		fail(field, coordinator.CodeRequiredField, `requires property "`+lastSegment(field)+`"`)
		return nil
	}
	decoded, err := hexutil.Decode(*value)
	if err != nil {
		fail(field, coordinator.CodeIncorrectFormat, "must be a 0x-prefixed hex string")
		return nil
	}
	return decoded
}

func lastSegment(field string) string {
	for i := len(field) - 1; i >= 0; i-- {
		if field[i] == '.' {
			return field[i+1:]
		}
	}
	return field
}
