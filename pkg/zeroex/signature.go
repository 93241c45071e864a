package zeroex

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureType represents the type of 0x signature encountered
type SignatureType uint8

// SignatureType values
const (
	IllegalSignature SignatureType = iota
	InvalidSignature
	EIP712Signature
	EthSignSignature
	WalletSignature
	ValidatorSignature
	PreSignedSignature
	NSignatureTypesSignature
)

func (t SignatureType) String() string {
	switch t {
	case IllegalSignature:
		return "Illegal"
	case InvalidSignature:
		return "Invalid"
	case EIP712Signature:
		return "EIP712"
	case EthSignSignature:
		return "EthSign"
	case WalletSignature:
		return "Wallet"
	case ValidatorSignature:
		return "Validator"
	case PreSignedSignature:
		return "PreSigned"
	default:
		return fmt.Sprintf("SignatureType(%d)", uint8(t))
	}
}

// ErrSignatureEmpty is returned when a signature has no bytes at all.
var ErrSignatureEmpty = errors.New("signature is empty")

// Signature is a parsed 0x signature. For ECDSA-backed types (EIP712,
// EthSign) V, R and S carry the curve points; for contract-backed types the
// raw bytes are all a verifier needs.
type Signature struct {
	Type SignatureType
	V    byte
	R    common.Hash
	S    common.Hash
}

// ParseSignature validates the shape of a 0x signature. The last byte names
// the type; ECDSA types are exactly [V || R || S || type] (66 bytes).
func ParseSignature(signature []byte) (*Signature, error) {
	if len(signature) == 0 {
		return nil, ErrSignatureEmpty
	}
	kind := SignatureType(signature[len(signature)-1])
	switch kind {
	case EIP712Signature, EthSignSignature:
		if len(signature) != 66 {
			return nil, fmt.Errorf("%s signature must be 66 bytes, got %d", kind, len(signature))
		}
		sig := &Signature{Type: kind, V: signature[0]}
		copy(sig.R[:], signature[1:33])
		copy(sig.S[:], signature[33:65])
		return sig, nil
	case InvalidSignature:
		if len(signature) != 1 {
			return nil, fmt.Errorf("Invalid-type signature must be exactly 1 byte, got %d", len(signature))
		}
		return &Signature{Type: kind}, nil
	case WalletSignature, ValidatorSignature, PreSignedSignature:
		return &Signature{Type: kind}, nil
	case IllegalSignature:
		return nil, errors.New("illegal signature type")
	default:
		return nil, fmt.Errorf("unknown signature type %d", uint8(kind))
	}
}

// BuildSignature converts a raw 65-byte [R || S || V] signature, V in {0, 1},
// as produced by crypto.Sign, into 0x wire form [V+27 || R || S || type].
func BuildSignature(raw []byte, kind SignatureType) ([]byte, error) {
	if len(raw) != 65 {
		return nil, fmt.Errorf("raw signature must be 65 bytes, got %d", len(raw))
	}
	signature := make([]byte, 66)
	signature[0] = raw[64] + 27
	copy(signature[1:33], raw[0:32])
	copy(signature[33:65], raw[32:64])
	signature[65] = byte(kind)
	return signature, nil
}

// EthSignHash applies the "\x19Ethereum Signed Message" prefix used by
// eth_sign to a 32-byte hash.
func EthSignHash(hash common.Hash) common.Hash {
	return common.BytesToHash(keccak256([]byte("\x19Ethereum Signed Message:\n32"), hash.Bytes()))
}

// RecoverSigner returns the address that produced an ECDSA-backed signature
// over hash. Contract-backed types cannot be recovered locally and return an
// error.
func RecoverSigner(hash common.Hash, signature []byte) (common.Address, error) {
	parsed, err := ParseSignature(signature)
	if err != nil {
		return common.Address{}, err
	}
	switch parsed.Type {
	case EIP712Signature:
		return recoverECDSA(hash, parsed)
	case EthSignSignature:
		return recoverECDSA(EthSignHash(hash), parsed)
	default:
		return common.Address{}, fmt.Errorf("cannot recover signer for %s signature", parsed.Type)
	}
}

func recoverECDSA(digest common.Hash, sig *Signature) (common.Address, error) {
	if sig.V != 27 && sig.V != 28 {
		return common.Address{}, fmt.Errorf("invalid recovery id %d", sig.V)
	}
	raw := make([]byte, 65)
	copy(raw[0:32], sig.R[:])
	copy(raw[32:64], sig.S[:])
	raw[64] = sig.V - 27
	pubkey, err := crypto.SigToPub(digest.Bytes(), raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pubkey), nil
}
