package crypto

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
)

func TestGenerateKey(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	if signer.Address() == (common.Address{}) {
		t.Error("generated zero address")
	}

	privHex := signer.PrivateKeyHex()
	if len(privHex) != 64 {
		t.Errorf("private key hex length = %d, want 64", len(privHex))
	}
}

func TestFromPrivateKeyHex(t *testing.T) {
	signer1, _ := GenerateKey()
	privHex := signer1.PrivateKeyHex()
	expectedAddr := signer1.Address()

	tests := []struct {
		name string
		key  string
	}{
		{name: "no prefix", key: privHex},
		{name: "0x prefix", key: "0x" + privHex},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer2, err := FromPrivateKeyHex(tt.key)
			if err != nil {
				t.Fatalf("failed to load key: %v", err)
			}
			if signer2.Address() != expectedAddr {
				t.Errorf("address = %s, want %s", signer2.Address().Hex(), expectedAddr.Hex())
			}
		})
	}

	if _, err := FromPrivateKeyHex("not-hex"); err == nil {
		t.Error("expected error for malformed key")
	}
}

func TestSignAndVerify(t *testing.T) {
	signer, _ := GenerateKey()

	hash := eth_crypto.Keccak256([]byte("coordinator approval digest"))
	signature, err := signer.Sign(hash)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	// Signature should be 65 bytes [R || S || V]
	if len(signature) != 65 {
		t.Errorf("signature length = %d, want 65", len(signature))
	}

	if !VerifySignature(signer.Address(), hash, signature) {
		t.Error("signature verification failed")
	}

	wrongAddr := common.HexToAddress("0x0000000000000000000000000000000000000001")
	if VerifySignature(wrongAddr, hash, signature) {
		t.Error("signature should not verify with wrong address")
	}
}

func TestSignRejectsBadHashLength(t *testing.T) {
	signer, _ := GenerateKey()
	if _, err := signer.Sign([]byte("short")); err == nil {
		t.Error("expected error for non-32-byte hash")
	}
}

func TestRecoverAddress(t *testing.T) {
	signer, _ := GenerateKey()
	hash := eth_crypto.Keccak256([]byte("recover me"))

	signature, err := signer.Sign(hash)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	recovered, err := RecoverAddress(hash, signature)
	if err != nil {
		t.Fatalf("failed to recover address: %v", err)
	}
	if recovered != signer.Address() {
		t.Errorf("recovered address = %s, want %s", recovered.Hex(), signer.Address().Hex())
	}

	// Invalid lengths
	if _, err := RecoverAddress(hash, []byte{1, 2, 3}); err == nil {
		t.Error("expected error for short signature")
	}
	if _, err := RecoverAddress([]byte("short"), signature); err == nil {
		t.Error("expected error for short hash")
	}
}
