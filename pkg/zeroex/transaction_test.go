package zeroex

import (
	"bytes"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func mustBigInt(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("invalid big.Int string: " + s)
	}
	return v
}

func testTransaction() *Transaction {
	return &Transaction{
		ChainID:               big.NewInt(1337),
		ExchangeAddress:       common.HexToAddress("0x48bacb9266a570d521063ef5dd96e61686dbe788"),
		SignerAddress:         common.HexToAddress("0x6ecbe1db9ef729cbe972c83fb886247691fb6beb"),
		Salt:                  mustBigInt("66097384406870180066088868792420700254"),
		ExpirationTimeSeconds: big.NewInt(1700000600),
		GasPrice:              big.NewInt(20000000000),
		Data:                  common.FromHex("0x9b44d5560000000000000000000000000000000000000000000000000000000000000001"),
	}
}

func TestTransactionHashDeterministic(t *testing.T) {
	first, err := testTransaction().Hash()
	if err != nil {
		t.Fatalf("failed to hash transaction: %v", err)
	}
	second, err := testTransaction().Hash()
	if err != nil {
		t.Fatalf("failed to hash transaction: %v", err)
	}
	if first != second {
		t.Fatalf("identical transactions hashed differently: %s vs %s", first.Hex(), second.Hex())
	}
}

func TestTransactionHashSensitivity(t *testing.T) {
	base, err := testTransaction().Hash()
	if err != nil {
		t.Fatalf("failed to hash transaction: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(tx *Transaction)
	}{
		{"chainId", func(tx *Transaction) { tx.ChainID = big.NewInt(1) }},
		{"exchangeAddress", func(tx *Transaction) { tx.ExchangeAddress = common.HexToAddress("0x1") }},
		{"signerAddress", func(tx *Transaction) { tx.SignerAddress = common.HexToAddress("0x2") }},
		{"salt", func(tx *Transaction) { tx.Salt = big.NewInt(1) }},
		{"expirationTimeSeconds", func(tx *Transaction) { tx.ExpirationTimeSeconds = big.NewInt(1) }},
		{"gasPrice", func(tx *Transaction) { tx.GasPrice = big.NewInt(1) }},
		{"data", func(tx *Transaction) { tx.Data = []byte{0x01} }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tx := testTransaction()
			tc.mutate(tx)
			hash, err := tx.Hash()
			if err != nil {
				t.Fatalf("failed to hash transaction: %v", err)
			}
			if hash == base {
				t.Fatalf("mutating %s did not change the transaction hash", tc.name)
			}
		})
	}
}

func TestTransactionHashDiffersFromOrderHash(t *testing.T) {
	// Both hash under the same exchange domain; the type hash must keep them
	// apart even on contrived field overlap.
	txHash, err := testTransaction().Hash()
	if err != nil {
		t.Fatalf("failed to hash transaction: %v", err)
	}
	orderHash, err := testOrder().Hash()
	if err != nil {
		t.Fatalf("failed to hash order: %v", err)
	}
	if txHash == orderHash {
		t.Fatal("transaction hash collided with order hash")
	}
}

func TestSignedTransactionJSONRoundTrip(t *testing.T) {
	signed := &SignedTransaction{
		Transaction: *testTransaction(),
		Signature:   common.FromHex("0x1bf80f20e2d994a43446aab3e1d78edbabb2dd6cae32579b5f4554c075ec1f20de56b90c9a5748fe53e5f73460cdba3d2ac26c8d7e8d7330cb1a5c0a42277b7e7002"),
	}

	data, err := json.Marshal(signed)
	if err != nil {
		t.Fatalf("failed to marshal signed transaction: %v", err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("failed to unmarshal into map: %v", err)
	}
	domain, ok := fields["domain"].(map[string]interface{})
	if !ok {
		t.Fatalf("domain encoded as %T, want nested object", fields["domain"])
	}
	if domain["verifyingContract"] != "0x48bacb9266a570d521063ef5dd96e61686dbe788" {
		t.Fatalf("domain.verifyingContract = %v", domain["verifyingContract"])
	}
	if domain["chainId"] != float64(1337) {
		t.Fatalf("domain.chainId = %v", domain["chainId"])
	}

	var decoded SignedTransaction
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal signed transaction: %v", err)
	}

	wantHash, err := signed.Transaction.Hash()
	if err != nil {
		t.Fatalf("failed to hash original: %v", err)
	}
	gotHash, err := decoded.Transaction.Hash()
	if err != nil {
		t.Fatalf("failed to hash decoded: %v", err)
	}
	if wantHash != gotHash {
		t.Fatalf("hash changed across JSON round trip: %s vs %s", wantHash.Hex(), gotHash.Hex())
	}
	if !bytes.Equal(decoded.Signature, signed.Signature) {
		t.Fatal("signature changed across JSON round trip")
	}
	if decoded.GasPrice.Cmp(signed.GasPrice) != 0 {
		t.Fatal("gasPrice changed across JSON round trip")
	}
}

func testApproval() *CoordinatorApproval {
	return &CoordinatorApproval{
		ChainID:                       big.NewInt(1337),
		CoordinatorAddress:            common.HexToAddress("0x4d3d5c850dd5bd9d6f4adda3dd039a3c8054ca29"),
		TxOrigin:                      common.HexToAddress("0x6ecbe1db9ef729cbe972c83fb886247691fb6beb"),
		TransactionHash:               common.HexToHash("0x3fd9b05737c8f8e9f3f0f0b1f7e4f64133e525aff4b0d1a224c0a93bfa021ac5"),
		TransactionSignature:          common.FromHex("0x1c8405a5f0b0538b02"),
		ApprovalExpirationTimeSeconds: big.NewInt(1700000090),
	}
}

func TestCoordinatorApprovalHashSensitivity(t *testing.T) {
	base, err := testApproval().Hash()
	if err != nil {
		t.Fatalf("failed to hash approval: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(a *CoordinatorApproval)
	}{
		{"chainId", func(a *CoordinatorApproval) { a.ChainID = big.NewInt(1) }},
		{"coordinatorAddress", func(a *CoordinatorApproval) { a.CoordinatorAddress = common.HexToAddress("0x1") }},
		{"txOrigin", func(a *CoordinatorApproval) { a.TxOrigin = common.HexToAddress("0x2") }},
		{"transactionHash", func(a *CoordinatorApproval) { a.TransactionHash = common.HexToHash("0x3") }},
		{"transactionSignature", func(a *CoordinatorApproval) { a.TransactionSignature = []byte{0x04} }},
		{"approvalExpirationTimeSeconds", func(a *CoordinatorApproval) { a.ApprovalExpirationTimeSeconds = big.NewInt(5) }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			approval := testApproval()
			tc.mutate(approval)
			hash, err := approval.Hash()
			if err != nil {
				t.Fatalf("failed to hash approval: %v", err)
			}
			if hash == base {
				t.Fatalf("mutating %s did not change the approval hash", tc.name)
			}
		})
	}
}

func TestCoordinatorApprovalHashDeterministic(t *testing.T) {
	first, err := testApproval().Hash()
	if err != nil {
		t.Fatalf("failed to hash approval: %v", err)
	}
	second, err := testApproval().Hash()
	if err != nil {
		t.Fatalf("failed to hash approval: %v", err)
	}
	if first != second {
		t.Fatalf("identical approvals hashed differently: %s vs %s", first.Hex(), second.Hex())
	}
}
