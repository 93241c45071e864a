package coordinator

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/0xProject/0x-coordinator-server/pkg/zeroex"
)

// SignApproval computes the coordinator approval digest for the signed
// transaction and txOrigin, then signs it with every distinct fee recipient
// across the orders, preserving first-seen order. Returned signatures are in
// 0x wire form [V || R || S || EIP712].
func SignApproval(bundle *ChainBundle, tx *zeroex.SignedTransaction, txOrigin common.Address, orders []*zeroex.Order, approvalExpiration *big.Int) ([][]byte, error) {
	txHash, err := tx.Hash()
	if err != nil {
		return nil, fmt.Errorf("failed to hash transaction: %w", err)
	}
	approval := &zeroex.CoordinatorApproval{
		ChainID:                       big.NewInt(bundle.ChainID),
		CoordinatorAddress:            bundle.Addresses.Coordinator,
		TxOrigin:                      txOrigin,
		TransactionHash:               txHash,
		TransactionSignature:          tx.Signature,
		ApprovalExpirationTimeSeconds: approvalExpiration,
	}
	digest, err := approval.Hash()
	if err != nil {
		return nil, fmt.Errorf("failed to hash approval: %w", err)
	}

	recipients := DistinctFeeRecipients(orders)
	signatures := make([][]byte, 0, len(recipients))
	for _, recipient := range recipients {
		signer, ok := bundle.Keyring.Signer(recipient)
		if !ok {
			return nil, &ConfigurationError{
				Reason: fmt.Sprintf("no key for fee recipient %s on chain %d", recipient.Hex(), bundle.ChainID),
			}
		}
		raw, err := signer.Sign(digest.Bytes())
		if err != nil {
			return nil, fmt.Errorf("failed to sign approval: %w", err)
		}
		signature, err := zeroex.BuildSignature(raw, zeroex.EIP712Signature)
		if err != nil {
			return nil, err
		}
		signatures = append(signatures, signature)
	}
	return signatures, nil
}

// DistinctFeeRecipients returns the unique fee-recipient addresses across
// the orders in first-seen order.
func DistinctFeeRecipients(orders []*zeroex.Order) []common.Address {
	seen := make(map[common.Address]bool)
	var recipients []common.Address
	for _, o := range orders {
		if !seen[o.FeeRecipientAddress] {
			seen[o.FeeRecipientAddress] = true
			recipients = append(recipients, o.FeeRecipientAddress)
		}
	}
	return recipients
}

func signaturesToHex(signatures [][]byte) []string {
	out := make([]string, len(signatures))
	for i, sig := range signatures {
		out[i] = hexutil.Encode(sig)
	}
	return out
}
