package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0xProject/0x-coordinator-server/pkg/storage"
	"github.com/0xProject/0x-coordinator-server/pkg/util"
	"github.com/0xProject/0x-coordinator-server/pkg/zeroex"
)

// FillResponse is the success body for fill-family approvals.
type FillResponse struct {
	Signatures            []string `json:"signatures"`
	ExpirationTimeSeconds *big.Int `json:"expirationTimeSeconds"`
}

// OutstandingFillSignatures points a maker at an unexpired approval still
// covering one of their freshly cancelled orders.
type OutstandingFillSignatures struct {
	OrderHash             common.Hash `json:"orderHash"`
	ApprovalSignatures    []string    `json:"approvalSignatures"`
	ExpirationTimeSeconds *big.Int    `json:"expirationTimeSeconds"`
	TakerAssetFillAmount  *big.Int    `json:"takerAssetFillAmount"`
}

// CancelResponse is the success body for cancel-family requests.
type CancelResponse struct {
	OutstandingFillSignatures []OutstandingFillSignatures `json:"outstandingFillSignatures"`
	CancellationSignatures    []string                    `json:"cancellationSignatures"`
}

// Response carries exactly one of the two success bodies.
type Response struct {
	Fill   *FillResponse
	Cancel *CancelResponse
}

// Configuration is the public, immutable server configuration.
type Configuration struct {
	ExpirationDurationSeconds int64   `json:"expirationDurationSeconds"`
	SelectiveDelayMs          int64   `json:"selectiveDelayMs"`
	SupportedChainIDs         []int64 `json:"supportedChainIds"`
}

// Options tune the approver.
type Options struct {
	SelectiveDelay     time.Duration
	ExpirationDuration time.Duration
	// TakerContractWhitelist lists taker contracts whose fill history is
	// aggregated by tx origin instead of by signer.
	TakerContractWhitelist []common.Address
}

// Approver runs the approval state machine for every registered chain.
type Approver struct {
	registry  *Registry
	store     storage.Store
	decoder   *zeroex.Decoder
	publisher Publisher
	clock     util.Clock
	logger    *zap.Logger

	selectiveDelay     time.Duration
	expirationDuration time.Duration
	takerWhitelist     map[common.Address]bool

	// locks serializes the validate-then-persist window per
	// (chain, taker-key) so concurrent fills cannot overshoot an order.
	locks *keyedMutex
}

func NewApprover(registry *Registry, store storage.Store, publisher Publisher, clock util.Clock, logger *zap.Logger, opts Options) (*Approver, error) {
	decoder, err := zeroex.NewDecoder()
	if err != nil {
		return nil, err
	}
	whitelist := make(map[common.Address]bool, len(opts.TakerContractWhitelist))
	for _, addr := range opts.TakerContractWhitelist {
		whitelist[addr] = true
	}
	return &Approver{
		registry:           registry,
		store:              store,
		decoder:            decoder,
		publisher:          publisher,
		clock:              clock,
		logger:             logger,
		selectiveDelay:     opts.SelectiveDelay,
		expirationDuration: opts.ExpirationDuration,
		takerWhitelist:     whitelist,
		locks:              newKeyedMutex(),
	}, nil
}

// Configuration returns the values served on the configuration endpoint.
func (a *Approver) Configuration() Configuration {
	return Configuration{
		ExpirationDurationSeconds: int64(a.expirationDuration / time.Second),
		SelectiveDelayMs:          int64(a.selectiveDelay / time.Millisecond),
		SupportedChainIDs:         a.registry.ChainIDs(),
	}
}

// SupportsChain reports whether the chain is registered.
func (a *Approver) SupportsChain(chainID int64) bool {
	_, ok := a.registry.Chain(chainID)
	return ok
}

// SoftCancelled returns the subset of orderHashes currently soft-cancelled.
func (a *Approver) SoftCancelled(chainID int64, orderHashes []common.Hash) ([]common.Hash, error) {
	if _, ok := a.registry.Chain(chainID); !ok {
		return nil, NewUnsupportedChainError(chainID)
	}
	return a.store.FindSoftCancelled(orderHashes)
}

// scopedOrder pairs an in-scope order with its hash and its index in the
// decoded call, which aligns it with the allocation list.
type scopedOrder struct {
	order *zeroex.Order
	hash  common.Hash
	index int
}

// RequestApproval validates a signed meta-transaction and either records
// soft cancels or grants a fill approval. Failures surface as *RequestError
// for client faults and plain errors for infrastructure faults.
func (a *Approver) RequestApproval(ctx context.Context, chainID int64, signedTx *zeroex.SignedTransaction, txOrigin common.Address) (*Response, error) {
	bundle, ok := a.registry.Chain(chainID)
	if !ok {
		return nil, NewUnsupportedChainError(chainID)
	}
	if signedTx.ChainID == nil || signedTx.ChainID.Int64() != chainID {
		return nil, NewSchemaViolation(ValidationError{
			Field:  "signedTransaction.domain.chainId",
			Code:   CodeIncorrectFormat,
			Reason: "Domain chain id does not match the chainId query parameter",
		})
	}
	if signedTx.ExchangeAddress != bundle.Addresses.Exchange {
		return nil, NewSchemaViolation(ValidationError{
			Field:  "signedTransaction.domain.verifyingContract",
			Code:   CodeIncorrectFormat,
			Reason: fmt.Sprintf("Verifying contract must be the exchange %s", strings.ToLower(bundle.Addresses.Exchange.Hex())),
		})
	}

	call, err := a.decoder.DecodeExchangeCalldata(signedTx.Data, signedTx.ChainID, bundle.Addresses.Exchange)
	if err != nil {
		var unsupported *zeroex.UnsupportedFunctionError
		if errors.As(err, &unsupported) {
			return nil, NewUnsupportedFunctionError(unsupported.Name)
		}
		return nil, NewDecodingFailedError()
	}

	scoped, err := a.inScopeOrders(bundle, call.Orders)
	if err != nil {
		return nil, err
	}
	if len(scoped) == 0 {
		return nil, NewNoCoordinatorOrdersError()
	}

	txHash, err := signedTx.Hash()
	if err != nil {
		return nil, fmt.Errorf("failed to hash transaction: %w", err)
	}
	existing, err := a.store.FindByHash(txHash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, NewTransactionAlreadyUsedError(txHash)
	}

	valid, err := bundle.Verifier.ValidSignature(ctx, txHash, signedTx.Signature, signedTx.SignerAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to verify transaction signature: %w", err)
	}
	if !valid {
		return nil, NewInvalidTransactionSignatureError()
	}

	if call.Kind.IsCancel() {
		return a.approveCancel(bundle, scoped, signedTx, txOrigin, txHash)
	}
	return a.approveFill(ctx, bundle, call, scoped, signedTx, txOrigin, txHash)
}

// inScopeOrders filters the batch down to orders whose fee recipient this
// coordinator holds a key for.
func (a *Approver) inScopeOrders(bundle *ChainBundle, orders []*zeroex.Order) ([]*scopedOrder, error) {
	var scoped []*scopedOrder
	for i, order := range orders {
		if !bundle.Keyring.Contains(order.FeeRecipientAddress) {
			continue
		}
		hash, err := order.Hash()
		if err != nil {
			return nil, fmt.Errorf("failed to hash order: %w", err)
		}
		scoped = append(scoped, &scopedOrder{order: order, hash: hash, index: i})
	}
	return scoped, nil
}

func (a *Approver) approveCancel(bundle *ChainBundle, scoped []*scopedOrder, signedTx *zeroex.SignedTransaction, txOrigin common.Address, txHash common.Hash) (*Response, error) {
	for _, so := range scoped {
		if so.order.MakerAddress != signedTx.SignerAddress {
			return nil, NewOnlyMakerCanCancelError()
		}
	}

	hashes := orderHashes(scoped)
	for _, so := range scoped {
		if err := a.store.SoftCancel(so.hash); err != nil {
			return nil, err
		}
	}

	rawSigs, err := SignApproval(bundle, signedTx, txOrigin, scopedOrders(scoped), big.NewInt(0))
	if err != nil {
		return nil, err
	}
	zeros := make([]*big.Int, len(hashes))
	for i := range zeros {
		zeros[i] = big.NewInt(0)
	}
	record := &storage.TransactionRecord{
		Hash:                  txHash,
		TxOrigin:              txOrigin,
		TakerAddress:          signedTx.SignerAddress,
		Signatures:            rawSigs,
		ExpirationTimeSeconds: big.NewInt(0),
		OrderHashes:           hashes,
		TakerAssetFillAmounts: zeros,
		CreatedAt:             a.clock.Now(),
	}
	if err := a.store.Create(record); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, NewTransactionAlreadyUsedError(txHash)
		}
		return nil, err
	}

	a.publisher.Publish(bundle.ChainID, Event{
		Type: TypeCancelRequestAccepted,
		Data: CancelRequestAccepted{Orders: scopedOrders(scoped), TransactionHash: txHash},
	})

	outstanding, err := a.outstandingFillSignatures(hashes)
	if err != nil {
		return nil, err
	}

	a.logger.Info("soft cancel recorded",
		zap.Int64("chainId", bundle.ChainID),
		zap.String("transactionHash", txHash.Hex()),
		zap.Int("orders", len(hashes)))

	return &Response{Cancel: &CancelResponse{
		OutstandingFillSignatures: outstanding,
		CancellationSignatures:    signaturesToHex(rawSigs),
	}}, nil
}

// outstandingFillSignatures flattens unexpired approvals into one entry per
// (approval, covered order) pair.
func (a *Approver) outstandingFillSignatures(hashes []common.Hash) ([]OutstandingFillSignatures, error) {
	records, err := a.store.FindByOrders(hashes, true)
	if err != nil {
		return nil, err
	}
	wanted := make(map[common.Hash]bool, len(hashes))
	for _, h := range hashes {
		wanted[h] = true
	}
	out := []OutstandingFillSignatures{}
	for _, r := range records {
		for i, oh := range r.OrderHashes {
			if !wanted[oh] || i >= len(r.TakerAssetFillAmounts) {
				continue
			}
			out = append(out, OutstandingFillSignatures{
				OrderHash:             oh,
				ApprovalSignatures:    signaturesToHex(r.Signatures),
				ExpirationTimeSeconds: r.ExpirationTimeSeconds,
				TakerAssetFillAmount:  r.TakerAssetFillAmounts[i],
			})
		}
	}
	return out, nil
}

func (a *Approver) approveFill(ctx context.Context, bundle *ChainBundle, call *zeroex.DecodedCall, scoped []*scopedOrder, signedTx *zeroex.SignedTransaction, txOrigin common.Address, txHash common.Hash) (*Response, error) {
	var states []*OrderRelevantState
	if call.Kind == zeroex.CallMarketSellOrders || call.Kind == zeroex.CallMarketBuyOrders {
		var err error
		states, err = bundle.Oracle.OrderRelevantStates(ctx, call.Orders)
		if err != nil {
			return nil, fmt.Errorf("failed to read order states: %w", err)
		}
		if len(states) != len(call.Orders) {
			return nil, fmt.Errorf("oracle returned %d states for %d orders", len(states), len(call.Orders))
		}
	}
	allocations, err := TakerAssetFillAmounts(call, states)
	if err != nil {
		return nil, NewDecodingFailedError()
	}

	takerKey, byOrigin := a.fillPartition(signedTx.SignerAddress, txOrigin)
	unlock := a.locks.lock(fmt.Sprintf("%d:%s", bundle.ChainID, takerKey.Hex()))
	defer unlock()

	if err := a.validateFill(scoped, allocations, takerKey, byOrigin); err != nil {
		return nil, err
	}

	a.publisher.Publish(bundle.ChainID, Event{
		Type: TypeFillRequestReceived,
		Data: FillRequestReceived{TransactionHash: txHash},
	})

	if a.selectiveDelay > 0 {
		select {
		case <-a.clock.After(a.selectiveDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		// A maker may have soft-cancelled during the delay.
		if err := a.validateFill(scoped, allocations, takerKey, byOrigin); err != nil {
			return nil, err
		}
	}

	now := a.clock.Now()
	approvalExpiration := new(big.Int).Add(
		big.NewInt(now.Unix()),
		big.NewInt(int64(a.expirationDuration/time.Second)),
	)
	if signedTx.ExpirationTimeSeconds != nil && signedTx.ExpirationTimeSeconds.Cmp(approvalExpiration) > 0 {
		return nil, NewTransactionExpirationTooHighError()
	}

	rawSigs, err := SignApproval(bundle, signedTx, txOrigin, scopedOrders(scoped), approvalExpiration)
	if err != nil {
		return nil, err
	}
	record := &storage.TransactionRecord{
		Hash:                  txHash,
		TxOrigin:              txOrigin,
		TakerAddress:          signedTx.SignerAddress,
		Signatures:            rawSigs,
		ExpirationTimeSeconds: approvalExpiration,
		OrderHashes:           orderHashes(scoped),
		TakerAssetFillAmounts: scopedAllocations(scoped, allocations),
		CreatedAt:             now,
	}
	if err := a.store.Create(record); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, NewTransactionAlreadyUsedError(txHash)
		}
		return nil, err
	}

	hexSigs := signaturesToHex(rawSigs)
	a.publisher.Publish(bundle.ChainID, Event{
		Type: TypeFillRequestAccepted,
		Data: FillRequestAccepted{
			FunctionName:                  call.FunctionName,
			Orders:                        scopedOrders(scoped),
			TxOrigin:                      txOrigin,
			SignedTransaction:             signedTx,
			ApprovalSignatures:            hexSigs,
			ApprovalExpirationTimeSeconds: approvalExpiration,
		},
	})

	a.logger.Info("fill approval granted",
		zap.Int64("chainId", bundle.ChainID),
		zap.String("transactionHash", txHash.Hex()),
		zap.String("function", call.FunctionName),
		zap.Int("orders", len(scoped)),
		zap.Int("signatures", len(hexSigs)))

	return &Response{Fill: &FillResponse{
		Signatures:            hexSigs,
		ExpirationTimeSeconds: approvalExpiration,
	}}, nil
}

// fillPartition picks the key fill history aggregates under: allowlisted
// contract takers share history across senders via tx origin.
func (a *Approver) fillPartition(signer, txOrigin common.Address) (common.Address, bool) {
	if a.takerWhitelist[signer] {
		return txOrigin, true
	}
	return signer, false
}

// validateFill rejects fills that touch a soft-cancelled order or would push
// any order past its taker-asset amount for this taker key.
func (a *Approver) validateFill(scoped []*scopedOrder, allocations []*big.Int, takerKey common.Address, byOrigin bool) error {
	hashes := orderHashes(scoped)
	cancelled, err := a.store.FindSoftCancelled(hashes)
	if err != nil {
		return err
	}
	cancelledSet := make(map[common.Hash]bool, len(cancelled))
	for _, h := range cancelled {
		cancelledSet[h] = true
	}

	candidates := make([]common.Hash, 0, len(hashes))
	for _, h := range hashes {
		if !cancelledSet[h] {
			candidates = append(candidates, h)
		}
	}

	var records []*storage.TransactionRecord
	if byOrigin {
		records, err = a.store.FindByOrdersAndTxOrigin(candidates, takerKey, true)
	} else {
		records, err = a.store.FindByOrdersAndTaker(candidates, takerKey, true)
	}
	if err != nil {
		return err
	}
	sums := storage.PerOrderFillSum(records, candidates)

	var exceeded []common.Hash
	for _, so := range scoped {
		if cancelledSet[so.hash] {
			continue
		}
		allocation := allocations[so.index]
		if allocation == nil {
			allocation = zero
		}
		total := new(big.Int).Add(sums[so.hash], allocation)
		if total.Cmp(so.order.TakerAssetAmount) > 0 {
			exceeded = append(exceeded, so.hash)
		}
	}

	if len(cancelled) > 0 || len(exceeded) > 0 {
		return NewFillNotAllowedError(cancelled, exceeded)
	}
	return nil
}

func orderHashes(scoped []*scopedOrder) []common.Hash {
	out := make([]common.Hash, len(scoped))
	for i, so := range scoped {
		out[i] = so.hash
	}
	return out
}

func scopedOrders(scoped []*scopedOrder) []*zeroex.Order {
	out := make([]*zeroex.Order, len(scoped))
	for i, so := range scoped {
		out[i] = so.order
	}
	return out
}

func scopedAllocations(scoped []*scopedOrder, allocations []*big.Int) []*big.Int {
	out := make([]*big.Int, len(scoped))
	for i, so := range scoped {
		if so.index < len(allocations) && allocations[so.index] != nil {
			out[i] = allocations[so.index]
		} else {
			out[i] = big.NewInt(0)
		}
	}
	return out
}
