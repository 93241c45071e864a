package coordinator

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0xProject/0x-coordinator-server/pkg/crypto"
	"github.com/0xProject/0x-coordinator-server/pkg/storage"
	"github.com/0xProject/0x-coordinator-server/pkg/util"
	"github.com/0xProject/0x-coordinator-server/pkg/zeroex"
)

// recoveringVerifier accepts ECDSA-backed signatures whose recovered address
// matches the declared signer, like the live verifier does for EIP712 types.
type recoveringVerifier struct{}

func (recoveringVerifier) ValidSignature(_ context.Context, hash common.Hash, signature []byte, signerAddress common.Address) (bool, error) {
	recovered, err := zeroex.RecoverSigner(hash, signature)
	if err != nil {
		return false, nil
	}
	return recovered == signerAddress, nil
}

// acceptAllVerifier stands in for contract-wallet signers whose signatures
// cannot be recovered locally.
type acceptAllVerifier struct{}

func (acceptAllVerifier) ValidSignature(context.Context, common.Hash, []byte, common.Address) (bool, error) {
	return true, nil
}

// scriptedOracle returns fixed states by order hash; unknown orders report no
// state at all.
type scriptedOracle struct {
	states map[common.Hash]*OrderRelevantState
}

func (o *scriptedOracle) OrderRelevantStates(_ context.Context, orders []*zeroex.Order) ([]*OrderRelevantState, error) {
	out := make([]*OrderRelevantState, len(orders))
	for i, order := range orders {
		hash, err := order.Hash()
		if err != nil {
			return nil, err
		}
		out[i] = o.states[hash]
	}
	return out, nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *capturePublisher) Publish(_ int64, event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *capturePublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func (p *capturePublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// approverHarness wires an approver against in-memory storage, a manual clock
// and generated maker/taker/fee-recipient keys.
type approverHarness struct {
	t        *testing.T
	chainID  int64
	bundle   *ChainBundle
	approver *Approver
	store    *storage.MemoryStore
	clock    *util.ManualClock
	events   *capturePublisher
	decoder  *zeroex.Decoder
	oracle   *scriptedOracle

	feeSigner *crypto.Signer
	maker     *crypto.Signer
	taker     *crypto.Signer
	txOrigin  common.Address

	salt int64
}

func mustKey(t *testing.T) *crypto.Signer {
	t.Helper()
	signer, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return signer
}

func newApproverHarness(t *testing.T, opts Options) *approverHarness {
	t.Helper()
	if opts.ExpirationDuration == 0 {
		opts.ExpirationDuration = 90 * time.Second
	}

	h := &approverHarness{
		t:         t,
		chainID:   1337,
		feeSigner: mustKey(t),
		maker:     mustKey(t),
		taker:     mustKey(t),
		txOrigin:  common.HexToAddress("0x5409ed021d9299bf6814279a6a1411a7e866a631"),
	}

	decoder, err := zeroex.NewDecoder()
	if err != nil {
		t.Fatalf("failed to build decoder: %v", err)
	}
	h.decoder = decoder

	h.oracle = &scriptedOracle{states: make(map[common.Hash]*OrderRelevantState)}
	h.bundle = signerBundle(t, h.chainID, h.feeSigner)
	h.bundle.Oracle = h.oracle
	h.bundle.Verifier = recoveringVerifier{}
	registry := NewRegistry()
	registry.Register(h.bundle)

	h.clock = util.NewManualClock(time.Unix(1700000000, 0))
	h.store = storage.NewMemoryStore(h.clock)
	h.events = &capturePublisher{}

	approver, err := NewApprover(registry, h.store, h.events, h.clock, zap.NewNop(), opts)
	if err != nil {
		t.Fatalf("failed to build approver: %v", err)
	}
	h.approver = approver
	return h
}

func (h *approverHarness) nextSalt() *big.Int {
	h.salt++
	return big.NewInt(h.salt)
}

func (h *approverHarness) newOrder(takerAmount int64, feeRecipient common.Address) *zeroex.SignedOrder {
	h.t.Helper()
	order := &zeroex.Order{
		ChainID:               big.NewInt(h.chainID),
		ExchangeAddress:       h.bundle.Addresses.Exchange,
		MakerAddress:          h.maker.Address(),
		FeeRecipientAddress:   feeRecipient,
		MakerAssetAmount:      big.NewInt(takerAmount * 2),
		TakerAssetAmount:      big.NewInt(takerAmount),
		MakerFee:              big.NewInt(0),
		TakerFee:              big.NewInt(0),
		ExpirationTimeSeconds: big.NewInt(2524604400),
		Salt:                  h.nextSalt(),
	}
	hash, err := order.Hash()
	if err != nil {
		h.t.Fatalf("failed to hash order: %v", err)
	}
	raw, err := h.maker.Sign(hash.Bytes())
	if err != nil {
		h.t.Fatalf("failed to sign order: %v", err)
	}
	sig, err := zeroex.BuildSignature(raw, zeroex.EIP712Signature)
	if err != nil {
		h.t.Fatalf("failed to build signature: %v", err)
	}
	return &zeroex.SignedOrder{Order: *order, Signature: sig}
}

// order builds a maker-signed order whose fee recipient this coordinator
// holds a key for.
func (h *approverHarness) order(takerAmount int64) *zeroex.SignedOrder {
	return h.newOrder(takerAmount, h.feeSigner.Address())
}

func (h *approverHarness) buildTx(signerAddress common.Address, data []byte, expiration int64) *zeroex.Transaction {
	return &zeroex.Transaction{
		ChainID:               big.NewInt(h.chainID),
		ExchangeAddress:       h.bundle.Addresses.Exchange,
		SignerAddress:         signerAddress,
		Salt:                  h.nextSalt(),
		ExpirationTimeSeconds: big.NewInt(expiration),
		GasPrice:              big.NewInt(1000000000),
		Data:                  data,
	}
}

func (h *approverHarness) signTx(tx *zeroex.Transaction, key *crypto.Signer) *zeroex.SignedTransaction {
	h.t.Helper()
	hash, err := tx.Hash()
	if err != nil {
		h.t.Fatalf("failed to hash transaction: %v", err)
	}
	raw, err := key.Sign(hash.Bytes())
	if err != nil {
		h.t.Fatalf("failed to sign transaction: %v", err)
	}
	sig, err := zeroex.BuildSignature(raw, zeroex.EIP712Signature)
	if err != nil {
		h.t.Fatalf("failed to build signature: %v", err)
	}
	return &zeroex.SignedTransaction{Transaction: *tx, Signature: sig}
}

func (h *approverHarness) fillTx(order *zeroex.SignedOrder, amount int64) *zeroex.SignedTransaction {
	h.t.Helper()
	data, err := h.decoder.EncodeFillOrder("fillOrder", order, big.NewInt(amount))
	if err != nil {
		h.t.Fatalf("failed to encode fillOrder: %v", err)
	}
	return h.signTx(h.buildTx(h.taker.Address(), data, h.clock.Now().Unix()+60), h.taker)
}

func (h *approverHarness) batchFillTx(orders []*zeroex.SignedOrder, amounts []int64) *zeroex.SignedTransaction {
	h.t.Helper()
	bigAmounts := make([]*big.Int, len(amounts))
	for i, a := range amounts {
		bigAmounts[i] = big.NewInt(a)
	}
	data, err := h.decoder.EncodeBatchFill("batchFillOrders", orders, bigAmounts)
	if err != nil {
		h.t.Fatalf("failed to encode batchFillOrders: %v", err)
	}
	return h.signTx(h.buildTx(h.taker.Address(), data, h.clock.Now().Unix()+60), h.taker)
}

func (h *approverHarness) marketSellTx(orders []*zeroex.SignedOrder, amount int64) *zeroex.SignedTransaction {
	h.t.Helper()
	data, err := h.decoder.EncodeMarketSell("marketSellOrdersNoThrow", orders, big.NewInt(amount))
	if err != nil {
		h.t.Fatalf("failed to encode market sell: %v", err)
	}
	return h.signTx(h.buildTx(h.taker.Address(), data, h.clock.Now().Unix()+60), h.taker)
}

func (h *approverHarness) cancelTx(order *zeroex.Order) *zeroex.SignedTransaction {
	h.t.Helper()
	data, err := h.decoder.EncodeCancelOrder(order)
	if err != nil {
		h.t.Fatalf("failed to encode cancelOrder: %v", err)
	}
	return h.signTx(h.buildTx(h.maker.Address(), data, h.clock.Now().Unix()+60), h.maker)
}

func (h *approverHarness) batchCancelTx(orders []*zeroex.Order) *zeroex.SignedTransaction {
	h.t.Helper()
	data, err := h.decoder.EncodeBatchCancelOrders(orders)
	if err != nil {
		h.t.Fatalf("failed to encode batchCancelOrders: %v", err)
	}
	return h.signTx(h.buildTx(h.maker.Address(), data, h.clock.Now().Unix()+60), h.maker)
}

func (h *approverHarness) request(tx *zeroex.SignedTransaction) (*Response, error) {
	return h.approver.RequestApproval(context.Background(), h.chainID, tx, h.txOrigin)
}

func (h *approverHarness) requestFrom(tx *zeroex.SignedTransaction, origin common.Address) (*Response, error) {
	return h.approver.RequestApproval(context.Background(), h.chainID, tx, origin)
}

func hashOfOrder(t *testing.T, order *zeroex.SignedOrder) common.Hash {
	t.Helper()
	hash, err := order.Hash()
	if err != nil {
		t.Fatalf("failed to hash order: %v", err)
	}
	return hash
}

// requireValidationError asserts err is a request error carrying the given
// validation code and returns the matching entry.
func requireValidationError(t *testing.T, err error, code ValidationErrorCode) ValidationError {
	t.Helper()
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected *RequestError, got %T: %v", err, err)
	}
	for _, v := range reqErr.ValidationErrors {
		if v.Code == code {
			return v
		}
	}
	t.Fatalf("no validation error with code %d: %v", code, reqErr)
	return ValidationError{}
}

func assertApprovalRecovers(t *testing.T, h *approverHarness, tx *zeroex.SignedTransaction, origin common.Address, expiration *big.Int, sigHex string, want common.Address) {
	t.Helper()
	txHash, err := tx.Hash()
	if err != nil {
		t.Fatalf("failed to hash transaction: %v", err)
	}
	approval := &zeroex.CoordinatorApproval{
		ChainID:                       big.NewInt(h.chainID),
		CoordinatorAddress:            h.bundle.Addresses.Coordinator,
		TxOrigin:                      origin,
		TransactionHash:               txHash,
		TransactionSignature:          tx.Signature,
		ApprovalExpirationTimeSeconds: expiration,
	}
	digest, err := approval.Hash()
	if err != nil {
		t.Fatalf("failed to hash approval: %v", err)
	}
	recovered, err := zeroex.RecoverSigner(digest, common.FromHex(sigHex))
	if err != nil {
		t.Fatalf("approval signature did not recover: %v", err)
	}
	if recovered != want {
		t.Fatalf("approval signed by %s, want %s", recovered.Hex(), want.Hex())
	}
}

func TestRequestApprovalFillOrder(t *testing.T) {
	h := newApproverHarness(t, Options{})
	order := h.order(100)
	tx := h.fillTx(order, 40)

	resp, err := h.request(tx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Fill == nil || resp.Cancel != nil {
		t.Fatalf("expected a fill response, got %+v", resp)
	}
	if len(resp.Fill.Signatures) != 1 {
		t.Fatalf("expected 1 approval signature, got %d", len(resp.Fill.Signatures))
	}
	wantExpiration := big.NewInt(1700000090)
	if resp.Fill.ExpirationTimeSeconds.Cmp(wantExpiration) != 0 {
		t.Fatalf("expiration = %s, want %s", resp.Fill.ExpirationTimeSeconds, wantExpiration)
	}
	assertApprovalRecovers(t, h, tx, h.txOrigin, wantExpiration, resp.Fill.Signatures[0], h.feeSigner.Address())

	txHash, err := tx.Hash()
	if err != nil {
		t.Fatalf("failed to hash transaction: %v", err)
	}
	record, err := h.store.FindByHash(txHash)
	if err != nil {
		t.Fatalf("FindByHash: %v", err)
	}
	if record == nil {
		t.Fatal("approval was not persisted")
	}
	if record.TakerAddress != h.taker.Address() {
		t.Errorf("record taker = %s, want %s", record.TakerAddress.Hex(), h.taker.Address().Hex())
	}
	if record.TxOrigin != h.txOrigin {
		t.Errorf("record txOrigin = %s, want %s", record.TxOrigin.Hex(), h.txOrigin.Hex())
	}
	if len(record.OrderHashes) != 1 || record.OrderHashes[0] != hashOfOrder(t, order) {
		t.Errorf("record order hashes = %v", record.OrderHashes)
	}
	if len(record.TakerAssetFillAmounts) != 1 || record.TakerAssetFillAmounts[0].Cmp(big.NewInt(40)) != 0 {
		t.Errorf("record allocations = %v, want [40]", record.TakerAssetFillAmounts)
	}

	types := h.events.Types()
	if len(types) != 2 || types[0] != TypeFillRequestReceived || types[1] != TypeFillRequestAccepted {
		t.Errorf("event sequence = %v", types)
	}
}

func TestRequestApprovalReplayRejected(t *testing.T) {
	h := newApproverHarness(t, Options{})
	order := h.order(100)
	tx := h.fillTx(order, 40)

	if _, err := h.request(tx); err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	_, err := h.request(tx)
	requireValidationError(t, err, CodeTransactionAlreadyUsed)
}

func TestFillOverSubscriptionRejected(t *testing.T) {
	h := newApproverHarness(t, Options{})
	order := h.order(100)

	if _, err := h.request(h.fillTx(order, 60)); err != nil {
		t.Fatalf("first fill failed: %v", err)
	}
	// 60 + 50 > 100 for the same taker.
	_, err := h.request(h.fillTx(order, 50))
	v := requireValidationError(t, err, CodeFillRequestsExceededTakerAssetAmount)
	if len(v.Entities) != 1 || v.Entities[0] != hashOfOrder(t, order).Hex() {
		t.Errorf("entities = %v, want the order hash", v.Entities)
	}

	// 60 + 40 = 100 still fits.
	if _, err := h.request(h.fillTx(order, 40)); err != nil {
		t.Fatalf("exact-fit fill failed: %v", err)
	}
}

func TestFillAfterSoftCancelRejected(t *testing.T) {
	h := newApproverHarness(t, Options{})
	order := h.order(100)

	if _, err := h.request(h.cancelTx(&order.Order)); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	_, err := h.request(h.fillTx(order, 10))
	v := requireValidationError(t, err, CodeIncludedOrderAlreadySoftCancelled)
	if len(v.Entities) != 1 || v.Entities[0] != hashOfOrder(t, order).Hex() {
		t.Errorf("entities = %v, want the order hash", v.Entities)
	}
}

func TestBatchCancelScopesToOwnOrders(t *testing.T) {
	h := newApproverHarness(t, Options{})
	mine := h.order(100)
	foreign := h.newOrder(100, common.HexToAddress("0x7457d5e02197480db681d3fdf256c7aca21bdc12"))

	resp, err := h.request(h.batchCancelTx([]*zeroex.Order{&mine.Order, &foreign.Order}))
	if err != nil {
		t.Fatalf("batch cancel failed: %v", err)
	}
	if resp.Cancel == nil {
		t.Fatal("expected a cancel response")
	}
	if len(resp.Cancel.CancellationSignatures) != 1 {
		t.Errorf("expected 1 cancellation signature, got %d", len(resp.Cancel.CancellationSignatures))
	}

	cancelled, err := h.store.IsSoftCancelled(hashOfOrder(t, mine))
	if err != nil || !cancelled {
		t.Errorf("own order soft-cancel = %v, %v; want true", cancelled, err)
	}
	cancelled, err = h.store.IsSoftCancelled(hashOfOrder(t, foreign))
	if err != nil || cancelled {
		t.Errorf("foreign order soft-cancel = %v, %v; want false", cancelled, err)
	}

	// The query surface reports only the in-scope order.
	got, err := h.approver.SoftCancelled(h.chainID, []common.Hash{hashOfOrder(t, mine), hashOfOrder(t, foreign)})
	if err != nil {
		t.Fatalf("SoftCancelled: %v", err)
	}
	if len(got) != 1 || got[0] != hashOfOrder(t, mine) {
		t.Errorf("SoftCancelled = %v", got)
	}

	events := h.events.Events()
	if len(events) != 1 || events[0].Type != TypeCancelRequestAccepted {
		t.Fatalf("events = %v", h.events.Types())
	}
	data, ok := events[0].Data.(CancelRequestAccepted)
	if !ok {
		t.Fatalf("event data is %T", events[0].Data)
	}
	if len(data.Orders) != 1 {
		t.Errorf("cancel event carries %d orders, want 1", len(data.Orders))
	}
}

func TestCancelIdempotentWithOutstandingApprovals(t *testing.T) {
	h := newApproverHarness(t, Options{})
	order := h.order(100)
	fill := h.fillTx(order, 60)
	fillResp, err := h.request(fill)
	if err != nil {
		t.Fatalf("fill failed: %v", err)
	}

	assertOutstanding := func(t *testing.T, resp *Response) {
		t.Helper()
		if resp.Cancel == nil {
			t.Fatal("expected a cancel response")
		}
		outstanding := resp.Cancel.OutstandingFillSignatures
		if len(outstanding) != 1 {
			t.Fatalf("outstanding approvals = %d, want 1", len(outstanding))
		}
		entry := outstanding[0]
		if entry.OrderHash != hashOfOrder(t, order) {
			t.Errorf("outstanding order hash = %s", entry.OrderHash.Hex())
		}
		if entry.TakerAssetFillAmount.Cmp(big.NewInt(60)) != 0 {
			t.Errorf("outstanding amount = %s, want 60", entry.TakerAssetFillAmount)
		}
		if entry.ExpirationTimeSeconds.Cmp(fillResp.Fill.ExpirationTimeSeconds) != 0 {
			t.Errorf("outstanding expiration = %s, want %s", entry.ExpirationTimeSeconds, fillResp.Fill.ExpirationTimeSeconds)
		}
		if len(entry.ApprovalSignatures) != 1 || entry.ApprovalSignatures[0] != fillResp.Fill.Signatures[0] {
			t.Errorf("outstanding signatures = %v", entry.ApprovalSignatures)
		}
	}

	first, err := h.request(h.cancelTx(&order.Order))
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	assertOutstanding(t, first)

	// Cancelling again succeeds and the zero-expiration cancel record does
	// not surface as an outstanding approval.
	second, err := h.request(h.cancelTx(&order.Order))
	if err != nil {
		t.Fatalf("repeat cancel failed: %v", err)
	}
	assertOutstanding(t, second)
}

func TestSelectiveDelayCancelPreemption(t *testing.T) {
	h := newApproverHarness(t, Options{SelectiveDelay: time.Second})
	order := h.order(100)
	fill := h.fillTx(order, 40)

	type result struct {
		resp *Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := h.request(fill)
		done <- result{resp, err}
	}()

	// Wait for the fill to arm its delay timer.
	deadline := time.Now().Add(2 * time.Second)
	for h.clock.Waiters() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("fill request never reached the selective delay")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := h.request(h.cancelTx(&order.Order)); err != nil {
		t.Fatalf("cancel during delay failed: %v", err)
	}
	h.clock.Advance(time.Second)

	got := <-done
	if got.err == nil {
		t.Fatal("fill succeeded despite a cancel during the delay")
	}
	requireValidationError(t, got.err, CodeIncludedOrderAlreadySoftCancelled)

	for _, typ := range h.events.Types() {
		if typ == TypeFillRequestAccepted {
			t.Error("a rejected fill must not publish an accepted event")
		}
	}
}

func TestSelectiveDelayContextCancelled(t *testing.T) {
	h := newApproverHarness(t, Options{SelectiveDelay: time.Second})
	order := h.order(100)
	fill := h.fillTx(order, 40)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.approver.RequestApproval(ctx, h.chainID, fill, h.txOrigin)
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for h.clock.Waiters() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("fill request never reached the selective delay")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	txHash, err := fill.Hash()
	if err != nil {
		t.Fatalf("failed to hash transaction: %v", err)
	}
	record, err := h.store.FindByHash(txHash)
	if err != nil {
		t.Fatalf("FindByHash: %v", err)
	}
	if record != nil {
		t.Error("an abandoned request must not persist an approval")
	}
}

func TestTransactionExpirationTooHigh(t *testing.T) {
	h := newApproverHarness(t, Options{})
	order := h.order(100)
	data, err := h.decoder.EncodeFillOrder("fillOrder", order, big.NewInt(40))
	if err != nil {
		t.Fatalf("failed to encode fillOrder: %v", err)
	}
	// Approval expires at now+90; a transaction outliving it is refused.
	tx := h.signTx(h.buildTx(h.taker.Address(), data, h.clock.Now().Unix()+91), h.taker)

	_, err = h.request(tx)
	requireValidationError(t, err, CodeTransactionExpirationTooHigh)
}

func TestUnsupportedChainRejected(t *testing.T) {
	h := newApproverHarness(t, Options{})
	order := h.order(100)
	tx := h.fillTx(order, 40)

	_, err := h.approver.RequestApproval(context.Background(), 999, tx, h.txOrigin)
	v := requireValidationError(t, err, CodeUnsupportedOption)
	if v.Field != "chainId" {
		t.Errorf("field = %q, want chainId", v.Field)
	}
}

func TestDomainMismatchRejected(t *testing.T) {
	h := newApproverHarness(t, Options{})
	order := h.order(100)
	data, err := h.decoder.EncodeFillOrder("fillOrder", order, big.NewInt(40))
	if err != nil {
		t.Fatalf("failed to encode fillOrder: %v", err)
	}

	t.Run("chain id", func(t *testing.T) {
		tx := h.buildTx(h.taker.Address(), data, h.clock.Now().Unix()+60)
		tx.ChainID = big.NewInt(1)
		_, err := h.request(h.signTx(tx, h.taker))
		v := requireValidationError(t, err, CodeIncorrectFormat)
		if v.Field != "signedTransaction.domain.chainId" {
			t.Errorf("field = %q", v.Field)
		}
	})

	t.Run("verifying contract", func(t *testing.T) {
		tx := h.buildTx(h.taker.Address(), data, h.clock.Now().Unix()+60)
		tx.ExchangeAddress = common.HexToAddress("0x0000000000000000000000000000000000000001")
		_, err := h.request(h.signTx(tx, h.taker))
		v := requireValidationError(t, err, CodeIncorrectFormat)
		if v.Field != "signedTransaction.domain.verifyingContract" {
			t.Errorf("field = %q", v.Field)
		}
	})
}

func TestRefusedExchangeFunctions(t *testing.T) {
	h := newApproverHarness(t, Options{})
	left := h.order(100)
	right := h.order(100)

	matchData, err := h.decoder.EncodeMatchOrders(left, right)
	if err != nil {
		t.Fatalf("failed to encode matchOrders: %v", err)
	}
	epochData, err := h.decoder.EncodeCancelOrdersUpTo(big.NewInt(7))
	if err != nil {
		t.Fatalf("failed to encode cancelOrdersUpTo: %v", err)
	}

	for name, data := range map[string][]byte{
		"matchOrders":      matchData,
		"cancelOrdersUpTo": epochData,
	} {
		t.Run(name, func(t *testing.T) {
			tx := h.signTx(h.buildTx(h.taker.Address(), data, h.clock.Now().Unix()+60), h.taker)
			_, err := h.request(tx)
			requireValidationError(t, err, CodeFunctionCallUnsupported)
		})
	}
}

func TestNoCoordinatorOrdersRejected(t *testing.T) {
	h := newApproverHarness(t, Options{})
	foreign := h.newOrder(100, common.HexToAddress("0x7457d5e02197480db681d3fdf256c7aca21bdc12"))

	_, err := h.request(h.fillTx(foreign, 40))
	requireValidationError(t, err, CodeNoCoordinatorOrdersIncluded)
}

func TestInvalidTransactionSignatureRejected(t *testing.T) {
	h := newApproverHarness(t, Options{})
	order := h.order(100)
	data, err := h.decoder.EncodeFillOrder("fillOrder", order, big.NewInt(40))
	if err != nil {
		t.Fatalf("failed to encode fillOrder: %v", err)
	}
	// Declared signer is the taker, but the maker signs.
	tx := h.signTx(h.buildTx(h.taker.Address(), data, h.clock.Now().Unix()+60), h.maker)

	_, err = h.request(tx)
	requireValidationError(t, err, CodeInvalidTransactionSignature)
}

func TestOnlyMakerCanCancel(t *testing.T) {
	h := newApproverHarness(t, Options{})
	order := h.order(100)
	data, err := h.decoder.EncodeCancelOrder(&order.Order)
	if err != nil {
		t.Fatalf("failed to encode cancelOrder: %v", err)
	}
	tx := h.signTx(h.buildTx(h.taker.Address(), data, h.clock.Now().Unix()+60), h.taker)

	_, err = h.request(tx)
	requireValidationError(t, err, CodeOnlyMakerCanCancelOrders)

	cancelled, err := h.store.IsSoftCancelled(hashOfOrder(t, order))
	if err != nil || cancelled {
		t.Errorf("rejected cancel must not mark the order, got %v, %v", cancelled, err)
	}
}

func TestWhitelistedTakerSharesHistoryByOrigin(t *testing.T) {
	contractTaker := common.HexToAddress("0x871dd7c2b4b25e1aa18728e9d59f2de25caa6de1")
	h := newApproverHarness(t, Options{TakerContractWhitelist: []common.Address{contractTaker}})
	// Contract signatures cannot be recovered locally.
	h.bundle.Verifier = acceptAllVerifier{}

	order := h.order(100)
	originOne := common.HexToAddress("0x0000000000000000000000000000000000000aa1")
	originTwo := common.HexToAddress("0x0000000000000000000000000000000000000aa2")

	contractFill := func(amount int64) *zeroex.SignedTransaction {
		data, err := h.decoder.EncodeFillOrder("fillOrder", order, big.NewInt(amount))
		if err != nil {
			t.Fatalf("failed to encode fillOrder: %v", err)
		}
		tx := h.buildTx(contractTaker, data, h.clock.Now().Unix()+60)
		return &zeroex.SignedTransaction{Transaction: *tx, Signature: []byte{byte(zeroex.WalletSignature)}}
	}

	first := contractFill(60)
	if _, err := h.requestFrom(first, originOne); err != nil {
		t.Fatalf("first origin fill failed: %v", err)
	}
	// A different origin keeps its own ledger even though the signer matches.
	if _, err := h.requestFrom(contractFill(60), originTwo); err != nil {
		t.Fatalf("second origin fill failed: %v", err)
	}
	// The first origin is already at 60 of 100.
	_, err := h.requestFrom(contractFill(50), originOne)
	requireValidationError(t, err, CodeFillRequestsExceededTakerAssetAmount)

	// The record still names the contract as taker; partitioning only reads
	// by origin.
	txHash, err := first.Hash()
	if err != nil {
		t.Fatalf("failed to hash transaction: %v", err)
	}
	record, err := h.store.FindByHash(txHash)
	if err != nil || record == nil {
		t.Fatalf("FindByHash = %v, %v", record, err)
	}
	if record.TakerAddress != contractTaker {
		t.Errorf("record taker = %s, want the contract", record.TakerAddress.Hex())
	}
	if record.TxOrigin != originOne {
		t.Errorf("record origin = %s, want %s", record.TxOrigin.Hex(), originOne.Hex())
	}
}

func TestBatchFillAcrossFeeRecipients(t *testing.T) {
	h := newApproverHarness(t, Options{})
	secondFee := mustKey(t)
	h.bundle.Keyring.Add(secondFee)

	orderA := h.order(100)
	orderB := h.newOrder(100, secondFee.Address())
	tx := h.batchFillTx([]*zeroex.SignedOrder{orderA, orderB}, []int64{40, 50})

	resp, err := h.request(tx)
	if err != nil {
		t.Fatalf("batch fill failed: %v", err)
	}
	if len(resp.Fill.Signatures) != 2 {
		t.Fatalf("expected one signature per fee recipient, got %d", len(resp.Fill.Signatures))
	}
	assertApprovalRecovers(t, h, tx, h.txOrigin, resp.Fill.ExpirationTimeSeconds, resp.Fill.Signatures[0], h.feeSigner.Address())
	assertApprovalRecovers(t, h, tx, h.txOrigin, resp.Fill.ExpirationTimeSeconds, resp.Fill.Signatures[1], secondFee.Address())

	txHash, err := tx.Hash()
	if err != nil {
		t.Fatalf("failed to hash transaction: %v", err)
	}
	record, err := h.store.FindByHash(txHash)
	if err != nil || record == nil {
		t.Fatalf("FindByHash = %v, %v", record, err)
	}
	if len(record.TakerAssetFillAmounts) != 2 ||
		record.TakerAssetFillAmounts[0].Cmp(big.NewInt(40)) != 0 ||
		record.TakerAssetFillAmounts[1].Cmp(big.NewInt(50)) != 0 {
		t.Errorf("record allocations = %v, want [40 50]", record.TakerAssetFillAmounts)
	}
}

func TestMarketSellUsesOracleState(t *testing.T) {
	h := newApproverHarness(t, Options{})
	order := h.order(100)
	// 40 already filled on-chain leaves 60 fillable.
	h.oracle.states[hashOfOrder(t, order)] = &OrderRelevantState{
		FilledTakerAssetAmount: big.NewInt(40),
	}

	if _, err := h.request(h.marketSellTx([]*zeroex.SignedOrder{order}, 100)); err != nil {
		t.Fatalf("market sell failed: %v", err)
	}

	// The allocation was clamped to the fillable remainder.
	fills, err := h.store.FindByOrdersAndTaker([]common.Hash{hashOfOrder(t, order)}, h.taker.Address(), true)
	if err != nil {
		t.Fatalf("FindByOrdersAndTaker: %v", err)
	}
	if len(fills) != 1 || fills[0].TakerAssetFillAmounts[0].Cmp(big.NewInt(60)) != 0 {
		t.Errorf("ledger = %v, want one 60-unit allocation", fills)
	}

	// A second market sell allocates another 60, which overshoots the
	// 100-unit order once the ledger already carries 60.
	_, err = h.request(h.marketSellTx([]*zeroex.SignedOrder{order}, 100))
	requireValidationError(t, err, CodeFillRequestsExceededTakerAssetAmount)
}

func TestApproverConfiguration(t *testing.T) {
	h := newApproverHarness(t, Options{SelectiveDelay: 1500 * time.Millisecond, ExpirationDuration: 2 * time.Minute})
	cfg := h.approver.Configuration()
	if cfg.SelectiveDelayMs != 1500 {
		t.Errorf("SelectiveDelayMs = %d, want 1500", cfg.SelectiveDelayMs)
	}
	if cfg.ExpirationDurationSeconds != 120 {
		t.Errorf("ExpirationDurationSeconds = %d, want 120", cfg.ExpirationDurationSeconds)
	}
	if len(cfg.SupportedChainIDs) != 1 || cfg.SupportedChainIDs[0] != 1337 {
		t.Errorf("SupportedChainIDs = %v, want [1337]", cfg.SupportedChainIDs)
	}
	if !h.approver.SupportsChain(1337) || h.approver.SupportsChain(999) {
		t.Error("SupportsChain mismatch with the registry")
	}
}
