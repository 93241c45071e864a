package coordinator

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xProject/0x-coordinator-server/pkg/zeroex"
)

// Event type strings on the wire
const (
	TypeFillRequestReceived   = "FILL_REQUEST_RECEIVED"
	TypeFillRequestAccepted   = "FILL_REQUEST_ACCEPTED"
	TypeCancelRequestAccepted = "CANCEL_REQUEST_ACCEPTED"
)

// Event is one {type, data} message on a chain's broadcast channel.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// FillRequestReceived announces a fill request that passed pre-delay
// validation and entered the selective delay.
type FillRequestReceived struct {
	TransactionHash common.Hash `json:"transactionHash"`
}

// FillRequestAccepted announces a granted approval, echoing the signed
// meta-transaction so subscribers can act on it.
type FillRequestAccepted struct {
	FunctionName                  string                    `json:"functionName"`
	Orders                        []*zeroex.Order           `json:"orders"`
	TxOrigin                      common.Address            `json:"txOrigin"`
	SignedTransaction             *zeroex.SignedTransaction `json:"signedTransaction"`
	ApprovalSignatures            []string                  `json:"approvalSignatures"`
	ApprovalExpirationTimeSeconds *big.Int                  `json:"approvalExpirationTimeSeconds"`
}

// CancelRequestAccepted announces recorded soft cancels.
type CancelRequestAccepted struct {
	Orders          []*zeroex.Order `json:"orders"`
	TransactionHash common.Hash     `json:"transactionHash"`
}

// Publisher fans an event out to every subscriber of one chain. Delivery is
// best effort; a Publisher must never block the caller indefinitely.
type Publisher interface {
	Publish(chainID int64, event Event)
}

// NopPublisher drops every event. Useful for tests and headless runs.
type NopPublisher struct{}

func (NopPublisher) Publish(int64, Event) {}
