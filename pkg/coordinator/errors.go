package coordinator

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// GeneralErrorCode classifies the top level of a request-error envelope.
type GeneralErrorCode int

// GeneralErrorCode values
const (
	GeneralValidationError GeneralErrorCode = 100
	GeneralMalformedJSON   GeneralErrorCode = 101
)

// ValidationErrorCode classifies one field-level failure.
type ValidationErrorCode int

// ValidationErrorCode values
const (
	CodeRequiredField                        ValidationErrorCode = 1000
	CodeIncorrectFormat                      ValidationErrorCode = 1001
	CodeInvalidAddress                       ValidationErrorCode = 1002
	CodeValueOutOfRange                      ValidationErrorCode = 1004
	CodeInvalidSignatureOrHash               ValidationErrorCode = 1005
	CodeUnsupportedOption                    ValidationErrorCode = 1006
	CodeIncludedOrderAlreadySoftCancelled    ValidationErrorCode = 1007
	CodeTransactionDecodingFailed            ValidationErrorCode = 1008
	CodeNoCoordinatorOrdersIncluded          ValidationErrorCode = 1009
	CodeInvalidTransactionSignature          ValidationErrorCode = 1010
	CodeOnlyMakerCanCancelOrders             ValidationErrorCode = 1011
	CodeFunctionCallUnsupported              ValidationErrorCode = 1012
	CodeFillRequestsExceededTakerAssetAmount ValidationErrorCode = 1013
	CodeTransactionAlreadyUsed               ValidationErrorCode = 1014
	CodeTransactionExpirationTooHigh         ValidationErrorCode = 1015
)

// ValidationError is one field-level failure inside a RequestError.
type ValidationError struct {
	Field    string              `json:"field"`
	Code     ValidationErrorCode `json:"code"`
	Reason   string              `json:"reason"`
	Entities []string            `json:"entities,omitempty"`
}

// RequestError is the structured error envelope of the /v2 surface. Status
// is carried out-of-band; the body is {code, reason, validationErrors?}.
type RequestError struct {
	Status           int               `json:"-"`
	Code             GeneralErrorCode  `json:"code"`
	Reason           string            `json:"reason"`
	ValidationErrors []ValidationError `json:"validationErrors,omitempty"`
}

func (e *RequestError) Error() string {
	if len(e.ValidationErrors) == 0 {
		return e.Reason
	}
	reasons := make([]string, len(e.ValidationErrors))
	for i, v := range e.ValidationErrors {
		reasons[i] = fmt.Sprintf("%s: %s", v.Field, v.Reason)
	}
	return fmt.Sprintf("%s (%s)", e.Reason, strings.Join(reasons, "; "))
}

// NewSchemaViolation wraps field-level failures found while validating a
// request body.
func NewSchemaViolation(errors ...ValidationError) *RequestError {
	return &RequestError{
		Status:           http.StatusBadRequest,
		Code:             GeneralValidationError,
		Reason:           "Validation Failed",
		ValidationErrors: errors,
	}
}

// NewMalformedJSONError reports a body that did not parse at all.
func NewMalformedJSONError() *RequestError {
	return &RequestError{
		Status: http.StatusBadRequest,
		Code:   GeneralMalformedJSON,
		Reason: "Malformed JSON",
	}
}

// NewUnsupportedChainError reports a chain id outside the registry.
func NewUnsupportedChainError(chainID int64) *RequestError {
	return NewSchemaViolation(ValidationError{
		Field:  "chainId",
		Code:   CodeUnsupportedOption,
		Reason: fmt.Sprintf("Coordinator is not configured to support chain id %d", chainID),
	})
}

// NewDecodingFailedError reports calldata the exchange decoder rejected.
func NewDecodingFailedError() *RequestError {
	return NewSchemaViolation(ValidationError{
		Field:  "signedTransaction.data",
		Code:   CodeTransactionDecodingFailed,
		Reason: "Transaction data decoding failed",
	})
}

// NewUnsupportedFunctionError reports a decodable exchange function the
// coordinator refuses to approve.
func NewUnsupportedFunctionError(functionName string) *RequestError {
	return NewSchemaViolation(ValidationError{
		Field:  "signedTransaction.data",
		Code:   CodeFunctionCallUnsupported,
		Reason: fmt.Sprintf("Function call %s is not supported by the coordinator", functionName),
	})
}

// NewNoCoordinatorOrdersError reports a batch with no order owned by a local
// fee recipient.
func NewNoCoordinatorOrdersError() *RequestError {
	return NewSchemaViolation(ValidationError{
		Field:  "signedTransaction.data",
		Code:   CodeNoCoordinatorOrdersIncluded,
		Reason: "No orders in the transaction belong to this coordinator",
	})
}

// NewInvalidTransactionSignatureError reports a meta-transaction signature
// the verifier rejected.
func NewInvalidTransactionSignatureError() *RequestError {
	return NewSchemaViolation(ValidationError{
		Field:  "signedTransaction.signature",
		Code:   CodeInvalidTransactionSignature,
		Reason: "Transaction signature is invalid",
	})
}

// NewOnlyMakerCanCancelError reports a cancel signed by someone other than
// the maker of every included order.
func NewOnlyMakerCanCancelError() *RequestError {
	return NewSchemaViolation(ValidationError{
		Field:  "signedTransaction.data",
		Code:   CodeOnlyMakerCanCancelOrders,
		Reason: "Only the maker of an order can cancel it",
	})
}

// NewTransactionAlreadyUsedError reports a replayed meta-transaction hash.
func NewTransactionAlreadyUsedError(txHash common.Hash) *RequestError {
	return NewSchemaViolation(ValidationError{
		Field:  "signedTransaction",
		Code:   CodeTransactionAlreadyUsed,
		Reason: fmt.Sprintf("A transaction can only be approved once. Transaction %s was already approved", txHash.Hex()),
	})
}

// NewTransactionExpirationTooHighError reports a meta-transaction that would
// outlive its own approval.
func NewTransactionExpirationTooHighError() *RequestError {
	return NewSchemaViolation(ValidationError{
		Field:  "signedTransaction.expirationTimeSeconds",
		Code:   CodeTransactionExpirationTooHigh,
		Reason: "Transaction expiration exceeds the approval expiration",
	})
}

// NewFillNotAllowedError aggregates the soft-cancelled and over-subscribed
// order subsets a fill request tripped over.
func NewFillNotAllowedError(softCancelled, exceeded []common.Hash) *RequestError {
	var errors []ValidationError
	if len(softCancelled) > 0 {
		errors = append(errors, ValidationError{
			Field:    "signedTransaction.data",
			Code:     CodeIncludedOrderAlreadySoftCancelled,
			Reason:   "Transaction includes an order that was already soft-cancelled",
			Entities: hashesToHex(softCancelled),
		})
	}
	if len(exceeded) > 0 {
		errors = append(errors, ValidationError{
			Field:    "signedTransaction.data",
			Code:     CodeFillRequestsExceededTakerAssetAmount,
			Reason:   "Fill requests exceeded the takerAssetAmount of an included order",
			Entities: hashesToHex(exceeded),
		})
	}
	return NewSchemaViolation(errors...)
}

func hashesToHex(hashes []common.Hash) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = h.Hex()
	}
	return out
}

// ConfigurationError signals a state valid configuration makes unreachable,
// e.g. a fee-recipient key missing from the keyring. Surfaces as a 500.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}
