package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xProject/0x-coordinator-server/pkg/crypto"
	"github.com/0xProject/0x-coordinator-server/pkg/zeroex"
)

// Dev helper: builds a coordinator order, wraps a fillOrder call in a signed
// 0x meta-transaction and prints the request body for /v2/request_transaction.
func main() {
	chainID := int64(1337)
	if raw := os.Getenv("CHAIN_ID"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			fmt.Printf("Error: invalid CHAIN_ID %q: %v\n", raw, err)
			os.Exit(1)
		}
		chainID = parsed
	}
	addresses, err := zeroex.AddressesForChainID(chainID)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	// Step 1: Generate or load keys
	fmt.Println("Generating maker and taker keypairs...")
	maker, err := loadOrGenerateKey("MAKER_PRIVATE_KEY")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	taker, err := loadOrGenerateKey("TAKER_PRIVATE_KEY")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Maker: %s\n", maker.Address().Hex())
	fmt.Printf("  Private Key: %s (KEEP SECRET!)\n", maker.PrivateKeyHex())
	fmt.Printf("Taker: %s\n", taker.Address().Hex())
	fmt.Printf("  Private Key: %s (KEEP SECRET!)\n\n", taker.PrivateKeyHex())

	feeRecipient := common.Address{}
	if raw := os.Getenv("FEE_RECIPIENT_ADDRESS"); raw != "" {
		feeRecipient = common.HexToAddress(raw)
	} else {
		recipientKey, err := crypto.GenerateKey()
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		feeRecipient = recipientKey.Address()
		fmt.Println("No FEE_RECIPIENT_ADDRESS set; generated one for you.")
		fmt.Println("Add it to the server's CHAIN_ID_TO_SETTINGS so the order is in scope:")
		fmt.Printf("  Address: %s\n", recipientKey.Address().Hex())
		fmt.Printf("  Private Key: %s (KEEP SECRET!)\n\n", recipientKey.PrivateKeyHex())
	}

	// Step 2: Build the order. SenderAddress pins execution to the
	// coordinator contract so only approved fills can land on-chain.
	salt, err := zeroex.RandomSalt()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	order := &zeroex.Order{
		ChainID:               big.NewInt(chainID),
		ExchangeAddress:       addresses.Exchange,
		MakerAddress:          maker.Address(),
		MakerAssetData:        common.FromHex("0xf47261b00000000000000000000000000b1ba0af832d7c05fd64161e0db78e85978e8082"),
		MakerAssetAmount:      big.NewInt(1000),
		TakerAssetData:        common.FromHex("0xf47261b0000000000000000000000000871dd7c2b4b25e1aa18728e9d59f2de25caa6de1"),
		TakerAssetAmount:      big.NewInt(2000),
		SenderAddress:         addresses.Coordinator,
		FeeRecipientAddress:   feeRecipient,
		ExpirationTimeSeconds: big.NewInt(time.Now().Add(10 * time.Minute).Unix()),
		Salt:                  salt,
	}

	fmt.Println("Order Details:")
	fmt.Printf("  Maker: %s\n", order.MakerAddress.Hex())
	fmt.Printf("  Maker Asset Amount: %s\n", order.MakerAssetAmount.String())
	fmt.Printf("  Taker Asset Amount: %s\n", order.TakerAssetAmount.String())
	fmt.Printf("  Fee Recipient: %s\n", order.FeeRecipientAddress.Hex())
	fmt.Printf("  Expires: %s\n\n", order.ExpirationTimeSeconds.String())

	// Step 3: Maker signs the order hash
	orderHash, err := order.Hash()
	if err != nil {
		fmt.Printf("Error hashing order: %v\n", err)
		os.Exit(1)
	}
	orderSig, err := signHash(maker, orderHash)
	if err != nil {
		fmt.Printf("Error signing order: %v\n", err)
		os.Exit(1)
	}
	signedOrder := &zeroex.SignedOrder{Order: *order, Signature: orderSig}
	fmt.Printf("Order Hash: %s\n", orderHash.Hex())
	fmt.Printf("Order Signature: 0x%x\n\n", orderSig)

	// Step 4: Pack the fillOrder call
	decoder, err := zeroex.NewDecoder()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	data, err := decoder.EncodeFillOrder("fillOrder", signedOrder, big.NewInt(2000))
	if err != nil {
		fmt.Printf("Error encoding fillOrder: %v\n", err)
		os.Exit(1)
	}

	// Step 5: Taker signs the meta-transaction
	txSalt, err := zeroex.RandomSalt()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	tx := &zeroex.Transaction{
		ChainID:               big.NewInt(chainID),
		ExchangeAddress:       addresses.Exchange,
		SignerAddress:         taker.Address(),
		Salt:                  txSalt,
		ExpirationTimeSeconds: big.NewInt(time.Now().Add(10 * time.Minute).Unix()),
		GasPrice:              big.NewInt(1000000000),
		Data:                  data,
	}
	txHash, err := tx.Hash()
	if err != nil {
		fmt.Printf("Error hashing transaction: %v\n", err)
		os.Exit(1)
	}
	txSig, err := signHash(taker, txHash)
	if err != nil {
		fmt.Printf("Error signing transaction: %v\n", err)
		os.Exit(1)
	}
	signedTx := &zeroex.SignedTransaction{Transaction: *tx, Signature: txSig}
	fmt.Printf("Transaction Hash: %s\n", txHash.Hex())
	fmt.Printf("Transaction Signature: 0x%x\n\n", txSig)

	// Step 6: Verify signature
	fmt.Println("Verifying signature...")
	recovered, err := zeroex.RecoverSigner(txHash, txSig)
	if err != nil {
		fmt.Printf("Error verifying: %v\n", err)
		os.Exit(1)
	}
	if recovered != taker.Address() {
		fmt.Println("✗ Signature INVALID")
		os.Exit(1)
	}
	fmt.Println("✓ Signature VALID")
	fmt.Printf("  Signer: %s\n\n", recovered.Hex())

	// Step 7: Assemble the request body
	body := struct {
		SignedTransaction *zeroex.SignedTransaction `json:"signedTransaction"`
		TxOrigin          string                    `json:"txOrigin"`
	}{signedTx, strings.ToLower(taker.Address().Hex())}

	bodyJSON, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling JSON: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("To request coordinator approval:")
	fmt.Printf("  POST http://localhost:3000/v2/request_transaction?chainId=%d\n", chainID)
	fmt.Println("  Content-Type: application/json")
	fmt.Println("  Body:")
	fmt.Println(string(bodyJSON))
}

func loadOrGenerateKey(envVar string) (*crypto.Signer, error) {
	if raw := os.Getenv(envVar); raw != "" {
		return crypto.FromPrivateKeyHex(raw)
	}
	return crypto.GenerateKey()
}

// signHash produces a 0x EIP712-type signature over a 32-byte digest.
func signHash(signer *crypto.Signer, hash common.Hash) ([]byte, error) {
	raw, err := signer.Sign(hash.Bytes())
	if err != nil {
		return nil, err
	}
	return zeroex.BuildSignature(raw, zeroex.EIP712Signature)
}
