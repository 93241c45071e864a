package zeroex

import (
	"crypto/rand"
	"math/big"

	"golang.org/x/crypto/sha3"
)

// keccak256 calculates and returns the Keccak256 hash of the input data.
func keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		_, _ = d.Write(b)
	}
	return d.Sum(nil)
}

var maxSalt = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// RandomSalt returns a random uint256 suitable as an order or transaction salt.
func RandomSalt() (*big.Int, error) {
	return rand.Int(rand.Reader, maxSalt)
}
