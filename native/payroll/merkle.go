package payroll

import (
	"bytes"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// LeafHash computes the manifest leaf for a single payout entry. The encoding
// must match the off-chain manifest generator exactly: payee id, recipient and
// the amount as a 32-byte big-endian word, in that order, with no
// canonicalisation.
func LeafHash(payeeID [32]byte, recipient [20]byte, amount *big.Int) [32]byte {
	var word [32]byte
	if amount != nil && amount.Sign() > 0 {
		amount.FillBytes(word[:])
	}
	return ethcrypto.Keccak256Hash(payeeID[:], recipient[:], word[:])
}

// VerifyProof checks a Merkle inclusion proof against the published root.
// Sibling pairs are hashed in sorted order, so the proof carries no position
// bits. A single-leaf tree has root == leaf and an empty proof.
func VerifyProof(root, leaf [32]byte, proof [][32]byte) bool {
	computed := leaf
	for _, sibling := range proof {
		computed = hashPair(computed, sibling)
	}
	return computed == root
}

func hashPair(a, b [32]byte) [32]byte {
	if bytes.Compare(a[:], b[:]) <= 0 {
		return ethcrypto.Keccak256Hash(a[:], b[:])
	}
	return ethcrypto.Keccak256Hash(b[:], a[:])
}
