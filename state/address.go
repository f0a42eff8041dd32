package state

import (
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ModuleAddress derives a deterministic account address for a named module
// (e.g. the custody vault or the payroll float). No private key exists for
// these addresses; only the engines move funds held by them.
func ModuleAddress(name string) [20]byte {
	hash := ethcrypto.Keccak256([]byte("payvault/module/" + name))
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}
