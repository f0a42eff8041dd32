package distribution

import (
	"encoding/binary"
	"math/big"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// LoopbackAdapter settles "cross-domain" payouts against the local token
// service. It lets the daemon run end-to-end without an external bridge and
// doubles as the reference adapter implementation.
type LoopbackAdapter struct {
	mu     sync.Mutex
	tokens TokenService
	source [20]byte
	nonce  uint64
}

// NewLoopbackAdapter creates an adapter paying out of the supplied source
// account, normally the distribution vault.
func NewLoopbackAdapter(tokens TokenService, source [20]byte) *LoopbackAdapter {
	return &LoopbackAdapter{tokens: tokens, source: source}
}

// Bridge transfers the net amount to the recipient locally and fabricates a
// deterministic external reference.
func (a *LoopbackAdapter) Bridge(token string, recipient [20]byte, amount *big.Int, domain uint64) ([32]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.tokens.Transfer(token, a.source, recipient, amount); err != nil {
		return [32]byte{}, err
	}
	a.nonce++
	var domainWord, nonceWord [8]byte
	binary.BigEndian.PutUint64(domainWord[:], domain)
	binary.BigEndian.PutUint64(nonceWord[:], a.nonce)
	var amountWord [32]byte
	if amount != nil && amount.Sign() > 0 {
		amount.FillBytes(amountWord[:])
	}
	ref := ethcrypto.Keccak256Hash([]byte(token), recipient[:], amountWord[:], domainWord[:], nonceWord[:])
	return ref, nil
}

// EstimateFee reports zero: the loopback adapter charges nothing on top of the
// engine's bps fee.
func (a *LoopbackAdapter) EstimateFee(domain uint64, amount *big.Int) (*big.Int, error) {
	return big.NewInt(0), nil
}
