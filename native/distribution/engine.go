package distribution

import (
	"errors"
	"math/big"
	"sync"

	"payvault/core/events"
	"payvault/core/types"
)

var (
	ErrNotConfigured = errors.New("distribution: engine not configured")
	ErrUnauthorized  = errors.New("distribution: unauthorized")
)

const roleManager = "ROLE_MANAGER"

const feeDenominator = 10_000

// TokenService is the external transfer primitive used for direct payouts,
// bridge pulls and compensating refunds.
type TokenService interface {
	Transfer(token string, from, to [20]byte, amount *big.Int) error
}

// Authorizer answers capability checks for the engine guards.
type Authorizer interface {
	HasCapability(addr [20]byte, capability string) bool
}

type distributionEvent struct {
	evt *types.Event
}

func (e distributionEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e distributionEvent) Event() *types.Event { return e.evt }

// Engine fans payouts out to recipients, directly on the local domain and via
// bridging adapters everywhere else. It owns no persistent state beyond its
// domain and fee configuration; each instruction's side effects are isolated
// so a single failure cannot invalidate transfers already committed earlier in
// the batch.
type Engine struct {
	mu           sync.Mutex
	tokens       TokenService
	auth         Authorizer
	emitter      events.Emitter
	localDomain  uint64
	vault        [20]byte
	feeCollector [20]byte
	baseFeeBps   uint32
	adapters     map[uint64]Adapter
	feeOverrides map[uint64]uint32
}

// NewEngine creates a distribution engine. vault is the transient custody
// account cross-domain pulls land in; feeCollector receives bridge fees on
// success.
func NewEngine(tokens TokenService, auth Authorizer, localDomain uint64, vault, feeCollector [20]byte, baseFeeBps uint32) *Engine {
	return &Engine{
		tokens:       tokens,
		auth:         auth,
		emitter:      events.NoopEmitter{},
		localDomain:  localDomain,
		vault:        vault,
		feeCollector: feeCollector,
		baseFeeBps:   baseFeeBps,
		adapters:     make(map[uint64]Adapter),
		feeOverrides: make(map[uint64]uint32),
	}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// RegisterDomain maps a destination domain to its bridging adapter. A zero
// feeBps falls back to the base fee.
func (e *Engine) RegisterDomain(domain uint64, adapter Adapter, feeBps uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if adapter != nil {
		e.adapters[domain] = adapter
	}
	if feeBps > 0 {
		e.feeOverrides[domain] = feeBps
	}
}

// LocalDomain returns the domain payouts settle on without bridging.
func (e *Engine) LocalDomain() uint64 { return e.localDomain }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(distributionEvent{evt: event})
}

// SinglePayout executes one instruction. Requires the manager capability.
func (e *Engine) SinglePayout(caller [20]byte, inst PayoutInstruction) (PayoutResult, error) {
	results, err := e.BatchPayout(caller, []PayoutInstruction{inst})
	if err != nil {
		return PayoutResult{}, err
	}
	return results[0], nil
}

// BatchPayout executes each instruction independently and returns one result
// per instruction in input order. A malformed or failed item is reported as a
// failed result; it never aborts the batch. Requires the manager capability.
func (e *Engine) BatchPayout(caller [20]byte, insts []PayoutInstruction) ([]PayoutResult, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrNotConfigured
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.auth == nil || !e.auth.HasCapability(caller, roleManager) {
		return nil, ErrUnauthorized
	}
	results := make([]PayoutResult, len(insts))
	for i, inst := range insts {
		results[i] = e.execute(caller, inst)
	}
	return results, nil
}

func (e *Engine) execute(caller [20]byte, inst PayoutInstruction) PayoutResult {
	failed := PayoutResult{PayeeID: inst.PayeeID, ActualAmount: big.NewInt(0)}
	if inst.Recipient == ([20]byte{}) || inst.Amount == nil || inst.Amount.Sign() <= 0 {
		e.emit(NewPayoutFailedEvent(inst, "invalid instruction"))
		return failed
	}
	amount := new(big.Int).Set(inst.Amount)
	if inst.DestinationDomain == e.localDomain {
		if err := e.tokens.Transfer(inst.Token, caller, inst.Recipient, amount); err != nil {
			e.emit(NewPayoutFailedEvent(inst, err.Error()))
			return failed
		}
		result := PayoutResult{PayeeID: inst.PayeeID, Success: true, ActualAmount: amount}
		e.emit(NewPayoutSucceededEvent(inst, result))
		return result
	}
	adapter, ok := e.adapters[inst.DestinationDomain]
	if !ok {
		e.emit(NewPayoutFailedEvent(inst, "unsupported destination domain"))
		return failed
	}
	if err := e.tokens.Transfer(inst.Token, caller, e.vault, amount); err != nil {
		e.emit(NewPayoutFailedEvent(inst, err.Error()))
		return failed
	}
	fee := e.bridgeFee(inst.DestinationDomain, amount)
	netAmount := new(big.Int).Sub(amount, fee)
	ref, err := adapter.Bridge(inst.Token, inst.Recipient, netAmount, inst.DestinationDomain)
	if err != nil {
		// Compensating refund: the caller gets the full original amount back
		// before the failure is reported.
		if refundErr := e.tokens.Transfer(inst.Token, e.vault, caller, amount); refundErr != nil {
			e.emit(NewPayoutFailedEvent(inst, refundErr.Error()))
			return failed
		}
		e.emit(NewPayoutFailedEvent(inst, err.Error()))
		return failed
	}
	if fee.Sign() > 0 {
		if err := e.tokens.Transfer(inst.Token, e.vault, e.feeCollector, fee); err != nil {
			e.emit(NewPayoutFailedEvent(inst, err.Error()))
			return failed
		}
	}
	result := PayoutResult{PayeeID: inst.PayeeID, Success: true, ExternalTxRef: ref, ActualAmount: netAmount}
	e.emit(NewPayoutSucceededEvent(inst, result))
	return result
}

// EstimateFees sums the bridge fees the batch would incur without moving any
// funds. Same-domain items cost zero.
func (e *Engine) EstimateFees(insts []PayoutInstruction) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := big.NewInt(0)
	for _, inst := range insts {
		if inst.Amount == nil || inst.Amount.Sign() <= 0 {
			continue
		}
		total.Add(total, e.bridgeFee(inst.DestinationDomain, inst.Amount))
	}
	return total
}

// BridgeFee returns the fee charged for bridging amount to the domain: zero on
// the local domain, otherwise amount * bps / 10_000 where a per-domain
// override takes precedence over the base fee.
func (e *Engine) BridgeFee(domain uint64, amount *big.Int) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if amount == nil {
		return big.NewInt(0)
	}
	return e.bridgeFee(domain, amount)
}

func (e *Engine) bridgeFee(domain uint64, amount *big.Int) *big.Int {
	if domain == e.localDomain {
		return big.NewInt(0)
	}
	bps := e.baseFeeBps
	if override, ok := e.feeOverrides[domain]; ok && override > 0 {
		bps = override
	}
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(bps)))
	return fee.Div(fee, big.NewInt(feeDenominator))
}
