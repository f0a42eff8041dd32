package custody

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"payvault/core/events"
	"payvault/core/types"
)

var (
	ErrNilState              = errors.New("custody: state not configured")
	ErrPaused                = errors.New("custody: engine paused")
	ErrUnauthorized          = errors.New("custody: unauthorized")
	ErrTokenNotSupported     = errors.New("custody: token not supported")
	ErrInvalidAmount         = errors.New("custody: amount must be positive")
	ErrZeroRecipient         = errors.New("custody: recipient must not be zero")
	ErrInsufficientBalance   = errors.New("custody: insufficient available balance")
	ErrInsufficientAllocated = errors.New("custody: insufficient allocated balance")
	ErrAlreadyLocked         = errors.New("custody: session already locked")
	ErrNotLocked             = errors.New("custody: no lock for session")
)

const (
	roleAdmin     = "ROLE_ADMIN"
	roleEmergency = "ROLE_EMERGENCY"
	roleKeeper    = "ROLE_KEEPER"
	roleManager   = "ROLE_MANAGER"
)

// State is the persistence contract required by the custody engine. A single
// authoritative store implements it; the engine never mutates records owned by
// other modules.
type State interface {
	TokenExists(symbol string) bool
	CustodyAccountGet(token string) (*TokenAccount, error)
	CustodyAccountPut(token string, account *TokenAccount) error
	CustodyLockGet(sessionID [32]byte, token string) (*Lock, bool, error)
	CustodyLockPut(sessionID [32]byte, token string, lock *Lock) error
	CustodyLockDelete(sessionID [32]byte, token string) error
	CustodyPaused() (bool, error)
	CustodySetPaused(paused bool) error
}

// TokenService is the external transfer primitive. Transfer debits the sender,
// credits the recipient and fails loudly on insufficient balance.
type TokenService interface {
	Transfer(token string, from, to [20]byte, amount *big.Int) error
	BalanceOf(token string, addr [20]byte) (*big.Int, error)
}

// Venue is the liquidity venue the engine allocates idle funds into. Provide
// moves value out of the custody vault, Withdraw recalls it.
type Venue interface {
	Provide(token string, amount *big.Int) error
	Withdraw(token string, amount *big.Int) error
}

// Authorizer answers capability checks for the engine guards.
type Authorizer interface {
	HasCapability(addr [20]byte, capability string) bool
}

type custodyEvent struct {
	evt *types.Event
}

func (e custodyEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e custodyEvent) Event() *types.Event { return e.evt }

// Engine owns the per-token custody accounts and session locks. Every public
// operation runs under the engine mutex and validates its inputs before the
// first mutation, so a failed call leaves no partial effect.
type Engine struct {
	mu      sync.Mutex
	state   State
	tokens  TokenService
	venue   Venue
	auth    Authorizer
	emitter events.Emitter
	vault   [20]byte
}

// NewEngine creates a custody engine bound to the supplied vault address. The
// vault holds the system's available and locked balances.
func NewEngine(state State, tokens TokenService, auth Authorizer, vault [20]byte) *Engine {
	return &Engine{
		state:   state,
		tokens:  tokens,
		auth:    auth,
		emitter: events.NoopEmitter{},
		vault:   vault,
	}
}

// SetVenue configures the liquidity venue used by allocate/recall.
func (e *Engine) SetVenue(venue Venue) { e.venue = venue }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// Vault returns the address holding the engine's custodied funds.
func (e *Engine) Vault() [20]byte { return e.vault }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(custodyEvent{evt: event})
}

func (e *Engine) requireCapability(caller [20]byte, capability string) error {
	if e.auth == nil || !e.auth.HasCapability(caller, capability) {
		return ErrUnauthorized
	}
	return nil
}

func (e *Engine) requireRunning() error {
	paused, err := e.state.CustodyPaused()
	if err != nil {
		return err
	}
	if paused {
		return ErrPaused
	}
	return nil
}

func (e *Engine) loadAccount(token string) (*TokenAccount, error) {
	account, err := e.state.CustodyAccountGet(token)
	if err != nil {
		return nil, err
	}
	return account.Clone(), nil
}

func positiveAmount(amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	return new(big.Int).Set(amount), nil
}

// Deposit pulls amount of token from the caller into the custody vault and
// credits the available balance. Transfer failures from the token service
// propagate untouched.
func (e *Engine) Deposit(caller [20]byte, token string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireRunning(); err != nil {
		return err
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return err
	}
	if !e.state.TokenExists(normalized) {
		return ErrTokenNotSupported
	}
	amt, err := positiveAmount(amount)
	if err != nil {
		return err
	}
	if err := e.tokens.Transfer(normalized, caller, e.vault, amt); err != nil {
		return err
	}
	account, err := e.loadAccount(normalized)
	if err != nil {
		return err
	}
	account.Available = new(big.Int).Add(account.Available, amt)
	if err := e.state.CustodyAccountPut(normalized, account); err != nil {
		return err
	}
	e.emit(NewDepositedEvent(normalized, caller, amt))
	return nil
}

// Withdraw debits the available balance and pushes tokens from the vault to
// the recipient. Requires the admin capability.
func (e *Engine) Withdraw(caller [20]byte, token string, amount *big.Int, to [20]byte) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireCapability(caller, roleAdmin); err != nil {
		return err
	}
	if err := e.requireRunning(); err != nil {
		return err
	}
	if to == ([20]byte{}) {
		return ErrZeroRecipient
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return err
	}
	amt, err := positiveAmount(amount)
	if err != nil {
		return err
	}
	account, err := e.loadAccount(normalized)
	if err != nil {
		return err
	}
	if account.Available.Cmp(amt) < 0 {
		return ErrInsufficientBalance
	}
	if err := e.tokens.Transfer(normalized, e.vault, to, amt); err != nil {
		return err
	}
	account.Available = new(big.Int).Sub(account.Available, amt)
	if err := e.state.CustodyAccountPut(normalized, account); err != nil {
		return err
	}
	e.emit(NewWithdrawnEvent(normalized, to, amt))
	return nil
}

// EmergencyWithdraw sweeps the vault's entire balance of token to the
// recipient and zeroes the accounting triple. Outstanding locks and venue
// allocations are intentionally discarded; sessions still holding a lock on
// the token become economically unbacked. Exempt from the pause gate.
func (e *Engine) EmergencyWithdraw(caller [20]byte, token string, to [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireCapability(caller, roleEmergency); err != nil {
		return nil, err
	}
	if to == ([20]byte{}) {
		return nil, ErrZeroRecipient
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	held, err := e.tokens.BalanceOf(normalized, e.vault)
	if err != nil {
		return nil, err
	}
	if held.Sign() > 0 {
		if err := e.tokens.Transfer(normalized, e.vault, to, held); err != nil {
			return nil, err
		}
	}
	account := &TokenAccount{Available: big.NewInt(0), Locked: big.NewInt(0), Allocated: big.NewInt(0)}
	if err := e.state.CustodyAccountPut(normalized, account); err != nil {
		return nil, err
	}
	e.emit(NewEmergencyWithdrawnEvent(normalized, to, held))
	return held, nil
}

// AllocateToVenue moves value from the available bucket into the venue.
// Requires the keeper capability.
func (e *Engine) AllocateToVenue(caller [20]byte, token string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireCapability(caller, roleKeeper); err != nil {
		return err
	}
	if err := e.requireRunning(); err != nil {
		return err
	}
	if e.venue == nil {
		return fmt.Errorf("custody: venue not configured")
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return err
	}
	amt, err := positiveAmount(amount)
	if err != nil {
		return err
	}
	account, err := e.loadAccount(normalized)
	if err != nil {
		return err
	}
	if account.Available.Cmp(amt) < 0 {
		return ErrInsufficientBalance
	}
	if err := e.venue.Provide(normalized, amt); err != nil {
		return err
	}
	account.Available = new(big.Int).Sub(account.Available, amt)
	account.Allocated = new(big.Int).Add(account.Allocated, amt)
	if err := e.state.CustodyAccountPut(normalized, account); err != nil {
		return err
	}
	e.emit(NewAllocatedEvent(normalized, amt))
	return nil
}

// RecallFromVenue moves value from the venue back into the available bucket.
// Requires the keeper capability.
func (e *Engine) RecallFromVenue(caller [20]byte, token string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireCapability(caller, roleKeeper); err != nil {
		return err
	}
	if err := e.requireRunning(); err != nil {
		return err
	}
	if e.venue == nil {
		return fmt.Errorf("custody: venue not configured")
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return err
	}
	amt, err := positiveAmount(amount)
	if err != nil {
		return err
	}
	account, err := e.loadAccount(normalized)
	if err != nil {
		return err
	}
	if account.Allocated.Cmp(amt) < 0 {
		return ErrInsufficientAllocated
	}
	if err := e.venue.Withdraw(normalized, amt); err != nil {
		return err
	}
	account.Allocated = new(big.Int).Sub(account.Allocated, amt)
	account.Available = new(big.Int).Add(account.Available, amt)
	if err := e.state.CustodyAccountPut(normalized, account); err != nil {
		return err
	}
	e.emit(NewRecalledEvent(normalized, amt))
	return nil
}

// Lock reserves amount of token for a payroll session. A second lock for the
// same (session, token) pair fails rather than topping up the first. Requires
// the manager capability.
func (e *Engine) Lock(caller [20]byte, sessionID [32]byte, token string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireCapability(caller, roleManager); err != nil {
		return err
	}
	if err := e.requireRunning(); err != nil {
		return err
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return err
	}
	amt, err := positiveAmount(amount)
	if err != nil {
		return err
	}
	if _, exists, err := e.state.CustodyLockGet(sessionID, normalized); err != nil {
		return err
	} else if exists {
		return ErrAlreadyLocked
	}
	account, err := e.loadAccount(normalized)
	if err != nil {
		return err
	}
	if account.Available.Cmp(amt) < 0 {
		return ErrInsufficientBalance
	}
	account.Available = new(big.Int).Sub(account.Available, amt)
	account.Locked = new(big.Int).Add(account.Locked, amt)
	if err := e.state.CustodyLockPut(sessionID, normalized, &Lock{Amount: amt}); err != nil {
		return err
	}
	if err := e.state.CustodyAccountPut(normalized, account); err != nil {
		return err
	}
	e.emit(NewLockedEvent(normalized, sessionID, amt))
	return nil
}

// Release returns a session's full locked amount to the available bucket and
// deletes the lock. Releasing an unlocked key fails; the operation is not
// idempotent. Requires the manager capability.
func (e *Engine) Release(caller [20]byte, sessionID [32]byte, token string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireCapability(caller, roleManager); err != nil {
		return nil, err
	}
	if err := e.requireRunning(); err != nil {
		return nil, err
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	lock, exists, err := e.state.CustodyLockGet(sessionID, normalized)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotLocked
	}
	amt := lock.Clone().Amount
	account, err := e.loadAccount(normalized)
	if err != nil {
		return nil, err
	}
	account.Locked = new(big.Int).Sub(account.Locked, amt)
	account.Available = new(big.Int).Add(account.Available, amt)
	if err := e.state.CustodyLockDelete(sessionID, normalized); err != nil {
		return nil, err
	}
	if err := e.state.CustodyAccountPut(normalized, account); err != nil {
		return nil, err
	}
	e.emit(NewReleasedEvent(normalized, sessionID, amt))
	return amt, nil
}

// Pause blocks every operation except EmergencyWithdraw. Requires the
// emergency capability.
func (e *Engine) Pause(caller [20]byte) error {
	return e.setPaused(caller, true)
}

// Unpause lifts the pause gate. Requires the emergency capability.
func (e *Engine) Unpause(caller [20]byte) error {
	return e.setPaused(caller, false)
}

func (e *Engine) setPaused(caller [20]byte, paused bool) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireCapability(caller, roleEmergency); err != nil {
		return err
	}
	if err := e.state.CustodySetPaused(paused); err != nil {
		return err
	}
	e.emit(NewPauseEvent(paused))
	return nil
}

// Paused reports whether the pause gate is set.
func (e *Engine) Paused() (bool, error) {
	if e == nil || e.state == nil {
		return false, ErrNilState
	}
	return e.state.CustodyPaused()
}

// Available returns the token's available balance.
func (e *Engine) Available(token string) (*big.Int, error) {
	return e.bucket(token, func(a *TokenAccount) *big.Int { return a.Available })
}

// Locked returns the token's locked balance aggregated across sessions.
func (e *Engine) Locked(token string) (*big.Int, error) {
	return e.bucket(token, func(a *TokenAccount) *big.Int { return a.Locked })
}

// Allocated returns the token's balance currently allocated to the venue.
func (e *Engine) Allocated(token string) (*big.Int, error) {
	return e.bucket(token, func(a *TokenAccount) *big.Int { return a.Allocated })
}

func (e *Engine) bucket(token string, pick func(*TokenAccount) *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	account, err := e.loadAccount(normalized)
	if err != nil {
		return nil, err
	}
	return pick(account), nil
}

// TotalCustodied returns the balance actually held for the token: the vault's
// token balance plus whatever is out at the venue.
func (e *Engine) TotalCustodied(token string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	held, err := e.tokens.BalanceOf(normalized, e.vault)
	if err != nil {
		return nil, err
	}
	account, err := e.loadAccount(normalized)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Add(held, account.Allocated), nil
}

// LockAmount returns the active lock for the (session, token) pair, if any.
func (e *Engine) LockAmount(sessionID [32]byte, token string) (*big.Int, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, ErrNilState
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return nil, false, err
	}
	lock, exists, err := e.state.CustodyLockGet(sessionID, normalized)
	if err != nil || !exists {
		return nil, false, err
	}
	return lock.Clone().Amount, true, nil
}

// SupportsToken reports whether the token is registered with the state store.
func (e *Engine) SupportsToken(token string) bool {
	if e == nil || e.state == nil {
		return false
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return false
	}
	return e.state.TokenExists(normalized)
}
