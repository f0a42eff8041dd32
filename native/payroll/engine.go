package payroll

import (
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"payvault/core/events"
	"payvault/core/types"
)

var (
	ErrNilState          = errors.New("payroll: state not configured")
	ErrUnauthorized      = errors.New("payroll: unauthorized")
	ErrSessionExists     = errors.New("payroll: session id already used")
	ErrSessionNotFound   = errors.New("payroll: session not found")
	ErrInvalidStatus     = errors.New("payroll: invalid session status")
	ErrInvalidAmount     = errors.New("payroll: amount must be positive")
	ErrInvalidSessionID  = errors.New("payroll: session id must not be zero")
	ErrTokenNotSupported = errors.New("payroll: token not supported")
	ErrZeroRoot          = errors.New("payroll: state root must not be zero")
	ErrZeroRecipient     = errors.New("payroll: recipient must not be zero")
	ErrAlreadyClaimed    = errors.New("payroll: payout already claimed")
	ErrInvalidProof      = errors.New("payroll: invalid proof")
)

const (
	roleCompany = "ROLE_COMPANY"
	roleKeeper  = "ROLE_KEEPER"
)

// State is the persistence contract required by the session engine. Claim
// flags are write-once per (session, payee) key.
type State interface {
	SessionGet(id [32]byte) (*Session, bool, error)
	SessionPut(session *Session) error
	ClaimGet(sessionID, payeeID [32]byte) (bool, error)
	ClaimPut(sessionID, payeeID [32]byte) error
}

// CustodyService is the budget lock contract the engine holds against the
// custody ledger. The engine identifies itself with its module address and
// never touches custody accounts directly.
type CustodyService interface {
	Lock(caller [20]byte, sessionID [32]byte, token string, amount *big.Int) error
	Release(caller [20]byte, sessionID [32]byte, token string) (*big.Int, error)
	SupportsToken(token string) bool
}

// TokenService pays claims out of the engine's float account.
type TokenService interface {
	Transfer(token string, from, to [20]byte, amount *big.Int) error
}

// Authorizer answers capability checks for the engine guards.
type Authorizer interface {
	HasCapability(addr [20]byte, capability string) bool
}

type payrollEvent struct {
	evt *types.Event
}

func (e payrollEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e payrollEvent) Event() *types.Event { return e.evt }

// Engine orchestrates payroll sessions: it owns the session state machine and
// the claim ledger, and drives the custody lock through its module address.
// Claims pay from the float account, not from the lock; the lock is a soft
// reservation that keeps the budget out of other hands while the session runs.
type Engine struct {
	mu         sync.Mutex
	state      State
	custody    CustodyService
	tokens     TokenService
	auth       Authorizer
	emitter    events.Emitter
	moduleAddr [20]byte
	float      [20]byte
	nowFn      func() int64
}

// NewEngine creates a session engine. moduleAddr is the identity the engine
// presents to the custody ledger (it must hold the manager capability there);
// float is the account claims are paid from.
func NewEngine(state State, custody CustodyService, tokens TokenService, auth Authorizer, moduleAddr, float [20]byte) *Engine {
	return &Engine{
		state:      state,
		custody:    custody,
		tokens:     tokens,
		auth:       auth,
		emitter:    events.NoopEmitter{},
		moduleAddr: moduleAddr,
		float:      float,
		nowFn:      func() int64 { return time.Now().Unix() },
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

// SetNowFunc overrides the time source. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Float returns the account claims are paid from.
func (e *Engine) Float() [20]byte { return e.float }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(payrollEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadSession(id [32]byte) (*Session, error) {
	session, ok, err := e.state.SessionGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func normalizeToken(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// CreateSession locks totalAmount of token with the custody ledger and records
// a new Pending session. If the lock cannot be taken the session is not
// recorded; if recording fails the lock is rolled back, so the operation is
// all-or-nothing. Requires the company capability.
func (e *Engine) CreateSession(caller [20]byte, id [32]byte, token string, totalAmount *big.Int, employeeCount uint32) (*Session, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.auth == nil || !e.auth.HasCapability(caller, roleCompany) {
		return nil, ErrUnauthorized
	}
	if id == ([32]byte{}) {
		return nil, ErrInvalidSessionID
	}
	normalized := normalizeToken(token)
	if e.custody == nil || !e.custody.SupportsToken(normalized) {
		return nil, ErrTokenNotSupported
	}
	if totalAmount == nil || totalAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if _, ok, err := e.state.SessionGet(id); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrSessionExists
	}
	amount := new(big.Int).Set(totalAmount)
	if err := e.custody.Lock(e.moduleAddr, id, normalized, amount); err != nil {
		return nil, err
	}
	session := &Session{
		ID:            id,
		Company:       caller,
		Token:         normalized,
		TotalAmount:   amount,
		EmployeeCount: employeeCount,
		Status:        SessionPending,
		CreatedAt:     e.now(),
	}
	if err := e.state.SessionPut(session); err != nil {
		// Roll the budget lock back so a storage fault cannot strand funds.
		if _, releaseErr := e.custody.Release(e.moduleAddr, id, normalized); releaseErr != nil {
			return nil, errors.Join(err, releaseErr)
		}
		return nil, err
	}
	e.emit(NewSessionCreatedEvent(session))
	return session.Clone(), nil
}

// StartSession moves a Pending session to Active and records the start time.
// Only the creating company may start its session.
func (e *Engine) StartSession(caller [20]byte, id [32]byte) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	session, err := e.loadSession(id)
	if err != nil {
		return err
	}
	if session.Company != caller {
		return ErrUnauthorized
	}
	if session.Status != SessionPending {
		return ErrInvalidStatus
	}
	session.Status = SessionActive
	session.StartTime = e.now()
	if err := e.state.SessionPut(session); err != nil {
		return err
	}
	e.emit(NewSessionStartedEvent(session))
	return nil
}

// CloseSession records the payout manifest commitment and moves an Active
// session to Closing. The root is an opaque commitment; its construction is
// outside the engine's scope. Only the creating company may close.
func (e *Engine) CloseSession(caller [20]byte, id [32]byte, root [32]byte) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	session, err := e.loadSession(id)
	if err != nil {
		return err
	}
	if session.Company != caller {
		return ErrUnauthorized
	}
	if session.Status != SessionActive {
		return ErrInvalidStatus
	}
	if root == ([32]byte{}) {
		return ErrZeroRoot
	}
	session.StateRoot = root
	session.EndTime = e.now()
	session.Status = SessionClosing
	if err := e.state.SessionPut(session); err != nil {
		return err
	}
	e.emit(NewSessionClosedEvent(session))
	return nil
}

// SettleSession releases the budget lock back to the available pool and moves
// a Closing session to Settled. Settlement does not reconcile claimed amounts
// against the lock; claims pay from the float. Requires the keeper capability.
func (e *Engine) SettleSession(caller [20]byte, id [32]byte) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.auth == nil || !e.auth.HasCapability(caller, roleKeeper) {
		return ErrUnauthorized
	}
	session, err := e.loadSession(id)
	if err != nil {
		return err
	}
	if session.Status != SessionClosing {
		return ErrInvalidStatus
	}
	if _, err := e.custody.Release(e.moduleAddr, id, session.Token); err != nil {
		return err
	}
	session.Status = SessionSettled
	if err := e.state.SessionPut(session); err != nil {
		return err
	}
	e.emit(NewSessionSettledEvent(session))
	return nil
}

// CancelSession releases the budget lock identically to settlement and marks
// the session Cancelled. A root published before cancellation stays honorable:
// ClaimPayout accepts Closing and Settled, and cancellation does not erase the
// root. Only the creating company may cancel, from any non-terminal state.
func (e *Engine) CancelSession(caller [20]byte, id [32]byte) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	session, err := e.loadSession(id)
	if err != nil {
		return err
	}
	if session.Company != caller {
		return ErrUnauthorized
	}
	if session.Status.Terminal() {
		return ErrInvalidStatus
	}
	if _, err := e.custody.Release(e.moduleAddr, id, session.Token); err != nil {
		return err
	}
	session.Status = SessionCancelled
	if err := e.state.SessionPut(session); err != nil {
		return err
	}
	e.emit(NewSessionCancelledEvent(session))
	return nil
}

// ClaimPayout verifies a manifest proof and pays the entry once. Anyone may
// submit a claim; the payout goes to the recipient baked into the leaf, funded
// by the engine's float account.
func (e *Engine) ClaimPayout(sessionID, payeeID [32]byte, recipient [20]byte, amount *big.Int, proof [][32]byte) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	session, err := e.loadSession(sessionID)
	if err != nil {
		return err
	}
	switch session.Status {
	case SessionClosing, SessionSettled:
	case SessionCancelled:
		// A root published before cancellation stays honorable.
		if session.StateRoot == ([32]byte{}) {
			return ErrInvalidStatus
		}
	default:
		return ErrInvalidStatus
	}
	if recipient == ([20]byte{}) {
		return ErrZeroRecipient
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	claimed, err := e.state.ClaimGet(sessionID, payeeID)
	if err != nil {
		return err
	}
	if claimed {
		return ErrAlreadyClaimed
	}
	leaf := LeafHash(payeeID, recipient, amount)
	if !VerifyProof(session.StateRoot, leaf, proof) {
		return ErrInvalidProof
	}
	if err := e.tokens.Transfer(session.Token, e.float, recipient, amount); err != nil {
		return err
	}
	if err := e.state.ClaimPut(sessionID, payeeID); err != nil {
		return err
	}
	e.emit(NewPayoutClaimedEvent(session, payeeID, recipient, amount))
	return nil
}

// VerifyAllocation is the pure proof check: it validates a manifest entry
// against the session's published root without touching claim records or
// gating on status. Callers use it to pre-validate a proof before claiming.
func (e *Engine) VerifyAllocation(sessionID, payeeID [32]byte, recipient [20]byte, amount *big.Int, proof [][32]byte) (bool, error) {
	if e == nil || e.state == nil {
		return false, ErrNilState
	}
	session, ok, err := e.state.SessionGet(sessionID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrSessionNotFound
	}
	leaf := LeafHash(payeeID, recipient, amount)
	return VerifyProof(session.StateRoot, leaf, proof), nil
}

// GetSession returns the stored session, if any.
func (e *Engine) GetSession(id [32]byte) (*Session, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, ErrNilState
	}
	return e.state.SessionGet(id)
}

// Claimed reports whether the (session, payee) key has already been paid.
func (e *Engine) Claimed(sessionID, payeeID [32]byte) (bool, error) {
	if e == nil || e.state == nil {
		return false, ErrNilState
	}
	return e.state.ClaimGet(sessionID, payeeID)
}
