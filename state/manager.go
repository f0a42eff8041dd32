package state

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"payvault/native/custody"
	"payvault/native/payroll"
	"payvault/storage"
)

var (
	ErrInvalidAmount     = errors.New("state: amount must be positive")
	ErrInsufficientFunds = errors.New("state: insufficient balance")
	ErrUnknownToken      = errors.New("state: unknown token")
)

var (
	balancePrefix     = []byte("token/balance/")
	custodyAcctPrefix = []byte("custody/account/")
	custodyLockPrefix = []byte("custody/lock/")
	custodyPausedKey  = []byte("custody/paused")
	sessionPrefix     = []byte("payroll/session/")
	claimPrefix       = []byte("payroll/claim/")
	rolePrefix        = []byte("roles/")
)

// Manager is the single authoritative store behind the engines: token
// balances, custody accounts and locks, payroll sessions and claim flags, and
// role membership all live here under prefixed keys. All mutation goes through
// the engine operations; no other component writes these records.
type Manager struct {
	mu     sync.RWMutex
	db     storage.Database
	tokens map[string]struct{}
}

// NewManager wraps the database with the supported-token registry. Token
// symbols are canonicalised to uppercase.
func NewManager(db storage.Database, tokens []string) (*Manager, error) {
	if db == nil {
		return nil, fmt.Errorf("state: database required")
	}
	registry := make(map[string]struct{}, len(tokens))
	for _, symbol := range tokens {
		normalized := strings.ToUpper(strings.TrimSpace(symbol))
		if normalized == "" {
			return nil, fmt.Errorf("state: empty token symbol")
		}
		registry[normalized] = struct{}{}
	}
	return &Manager{db: db, tokens: registry}, nil
}

// TokenExists reports whether the token symbol is registered.
func (m *Manager) TokenExists(symbol string) bool {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	_, ok := m.tokens[normalized]
	return ok
}

// --- token service ---

// BalanceOf returns the address's balance of token.
func (m *Manager) BalanceOf(token string, addr [20]byte) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balance(token, addr)
}

// Transfer debits the sender and credits the recipient atomically, failing
// loudly when the sender cannot cover the amount.
func (m *Manager) Transfer(token string, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.TokenExists(token) {
		return ErrUnknownToken
	}
	fromBal, err := m.balance(token, from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	toBal, err := m.balance(token, to)
	if err != nil {
		return err
	}
	if err := m.putBalance(token, from, new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	return m.putBalance(token, to, new(big.Int).Add(toBal, amount))
}

// Credit mints amount of token to the address. Used for genesis balances and
// tests; the engines never call it.
func (m *Manager) Credit(token string, addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.TokenExists(token) {
		return ErrUnknownToken
	}
	balance, err := m.balance(token, addr)
	if err != nil {
		return err
	}
	return m.putBalance(token, addr, new(big.Int).Add(balance, amount))
}

func (m *Manager) balance(token string, addr [20]byte) (*big.Int, error) {
	data, ok, err := m.db.Get(balanceKey(token, addr))
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	balance := new(big.Int)
	if err := rlp.DecodeBytes(data, balance); err != nil {
		return nil, err
	}
	return balance, nil
}

func (m *Manager) putBalance(token string, addr [20]byte, balance *big.Int) error {
	encoded, err := rlp.EncodeToBytes(balance)
	if err != nil {
		return err
	}
	return m.db.Put(balanceKey(token, addr), encoded)
}

// --- custody state ---

type storedCustodyAccount struct {
	Available *big.Int
	Locked    *big.Int
	Allocated *big.Int
}

// CustodyAccountGet returns the custody triple for the token, zeroed when no
// record exists yet.
func (m *Manager) CustodyAccountGet(token string) (*custody.TokenAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok, err := m.db.Get(prefixedKey(custodyAcctPrefix, []byte(token)))
	if err != nil {
		return nil, err
	}
	account := &custody.TokenAccount{Available: big.NewInt(0), Locked: big.NewInt(0), Allocated: big.NewInt(0)}
	if !ok {
		return account, nil
	}
	var stored storedCustodyAccount
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, err
	}
	if stored.Available != nil {
		account.Available = stored.Available
	}
	if stored.Locked != nil {
		account.Locked = stored.Locked
	}
	if stored.Allocated != nil {
		account.Allocated = stored.Allocated
	}
	return account, nil
}

// CustodyAccountPut stores the custody triple for the token.
func (m *Manager) CustodyAccountPut(token string, account *custody.TokenAccount) error {
	if account == nil {
		return fmt.Errorf("state: nil custody account")
	}
	clone := account.Clone()
	stored := storedCustodyAccount{Available: clone.Available, Locked: clone.Locked, Allocated: clone.Allocated}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Put(prefixedKey(custodyAcctPrefix, []byte(token)), encoded)
}

type storedLock struct {
	Amount *big.Int
}

// CustodyLockGet returns the active lock for the (session, token) pair.
func (m *Manager) CustodyLockGet(sessionID [32]byte, token string) (*custody.Lock, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok, err := m.db.Get(lockKey(sessionID, token))
	if err != nil || !ok {
		return nil, false, err
	}
	var stored storedLock
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, false, err
	}
	lock := &custody.Lock{Amount: big.NewInt(0)}
	if stored.Amount != nil {
		lock.Amount = stored.Amount
	}
	return lock, true, nil
}

// CustodyLockPut stores the lock for the (session, token) pair.
func (m *Manager) CustodyLockPut(sessionID [32]byte, token string, lock *custody.Lock) error {
	if lock == nil {
		return fmt.Errorf("state: nil custody lock")
	}
	encoded, err := rlp.EncodeToBytes(storedLock{Amount: lock.Clone().Amount})
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Put(lockKey(sessionID, token), encoded)
}

// CustodyLockDelete removes the lock record.
func (m *Manager) CustodyLockDelete(sessionID [32]byte, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Delete(lockKey(sessionID, token))
}

// CustodyPaused reports whether the pause gate is set.
func (m *Manager) CustodyPaused() (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok, err := m.db.Get(custodyPausedKey)
	if err != nil || !ok {
		return false, err
	}
	var paused bool
	if err := rlp.DecodeBytes(data, &paused); err != nil {
		return false, err
	}
	return paused, nil
}

// CustodySetPaused persists the pause gate.
func (m *Manager) CustodySetPaused(paused bool) error {
	encoded, err := rlp.EncodeToBytes(paused)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Put(custodyPausedKey, encoded)
}

// --- payroll state ---

type storedSession struct {
	ID            [32]byte
	Company       [20]byte
	Token         string
	TotalAmount   *big.Int
	EmployeeCount uint32
	StartTime     uint64
	EndTime       uint64
	StateRoot     [32]byte
	Status        uint8
	CreatedAt     uint64
}

// SessionGet returns the stored session, if any.
func (m *Manager) SessionGet(id [32]byte) (*payroll.Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok, err := m.db.Get(prefixedKey(sessionPrefix, id[:]))
	if err != nil || !ok {
		return nil, false, err
	}
	var stored storedSession
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, false, err
	}
	session, err := fromStoredSession(&stored)
	if err != nil {
		return nil, false, err
	}
	return session, true, nil
}

// SessionPut stores the session keyed by its id.
func (m *Manager) SessionPut(session *payroll.Session) error {
	if session == nil {
		return fmt.Errorf("state: nil session")
	}
	if !session.Status.Valid() {
		return fmt.Errorf("state: invalid session status %d", session.Status)
	}
	stored, err := toStoredSession(session)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Put(prefixedKey(sessionPrefix, session.ID[:]), encoded)
}

// ClaimGet reports whether the (session, payee) key has been claimed.
func (m *Manager) ClaimGet(sessionID, payeeID [32]byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok, err := m.db.Get(claimKey(sessionID, payeeID))
	return ok, err
}

// ClaimPut marks the (session, payee) key claimed. The flag is never unset.
func (m *Manager) ClaimPut(sessionID, payeeID [32]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Put(claimKey(sessionID, payeeID), []byte{1})
}

// --- roles store ---

// RoleMembersGet returns the RLP-decoded member list for the role.
func (m *Manager) RoleMembersGet(role string) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok, err := m.db.Get(prefixedKey(rolePrefix, []byte(role)))
	if err != nil {
		return nil, err
	}
	if !ok {
		return [][]byte{}, nil
	}
	var members [][]byte
	if err := rlp.DecodeBytes(data, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// RoleMembersPut stores the member list for the role.
func (m *Manager) RoleMembersPut(role string, members [][]byte) error {
	encoded, err := rlp.EncodeToBytes(members)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Put(prefixedKey(rolePrefix, []byte(role)), encoded)
}

// --- helpers ---

func toStoredSession(session *payroll.Session) (*storedSession, error) {
	stored := &storedSession{
		ID:            session.ID,
		Company:       session.Company,
		Token:         session.Token,
		TotalAmount:   big.NewInt(0),
		EmployeeCount: session.EmployeeCount,
		StateRoot:     session.StateRoot,
		Status:        uint8(session.Status),
	}
	if session.TotalAmount != nil {
		stored.TotalAmount = new(big.Int).Set(session.TotalAmount)
	}
	var err error
	if stored.StartTime, err = int64ToUint64(session.StartTime); err != nil {
		return nil, fmt.Errorf("state: start time: %w", err)
	}
	if stored.EndTime, err = int64ToUint64(session.EndTime); err != nil {
		return nil, fmt.Errorf("state: end time: %w", err)
	}
	if stored.CreatedAt, err = int64ToUint64(session.CreatedAt); err != nil {
		return nil, fmt.Errorf("state: created at: %w", err)
	}
	return stored, nil
}

func fromStoredSession(stored *storedSession) (*payroll.Session, error) {
	session := &payroll.Session{
		ID:            stored.ID,
		Company:       stored.Company,
		Token:         stored.Token,
		TotalAmount:   big.NewInt(0),
		EmployeeCount: stored.EmployeeCount,
		StateRoot:     stored.StateRoot,
		Status:        payroll.SessionStatus(stored.Status),
	}
	if stored.TotalAmount != nil {
		session.TotalAmount = stored.TotalAmount
	}
	var err error
	if session.StartTime, err = uint64ToInt64(stored.StartTime); err != nil {
		return nil, fmt.Errorf("state: start time: %w", err)
	}
	if session.EndTime, err = uint64ToInt64(stored.EndTime); err != nil {
		return nil, fmt.Errorf("state: end time: %w", err)
	}
	if session.CreatedAt, err = uint64ToInt64(stored.CreatedAt); err != nil {
		return nil, fmt.Errorf("state: created at: %w", err)
	}
	if !session.Status.Valid() {
		return nil, fmt.Errorf("state: invalid stored status %d", stored.Status)
	}
	return session, nil
}

func int64ToUint64(value int64) (uint64, error) {
	if value < 0 {
		return 0, fmt.Errorf("value %d is negative", value)
	}
	return uint64(value), nil
}

func uint64ToInt64(value uint64) (int64, error) {
	if value > math.MaxInt64 {
		return 0, fmt.Errorf("value %d exceeds int64 range", value)
	}
	return int64(value), nil
}

func prefixedKey(prefix, suffix []byte) []byte {
	key := make([]byte, 0, len(prefix)+len(suffix))
	key = append(key, prefix...)
	return append(key, suffix...)
}

func balanceKey(token string, addr [20]byte) []byte {
	key := make([]byte, 0, len(balancePrefix)+len(token)+1+len(addr))
	key = append(key, balancePrefix...)
	key = append(key, token...)
	key = append(key, '/')
	return append(key, addr[:]...)
}

func lockKey(sessionID [32]byte, token string) []byte {
	key := make([]byte, 0, len(custodyLockPrefix)+len(sessionID)+1+len(token))
	key = append(key, custodyLockPrefix...)
	key = append(key, sessionID[:]...)
	key = append(key, '/')
	return append(key, token...)
}

func claimKey(sessionID, payeeID [32]byte) []byte {
	key := make([]byte, 0, len(claimPrefix)+len(sessionID)+len(payeeID))
	key = append(key, claimPrefix...)
	key = append(key, sessionID[:]...)
	return append(key, payeeID[:]...)
}
