package custody

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"testing"
)

type mockState struct {
	accounts map[string]*TokenAccount
	locks    map[string]*Lock
	tokens   map[string]bool
	paused   bool
}

func newMockState(tokens ...string) *mockState {
	registry := make(map[string]bool, len(tokens))
	for _, token := range tokens {
		registry[token] = true
	}
	return &mockState{
		accounts: make(map[string]*TokenAccount),
		locks:    make(map[string]*Lock),
		tokens:   registry,
	}
}

func lockMapKey(sessionID [32]byte, token string) string {
	return hex.EncodeToString(sessionID[:]) + "/" + token
}

func (m *mockState) TokenExists(symbol string) bool { return m.tokens[symbol] }

func (m *mockState) CustodyAccountGet(token string) (*TokenAccount, error) {
	if account, ok := m.accounts[token]; ok {
		return account.Clone(), nil
	}
	return (&TokenAccount{}).Clone(), nil
}

func (m *mockState) CustodyAccountPut(token string, account *TokenAccount) error {
	m.accounts[token] = account.Clone()
	return nil
}

func (m *mockState) CustodyLockGet(sessionID [32]byte, token string) (*Lock, bool, error) {
	lock, ok := m.locks[lockMapKey(sessionID, token)]
	if !ok {
		return nil, false, nil
	}
	return lock.Clone(), true, nil
}

func (m *mockState) CustodyLockPut(sessionID [32]byte, token string, lock *Lock) error {
	m.locks[lockMapKey(sessionID, token)] = lock.Clone()
	return nil
}

func (m *mockState) CustodyLockDelete(sessionID [32]byte, token string) error {
	delete(m.locks, lockMapKey(sessionID, token))
	return nil
}

func (m *mockState) CustodyPaused() (bool, error) { return m.paused, nil }

func (m *mockState) CustodySetPaused(paused bool) error {
	m.paused = paused
	return nil
}

type mockTokens struct {
	balances map[string]map[[20]byte]*big.Int
}

func newMockTokens() *mockTokens {
	return &mockTokens{balances: make(map[string]map[[20]byte]*big.Int)}
}

func (m *mockTokens) credit(token string, addr [20]byte, amount int64) {
	if m.balances[token] == nil {
		m.balances[token] = make(map[[20]byte]*big.Int)
	}
	balance := m.balances[token][addr]
	if balance == nil {
		balance = big.NewInt(0)
	}
	m.balances[token][addr] = new(big.Int).Add(balance, big.NewInt(amount))
}

func (m *mockTokens) Transfer(token string, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("mock tokens: invalid amount")
	}
	fromBal := m.balanceOf(token, from)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("mock tokens: insufficient balance")
	}
	if m.balances[token] == nil {
		m.balances[token] = make(map[[20]byte]*big.Int)
	}
	m.balances[token][from] = new(big.Int).Sub(fromBal, amount)
	m.balances[token][to] = new(big.Int).Add(m.balanceOf(token, to), amount)
	return nil
}

func (m *mockTokens) BalanceOf(token string, addr [20]byte) (*big.Int, error) {
	return m.balanceOf(token, addr), nil
}

func (m *mockTokens) balanceOf(token string, addr [20]byte) *big.Int {
	if m.balances[token] == nil || m.balances[token][addr] == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(m.balances[token][addr])
}

type staticAuth struct {
	grants map[[20]byte]map[string]bool
}

func newStaticAuth() *staticAuth {
	return &staticAuth{grants: make(map[[20]byte]map[string]bool)}
}

func (a *staticAuth) grant(addr [20]byte, role string) {
	if a.grants[addr] == nil {
		a.grants[addr] = make(map[string]bool)
	}
	a.grants[addr][role] = true
}

func (a *staticAuth) HasCapability(addr [20]byte, capability string) bool {
	return a.grants[addr][capability]
}

type mockVenue struct {
	tokens *mockTokens
	vault  [20]byte
	pool   [20]byte
	fail   bool
}

func (v *mockVenue) Provide(token string, amount *big.Int) error {
	if v.fail {
		return fmt.Errorf("mock venue: unavailable")
	}
	return v.tokens.Transfer(token, v.vault, v.pool, amount)
}

func (v *mockVenue) Withdraw(token string, amount *big.Int) error {
	if v.fail {
		return fmt.Errorf("mock venue: unavailable")
	}
	return v.tokens.Transfer(token, v.pool, v.vault, amount)
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func newTestSessionID(fill byte) [32]byte {
	var id [32]byte
	for i := range id {
		id[i] = fill
	}
	return id
}

const testToken = "USDM"

type fixture struct {
	engine *Engine
	state  *mockState
	tokens *mockTokens
	auth   *staticAuth
	vault  [20]byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	state := newMockState(testToken)
	tokens := newMockTokens()
	auth := newStaticAuth()
	vault := newTestAddress(0xAA)
	engine := NewEngine(state, tokens, auth, vault)
	engine.SetVenue(&mockVenue{tokens: tokens, vault: vault, pool: newTestAddress(0xB0)})
	return &fixture{engine: engine, state: state, tokens: tokens, auth: auth, vault: vault}
}

func (f *fixture) checkInvariant(t *testing.T) {
	t.Helper()
	available, err := f.engine.Available(testToken)
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	locked, err := f.engine.Locked(testToken)
	if err != nil {
		t.Fatalf("locked: %v", err)
	}
	allocated, err := f.engine.Allocated(testToken)
	if err != nil {
		t.Fatalf("allocated: %v", err)
	}
	total, err := f.engine.TotalCustodied(testToken)
	if err != nil {
		t.Fatalf("total custodied: %v", err)
	}
	sum := new(big.Int).Add(available, locked)
	sum.Add(sum, allocated)
	if sum.Cmp(total) != 0 {
		t.Fatalf("invariant broken: available+locked+allocated=%s, totalCustodied=%s", sum, total)
	}
}

func TestDepositCreditsAvailable(t *testing.T) {
	f := newFixture(t)
	depositor := newTestAddress(0x01)
	f.tokens.credit(testToken, depositor, 10_000)

	if err := f.engine.Deposit(depositor, testToken, big.NewInt(10_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	available, _ := f.engine.Available(testToken)
	if available.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("available = %s, want 10000", available)
	}
	f.checkInvariant(t)
}

func TestDepositValidation(t *testing.T) {
	f := newFixture(t)
	depositor := newTestAddress(0x01)
	f.tokens.credit(testToken, depositor, 100)

	if err := f.engine.Deposit(depositor, "WRONG", big.NewInt(10)); !errors.Is(err, ErrTokenNotSupported) {
		t.Fatalf("unsupported token: got %v, want ErrTokenNotSupported", err)
	}
	if err := f.engine.Deposit(depositor, testToken, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount: got %v, want ErrInvalidAmount", err)
	}
	// Transfer failure from the token service propagates untouched.
	if err := f.engine.Deposit(depositor, testToken, big.NewInt(1_000)); err == nil {
		t.Fatal("expected transfer failure for amount exceeding the depositor balance")
	}
	available, _ := f.engine.Available(testToken)
	if available.Sign() != 0 {
		t.Fatalf("failed deposits must not credit available, got %s", available)
	}
}

func TestWithdrawRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	depositor := newTestAddress(0x01)
	admin := newTestAddress(0x02)
	recipient := newTestAddress(0x03)
	f.tokens.credit(testToken, depositor, 500)
	if err := f.engine.Deposit(depositor, testToken, big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if err := f.engine.Withdraw(admin, testToken, big.NewInt(100), recipient); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("missing capability: got %v, want ErrUnauthorized", err)
	}
	f.auth.grant(admin, "ROLE_ADMIN")
	if err := f.engine.Withdraw(admin, testToken, big.NewInt(100), [20]byte{}); !errors.Is(err, ErrZeroRecipient) {
		t.Fatalf("zero recipient: got %v, want ErrZeroRecipient", err)
	}
	if err := f.engine.Withdraw(admin, testToken, big.NewInt(600), recipient); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("over-withdraw: got %v, want ErrInsufficientBalance", err)
	}
	if err := f.engine.Withdraw(admin, testToken, big.NewInt(100), recipient); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := f.tokens.balanceOf(testToken, recipient); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("recipient balance = %s, want 100", got)
	}
	f.checkInvariant(t)
}

func TestLockLifecycle(t *testing.T) {
	f := newFixture(t)
	depositor := newTestAddress(0x01)
	manager := newTestAddress(0x04)
	f.auth.grant(manager, "ROLE_MANAGER")
	f.tokens.credit(testToken, depositor, 10_000)
	if err := f.engine.Deposit(depositor, testToken, big.NewInt(10_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	session := newTestSessionID(0x11)

	if err := f.engine.Lock(manager, session, testToken, big.NewInt(10_000)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	available, _ := f.engine.Available(testToken)
	locked, _ := f.engine.Locked(testToken)
	if available.Sign() != 0 || locked.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("after lock: available=%s locked=%s", available, locked)
	}
	f.checkInvariant(t)

	if err := f.engine.Lock(manager, session, testToken, big.NewInt(1)); !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("second lock: got %v, want ErrAlreadyLocked", err)
	}
	other := newTestSessionID(0x22)
	if err := f.engine.Lock(manager, other, testToken, big.NewInt(1)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("lock beyond available: got %v, want ErrInsufficientBalance", err)
	}

	released, err := f.engine.Release(manager, session, testToken)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("released = %s, want 10000", released)
	}
	available, _ = f.engine.Available(testToken)
	if available.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("after release: available=%s", available)
	}
	f.checkInvariant(t)

	if _, err := f.engine.Release(manager, session, testToken); !errors.Is(err, ErrNotLocked) {
		t.Fatalf("second release: got %v, want ErrNotLocked", err)
	}
}

func TestAllocateAndRecall(t *testing.T) {
	f := newFixture(t)
	depositor := newTestAddress(0x01)
	keeper := newTestAddress(0x05)
	f.auth.grant(keeper, "ROLE_KEEPER")
	f.tokens.credit(testToken, depositor, 5_000)
	if err := f.engine.Deposit(depositor, testToken, big.NewInt(5_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if err := f.engine.AllocateToVenue(keeper, testToken, big.NewInt(3_000)); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	allocated, _ := f.engine.Allocated(testToken)
	total, _ := f.engine.TotalCustodied(testToken)
	if allocated.Cmp(big.NewInt(3_000)) != 0 {
		t.Fatalf("allocated = %s, want 3000", allocated)
	}
	if total.Cmp(big.NewInt(5_000)) != 0 {
		t.Fatalf("allocate must not change totalCustodied, got %s", total)
	}
	f.checkInvariant(t)

	if err := f.engine.RecallFromVenue(keeper, testToken, big.NewInt(4_000)); !errors.Is(err, ErrInsufficientAllocated) {
		t.Fatalf("over-recall: got %v, want ErrInsufficientAllocated", err)
	}
	if err := f.engine.RecallFromVenue(keeper, testToken, big.NewInt(3_000)); err != nil {
		t.Fatalf("recall: %v", err)
	}
	available, _ := f.engine.Available(testToken)
	if available.Cmp(big.NewInt(5_000)) != 0 {
		t.Fatalf("after recall: available=%s", available)
	}
	f.checkInvariant(t)
}

func TestEmergencyWithdrawSweepsEverything(t *testing.T) {
	f := newFixture(t)
	depositor := newTestAddress(0x01)
	guardian := newTestAddress(0x06)
	manager := newTestAddress(0x04)
	sink := newTestAddress(0x07)
	f.auth.grant(guardian, "ROLE_EMERGENCY")
	f.auth.grant(manager, "ROLE_MANAGER")
	f.tokens.credit(testToken, depositor, 8_000)
	if err := f.engine.Deposit(depositor, testToken, big.NewInt(8_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := f.engine.Lock(manager, newTestSessionID(0x11), testToken, big.NewInt(2_000)); err != nil {
		t.Fatalf("lock: %v", err)
	}

	if _, err := f.engine.EmergencyWithdraw(depositor, testToken, sink); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("missing capability: got %v, want ErrUnauthorized", err)
	}
	if err := f.engine.Pause(guardian); err != nil {
		t.Fatalf("pause: %v", err)
	}
	// The kill switch stays usable during the incident the pause is for.
	swept, err := f.engine.EmergencyWithdraw(guardian, testToken, sink)
	if err != nil {
		t.Fatalf("emergency withdraw: %v", err)
	}
	if swept.Cmp(big.NewInt(8_000)) != 0 {
		t.Fatalf("swept = %s, want 8000", swept)
	}
	for name, query := range map[string]func(string) (*big.Int, error){
		"available": f.engine.Available,
		"locked":    f.engine.Locked,
		"allocated": f.engine.Allocated,
	} {
		value, err := query(testToken)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if value.Sign() != 0 {
			t.Fatalf("%s = %s after emergency withdraw, want 0", name, value)
		}
	}
}

func TestPauseBlocksOperations(t *testing.T) {
	f := newFixture(t)
	depositor := newTestAddress(0x01)
	guardian := newTestAddress(0x06)
	f.auth.grant(guardian, "ROLE_EMERGENCY")
	f.tokens.credit(testToken, depositor, 100)

	if err := f.engine.Pause(depositor); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("pause without capability: got %v, want ErrUnauthorized", err)
	}
	if err := f.engine.Pause(guardian); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := f.engine.Deposit(depositor, testToken, big.NewInt(100)); !errors.Is(err, ErrPaused) {
		t.Fatalf("deposit while paused: got %v, want ErrPaused", err)
	}
	if err := f.engine.Unpause(guardian); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if err := f.engine.Deposit(depositor, testToken, big.NewInt(100)); err != nil {
		t.Fatalf("deposit after unpause: %v", err)
	}
}
