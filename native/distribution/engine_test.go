package distribution

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
)

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
	m.balances[token][addr] = new(big.Int).Add(m.balanceOf(token, addr), big.NewInt(amount))
}

func (m *mockTokens) Transfer(token string, from, to [20]byte, amount *big.Int) error {
	if m.balanceOf(token, from).Cmp(amount) < 0 {
		return fmt.Errorf("mock tokens: insufficient balance")
	}
	if m.balances[token] == nil {
		m.balances[token] = make(map[[20]byte]*big.Int)
	}
	m.balances[token][from] = new(big.Int).Sub(m.balanceOf(token, from), amount)
	m.balances[token][to] = new(big.Int).Add(m.balanceOf(token, to), amount)
	return nil
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

// recordingAdapter acknowledges every bridge call with a deterministic ref, or
// fails outright when told to.
type recordingAdapter struct {
	calls []bridgeCall
	fail  bool
}

type bridgeCall struct {
	token     string
	recipient [20]byte
	amount    *big.Int
	domain    uint64
}

func (a *recordingAdapter) Bridge(token string, recipient [20]byte, amount *big.Int, domain uint64) ([32]byte, error) {
	if a.fail {
		return [32]byte{}, fmt.Errorf("mock adapter: bridge offline")
	}
	a.calls = append(a.calls, bridgeCall{token: token, recipient: recipient, amount: new(big.Int).Set(amount), domain: domain})
	var ref [32]byte
	ref[0] = byte(len(a.calls))
	return ref, nil
}

func (a *recordingAdapter) EstimateFee(uint64, *big.Int) (*big.Int, error) {
	return big.NewInt(0), nil
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func newTestID(fill byte) [32]byte {
	var id [32]byte
	for i := range id {
		id[i] = fill
	}
	return id
}

const (
	testToken    = "USDM"
	localDomain  = uint64(1)
	remoteDomain = uint64(42)
)

type fixture struct {
	engine       *Engine
	tokens       *mockTokens
	auth         *staticAuth
	adapter      *recordingAdapter
	manager      [20]byte
	vault        [20]byte
	feeCollector [20]byte
}

func newFixture(t *testing.T, baseFeeBps, overrideBps uint32) *fixture {
	t.Helper()
	tokens := newMockTokens()
	auth := newStaticAuth()
	manager := newTestAddress(0x10)
	vault := newTestAddress(0xD0)
	feeCollector := newTestAddress(0xFC)
	auth.grant(manager, "ROLE_MANAGER")
	engine := NewEngine(tokens, auth, localDomain, vault, feeCollector, baseFeeBps)
	adapter := &recordingAdapter{}
	engine.RegisterDomain(remoteDomain, adapter, overrideBps)
	return &fixture{
		engine:       engine,
		tokens:       tokens,
		auth:         auth,
		adapter:      adapter,
		manager:      manager,
		vault:        vault,
		feeCollector: feeCollector,
	}
}

func TestBatchPayoutLocalDomain(t *testing.T) {
	f := newFixture(t, 10, 0)
	f.tokens.credit(testToken, f.manager, 30_000)
	recipients := [][20]byte{newTestAddress(0x31), newTestAddress(0x32), newTestAddress(0x33)}

	insts := make([]PayoutInstruction, len(recipients))
	for i, recipient := range recipients {
		insts[i] = PayoutInstruction{
			DestinationDomain: localDomain,
			Token:             testToken,
			Recipient:         recipient,
			Amount:            big.NewInt(10_000),
			PayeeID:           newTestID(byte(i + 1)),
		}
	}
	results, err := f.engine.BatchPayout(f.manager, insts)
	if err != nil {
		t.Fatalf("batch payout: %v", err)
	}
	for i, result := range results {
		if !result.Success {
			t.Fatalf("result %d failed", i)
		}
		if result.ActualAmount.Cmp(big.NewInt(10_000)) != 0 {
			t.Fatalf("result %d actual = %s, want 10000 (no fee on the local domain)", i, result.ActualAmount)
		}
		if got := f.tokens.balanceOf(testToken, recipients[i]); got.Cmp(big.NewInt(10_000)) != 0 {
			t.Fatalf("recipient %d balance = %s", i, got)
		}
	}
	if got := f.tokens.balanceOf(testToken, f.manager); got.Sign() != 0 {
		t.Fatalf("manager balance = %s, want 0", got)
	}
}

func TestBatchPayoutRequiresManager(t *testing.T) {
	f := newFixture(t, 10, 0)
	stranger := newTestAddress(0x99)
	if _, err := f.engine.BatchPayout(stranger, nil); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger: got %v, want ErrUnauthorized", err)
	}
}

func TestBatchPayoutIsolatesFailures(t *testing.T) {
	f := newFixture(t, 10, 0)
	f.tokens.credit(testToken, f.manager, 15_000)

	insts := []PayoutInstruction{
		{DestinationDomain: localDomain, Token: testToken, Recipient: newTestAddress(0x31), Amount: big.NewInt(10_000), PayeeID: newTestID(0x01)},
		{DestinationDomain: localDomain, Token: testToken, Recipient: [20]byte{}, Amount: big.NewInt(1_000), PayeeID: newTestID(0x02)},
		{DestinationDomain: localDomain, Token: testToken, Recipient: newTestAddress(0x33), Amount: nil, PayeeID: newTestID(0x03)},
		{DestinationDomain: 777, Token: testToken, Recipient: newTestAddress(0x34), Amount: big.NewInt(1_000), PayeeID: newTestID(0x04)},
		{DestinationDomain: localDomain, Token: testToken, Recipient: newTestAddress(0x35), Amount: big.NewInt(5_000), PayeeID: newTestID(0x05)},
	}
	results, err := f.engine.BatchPayout(f.manager, insts)
	if err != nil {
		t.Fatalf("batch payout: %v", err)
	}
	wantSuccess := []bool{true, false, false, false, true}
	for i, result := range results {
		if result.Success != wantSuccess[i] {
			t.Fatalf("result %d success = %v, want %v", i, result.Success, wantSuccess[i])
		}
		if result.PayeeID != insts[i].PayeeID {
			t.Fatalf("result %d payee mismatch", i)
		}
		if !result.Success && result.ActualAmount.Sign() != 0 {
			t.Fatalf("failed result %d actual = %s, want 0", i, result.ActualAmount)
		}
	}
	// The good items before and after the failures both paid out.
	if got := f.tokens.balanceOf(testToken, newTestAddress(0x31)); got.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("first recipient balance = %s", got)
	}
	if got := f.tokens.balanceOf(testToken, newTestAddress(0x35)); got.Cmp(big.NewInt(5_000)) != 0 {
		t.Fatalf("last recipient balance = %s", got)
	}
}

func TestBridgePayoutChargesFee(t *testing.T) {
	f := newFixture(t, 10, 0)
	f.tokens.credit(testToken, f.manager, 10_000)

	inst := PayoutInstruction{
		DestinationDomain: remoteDomain,
		Token:             testToken,
		Recipient:         newTestAddress(0x31),
		Amount:            big.NewInt(10_000),
		PayeeID:           newTestID(0x01),
	}
	result, err := f.engine.SinglePayout(f.manager, inst)
	if err != nil {
		t.Fatalf("single payout: %v", err)
	}
	if !result.Success {
		t.Fatal("payout failed")
	}
	// 10 bps of 10000 is 10; the adapter sees the net amount.
	if result.ActualAmount.Cmp(big.NewInt(9_990)) != 0 {
		t.Fatalf("actual = %s, want 9990", result.ActualAmount)
	}
	if result.ExternalTxRef == ([32]byte{}) {
		t.Fatal("bridged payout must carry an external tx ref")
	}
	if len(f.adapter.calls) != 1 {
		t.Fatalf("adapter calls = %d, want 1", len(f.adapter.calls))
	}
	call := f.adapter.calls[0]
	if call.amount.Cmp(big.NewInt(9_990)) != 0 || call.domain != remoteDomain {
		t.Fatalf("bridge call = %+v", call)
	}
	if got := f.tokens.balanceOf(testToken, f.feeCollector); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("fee collector balance = %s, want 10", got)
	}
	if got := f.tokens.balanceOf(testToken, f.vault); got.Cmp(big.NewInt(9_990)) != 0 {
		t.Fatalf("vault balance = %s, want 9990 held for the bridge", got)
	}
}

func TestBridgeFeeOverrideWins(t *testing.T) {
	f := newFixture(t, 10, 50)
	f.tokens.credit(testToken, f.manager, 10_000)

	inst := PayoutInstruction{
		DestinationDomain: remoteDomain,
		Token:             testToken,
		Recipient:         newTestAddress(0x31),
		Amount:            big.NewInt(10_000),
		PayeeID:           newTestID(0x01),
	}
	result, err := f.engine.SinglePayout(f.manager, inst)
	if err != nil {
		t.Fatalf("single payout: %v", err)
	}
	// 50 bps of 10000 is 50.
	if result.ActualAmount.Cmp(big.NewInt(9_950)) != 0 {
		t.Fatalf("actual = %s, want 9950", result.ActualAmount)
	}
	if got := f.engine.BridgeFee(remoteDomain, big.NewInt(10_000)); got.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("bridge fee = %s, want 50", got)
	}
	if got := f.engine.BridgeFee(localDomain, big.NewInt(10_000)); got.Sign() != 0 {
		t.Fatalf("local domain fee = %s, want 0", got)
	}
}

func TestBridgeFailureRefundsCaller(t *testing.T) {
	f := newFixture(t, 10, 0)
	f.adapter.fail = true
	f.tokens.credit(testToken, f.manager, 10_000)

	inst := PayoutInstruction{
		DestinationDomain: remoteDomain,
		Token:             testToken,
		Recipient:         newTestAddress(0x31),
		Amount:            big.NewInt(10_000),
		PayeeID:           newTestID(0x01),
	}
	result, err := f.engine.SinglePayout(f.manager, inst)
	if err != nil {
		t.Fatalf("single payout: %v", err)
	}
	if result.Success {
		t.Fatal("payout must fail when the bridge is offline")
	}
	if got := f.tokens.balanceOf(testToken, f.manager); got.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("manager must be refunded in full, has %s", got)
	}
	if got := f.tokens.balanceOf(testToken, f.vault); got.Sign() != 0 {
		t.Fatalf("vault must hold nothing after the refund, has %s", got)
	}
	if got := f.tokens.balanceOf(testToken, f.feeCollector); got.Sign() != 0 {
		t.Fatalf("no fee on failure, collector has %s", got)
	}
}

func TestEstimateFees(t *testing.T) {
	f := newFixture(t, 10, 0)
	insts := []PayoutInstruction{
		{DestinationDomain: localDomain, Amount: big.NewInt(10_000)},
		{DestinationDomain: remoteDomain, Amount: big.NewInt(10_000)},
		{DestinationDomain: remoteDomain, Amount: big.NewInt(20_000)},
		{DestinationDomain: remoteDomain, Amount: nil},
	}
	// 0 + 10 + 20 + skipped.
	if got := f.engine.EstimateFees(insts); got.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("estimated fees = %s, want 30", got)
	}
}
