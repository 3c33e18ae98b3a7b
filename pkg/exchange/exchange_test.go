package exchange

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yogeshk/obex/pkg/exchange/events"
	"github.com/yogeshk/obex/pkg/exchange/token"
	"github.com/yogeshk/obex/pkg/util"
)

var (
	custody    = common.HexToAddress("0xEC00000000000000000000000000000000000000")
	feeAccount = common.HexToAddress("0xFE00000000000000000000000000000000000000")
	alice      = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob        = common.HexToAddress("0xBB00000000000000000000000000000000000000")
	carol      = common.HexToAddress("0xCC00000000000000000000000000000000000000")

	tokenA = common.HexToAddress("0x1000000000000000000000000000000000000001")
	tokenB = common.HexToAddress("0x1000000000000000000000000000000000000002")
)

// units converts whole tokens to the 18-decimal smallest unit.
func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

// tenths converts tenths of a token to the smallest unit.
func tenths(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil))
}

// recorder captures emitted records for assertions.
type recorder struct {
	deposits  []events.Deposit
	withdraws []events.Withdraw
	orders    []events.Order
	cancels   []events.Cancel
	trades    []events.Trade
}

func (r *recorder) EmitDeposit(d events.Deposit)   { r.deposits = append(r.deposits, d) }
func (r *recorder) EmitWithdraw(w events.Withdraw) { r.withdraws = append(r.withdraws, w) }
func (r *recorder) EmitOrder(o events.Order)       { r.orders = append(r.orders, o) }
func (r *recorder) EmitCancel(c events.Cancel)     { r.cancels = append(r.cancels, c) }
func (r *recorder) EmitTrade(t events.Trade)       { r.trades = append(r.trades, t) }

type fixture struct {
	x        *Exchange
	erc20A   *token.ERC20
	erc20B   *token.ERC20
	registry *token.Registry
	rec      *recorder
	clock    *util.ManualClock
	dbPath   string
}

// newTestExchange builds an exchange over a temporary database with two
// ERC20 tokens registered. Every test account starts with a million of each
// token externally and an unlimited approval toward custody.
func newTestExchange(t *testing.T, feePercent int64) *fixture {
	t.Helper()

	f := &fixture{
		erc20A:   token.NewERC20("KN Token", "KNT", 18),
		erc20B:   token.NewERC20("Fake DAI", "fDAI", 18),
		registry: token.NewRegistry(),
		rec:      &recorder{},
		clock:    &util.ManualClock{Current: time.UnixMilli(1_700_000_000_000)},
		dbPath:   t.TempDir(),
	}

	f.registry.Register(tokenA, f.erc20A.Bind(custody), token.Info{Symbol: "KNT", Decimals: 18})
	f.registry.Register(tokenB, f.erc20B.Bind(custody), token.Info{Symbol: "fDAI", Decimals: 18})

	for _, user := range []common.Address{alice, bob, carol} {
		for _, tok := range []*token.ERC20{f.erc20A, f.erc20B} {
			tok.Mint(user, units(1_000_000))
			tok.Approve(user, custody, units(1_000_000))
		}
	}

	store, err := NewStore(f.dbPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	f.x = f.newExchange(t, store, feePercent)
	t.Cleanup(func() { f.x.Close() })
	return f
}

func (f *fixture) newExchange(t *testing.T, store *Store, feePercent int64) *Exchange {
	t.Helper()
	x, err := New(Config{
		Custody:    custody,
		FeeAccount: feeAccount,
		FeePercent: feePercent,
		Registry:   f.registry,
		Store:      store,
		Emitter:    f.rec,
		Clock:      f.clock,
	})
	if err != nil {
		t.Fatalf("failed to create exchange: %v", err)
	}
	return x
}

func mustEqual(t *testing.T, name string, got, want *big.Int) {
	t.Helper()
	if got.Cmp(want) != 0 {
		t.Errorf("%s = %s, want %s", name, got, want)
	}
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	f := newTestExchange(t, 10)

	before := f.x.BalanceOf(tokenA, alice)

	if err := f.x.Deposit(tokenA, alice, units(10)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	mustEqual(t, "custody balance", f.x.BalanceOf(tokenA, alice), units(10))
	mustEqual(t, "token held by custody", f.erc20A.BalanceOf(custody), units(10))

	if err := f.x.Withdraw(tokenA, alice, units(10)); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	mustEqual(t, "custody balance after round trip", f.x.BalanceOf(tokenA, alice), before)
	mustEqual(t, "token held by custody", f.erc20A.BalanceOf(custody), big.NewInt(0))
	mustEqual(t, "external balance restored", f.erc20A.BalanceOf(alice), units(1_000_000))

	// Emitted records carry the resulting balances
	if len(f.rec.deposits) != 1 || len(f.rec.withdraws) != 1 {
		t.Fatalf("records = %d deposits, %d withdraws, want 1 and 1", len(f.rec.deposits), len(f.rec.withdraws))
	}
	mustEqual(t, "deposit record balance", f.rec.deposits[0].Balance, units(10))
	mustEqual(t, "withdraw record balance", f.rec.withdraws[0].Balance, big.NewInt(0))
}

func TestDepositWithoutApproval(t *testing.T) {
	f := newTestExchange(t, 10)

	// Carol revokes her approval for tokenA
	f.erc20A.Approve(carol, custody, big.NewInt(0))

	err := f.x.Deposit(tokenA, carol, units(1))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("err = %v, want ErrTransferFailed", err)
	}
	mustEqual(t, "custody balance after failed deposit", f.x.BalanceOf(tokenA, carol), big.NewInt(0))
}

func TestDepositUnknownToken(t *testing.T) {
	f := newTestExchange(t, 10)

	err := f.x.Deposit(common.HexToAddress("0xdead"), alice, units(1))
	if !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("err = %v, want ErrUnknownToken", err)
	}
}

func TestDepositRejectsBadAmounts(t *testing.T) {
	f := newTestExchange(t, 10)

	for _, amount := range []*big.Int{nil, big.NewInt(0), big.NewInt(-5)} {
		if err := f.x.Deposit(tokenA, alice, amount); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("deposit(%v): err = %v, want ErrInvalidAmount", amount, err)
		}
	}
}

func TestWithdrawInsufficient(t *testing.T) {
	f := newTestExchange(t, 10)
	f.x.Deposit(tokenA, alice, units(5))

	err := f.x.Withdraw(tokenA, alice, units(6))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	mustEqual(t, "balance unchanged", f.x.BalanceOf(tokenA, alice), units(5))
}

func TestMakeOrderSequentialIDs(t *testing.T) {
	f := newTestExchange(t, 10)
	f.x.Deposit(tokenA, alice, units(100))

	for want := uint64(1); want <= 5; want++ {
		o, err := f.x.MakeOrder(alice, tokenB, units(1), tokenA, units(1))
		if err != nil {
			t.Fatalf("make order failed: %v", err)
		}
		if o.ID != want {
			t.Errorf("order id = %d, want %d", o.ID, want)
		}
	}
	if got := f.x.OrderCount(); got != 5 {
		t.Errorf("order count = %d, want 5", got)
	}

	// Ids keep advancing after a cancel; nothing is reused
	f.x.CancelOrder(alice, 3)
	o, err := f.x.MakeOrder(alice, tokenB, units(1), tokenA, units(1))
	if err != nil {
		t.Fatalf("make order failed: %v", err)
	}
	if o.ID != 6 {
		t.Errorf("order id after cancel = %d, want 6", o.ID)
	}
}

func TestMakeOrderRequiresBalance(t *testing.T) {
	f := newTestExchange(t, 10)

	_, err := f.x.MakeOrder(alice, tokenB, units(1), tokenA, units(1))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if got := f.x.OrderCount(); got != 0 {
		t.Errorf("order count after rejection = %d, want 0", got)
	}
}

func TestMakeOrderDoesNotEscrow(t *testing.T) {
	f := newTestExchange(t, 10)
	f.x.Deposit(tokenA, alice, units(10))

	if _, err := f.x.MakeOrder(alice, tokenB, units(1), tokenA, units(10)); err != nil {
		t.Fatalf("make order failed: %v", err)
	}

	// Balance is checked, not reserved: the full amount stays withdrawable
	mustEqual(t, "balance after order", f.x.BalanceOf(tokenA, alice), units(10))
	if err := f.x.Withdraw(tokenA, alice, units(10)); err != nil {
		t.Fatalf("withdraw after order failed: %v", err)
	}
}

func TestCancelOrder(t *testing.T) {
	f := newTestExchange(t, 10)
	f.x.Deposit(tokenA, alice, units(10))
	o, _ := f.x.MakeOrder(alice, tokenB, units(1), tokenA, units(1))

	// Only the creator may cancel
	if err := f.x.CancelOrder(bob, o.ID); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}

	if err := f.x.CancelOrder(alice, o.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if !f.x.OrderCancelled(o.ID) {
		t.Error("expected order to be cancelled")
	}
	if f.x.OrderCompleted(o.ID) {
		t.Error("cancelled order must not be completed")
	}

	// Second cancel hits the terminal state
	if err := f.x.CancelOrder(alice, o.ID); !errors.Is(err, ErrAlreadyFinalized) {
		t.Errorf("err = %v, want ErrAlreadyFinalized", err)
	}

	// No balance changes from cancelling
	mustEqual(t, "balance after cancel", f.x.BalanceOf(tokenA, alice), units(10))

	if len(f.rec.cancels) != 1 || f.rec.cancels[0].ID != o.ID {
		t.Errorf("cancel records = %+v, want one for id %d", f.rec.cancels, o.ID)
	}
}

func TestOrderNotFound(t *testing.T) {
	f := newTestExchange(t, 10)
	f.x.Deposit(tokenA, alice, units(10))
	f.x.MakeOrder(alice, tokenB, units(1), tokenA, units(1))

	for _, id := range []uint64{0, 2, 99999} {
		if err := f.x.CancelOrder(alice, id); !errors.Is(err, ErrOrderNotFound) {
			t.Errorf("cancel(%d): err = %v, want ErrOrderNotFound", id, err)
		}
		if err := f.x.ExecuteOrder(bob, id); !errors.Is(err, ErrOrderNotFound) {
			t.Errorf("execute(%d): err = %v, want ErrOrderNotFound", id, err)
		}
	}

	// Status queries stay pure for unknown ids
	if f.x.OrderCancelled(0) || f.x.OrderCompleted(99999) {
		t.Error("status queries must be false for never-issued ids")
	}
}

// TestExecuteOrderSettlement runs the canonical fee scenario: feePercent 10,
// creator offers 1 KNT for 1 fDAI, taker fills holding 2 fDAI in custody.
func TestExecuteOrderSettlement(t *testing.T) {
	f := newTestExchange(t, 10)

	f.x.Deposit(tokenA, alice, units(1))
	f.x.Deposit(tokenB, bob, units(2))

	o, err := f.x.MakeOrder(alice, tokenB, units(1), tokenA, units(1))
	if err != nil {
		t.Fatalf("make order failed: %v", err)
	}
	if err := f.x.ExecuteOrder(bob, o.ID); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	// Give token moves fully, fee free
	mustEqual(t, "creator tokenA", f.x.BalanceOf(tokenA, alice), big.NewInt(0))
	mustEqual(t, "taker tokenA", f.x.BalanceOf(tokenA, bob), units(1))
	mustEqual(t, "feeAccount tokenA", f.x.BalanceOf(tokenA, feeAccount), big.NewInt(0))

	// Get token: taker pays amount + 10% fee
	mustEqual(t, "creator tokenB", f.x.BalanceOf(tokenB, alice), units(1))
	mustEqual(t, "taker tokenB", f.x.BalanceOf(tokenB, bob), tenths(9))
	mustEqual(t, "feeAccount tokenB", f.x.BalanceOf(tokenB, feeAccount), tenths(1))

	if !f.x.OrderCompleted(o.ID) {
		t.Error("expected order to be completed")
	}
	if f.x.OrderCancelled(o.ID) {
		t.Error("completed order must not be cancelled")
	}

	if len(f.rec.trades) != 1 {
		t.Fatalf("trade records = %d, want 1", len(f.rec.trades))
	}
	trade := f.rec.trades[0]
	if trade.User != bob || trade.Creator != alice || trade.ID != o.ID {
		t.Errorf("trade record = %+v, want taker bob, creator alice, id %d", trade, o.ID)
	}
}

func TestExecuteFeeTruncation(t *testing.T) {
	f := newTestExchange(t, 10)

	f.x.Deposit(tokenA, alice, big.NewInt(100))
	f.x.Deposit(tokenB, bob, big.NewInt(100))

	// amountGet = 9: floor(9 * 10 / 100) = 0
	o, _ := f.x.MakeOrder(alice, tokenB, big.NewInt(9), tokenA, big.NewInt(5))
	if err := f.x.ExecuteOrder(bob, o.ID); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	mustEqual(t, "fee on tiny order", f.x.BalanceOf(tokenB, feeAccount), big.NewInt(0))
	mustEqual(t, "taker tokenB", f.x.BalanceOf(tokenB, bob), big.NewInt(91))
	mustEqual(t, "creator tokenB", f.x.BalanceOf(tokenB, alice), big.NewInt(9))
}

// TestExecuteDeferredFundingRace covers the accepted non-atomicity between
// posting and filling: the creator drains the give-side balance after
// posting, so the fill fails and nobody's balance moves.
func TestExecuteDeferredFundingRace(t *testing.T) {
	f := newTestExchange(t, 10)

	f.x.Deposit(tokenA, alice, units(1))
	f.x.Deposit(tokenB, bob, units(2))

	o, _ := f.x.MakeOrder(alice, tokenB, units(1), tokenA, units(1))

	// Creator withdraws the funds backing the order
	if err := f.x.Withdraw(tokenA, alice, units(1)); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}

	err := f.x.ExecuteOrder(bob, o.ID)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}

	// No party's balance changed
	mustEqual(t, "creator tokenA", f.x.BalanceOf(tokenA, alice), big.NewInt(0))
	mustEqual(t, "creator tokenB", f.x.BalanceOf(tokenB, alice), big.NewInt(0))
	mustEqual(t, "taker tokenA", f.x.BalanceOf(tokenA, bob), big.NewInt(0))
	mustEqual(t, "taker tokenB", f.x.BalanceOf(tokenB, bob), units(2))
	mustEqual(t, "feeAccount tokenB", f.x.BalanceOf(tokenB, feeAccount), big.NewInt(0))

	// The order stays open; refunding revives it
	f.x.Deposit(tokenA, alice, units(1))
	if err := f.x.ExecuteOrder(bob, o.ID); err != nil {
		t.Fatalf("execute after refund failed: %v", err)
	}
}

func TestExecuteTakerCannotCoverFee(t *testing.T) {
	f := newTestExchange(t, 10)

	f.x.Deposit(tokenA, alice, units(1))
	// Bob deposits exactly amountGet but not the fee on top
	f.x.Deposit(tokenB, bob, units(1))

	o, _ := f.x.MakeOrder(alice, tokenB, units(1), tokenA, units(1))

	err := f.x.ExecuteOrder(bob, o.ID)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}

	// All-or-nothing: the give side did not move either
	mustEqual(t, "creator tokenA", f.x.BalanceOf(tokenA, alice), units(1))
	mustEqual(t, "taker tokenB", f.x.BalanceOf(tokenB, bob), units(1))
}

func TestDoubleExecution(t *testing.T) {
	f := newTestExchange(t, 10)

	f.x.Deposit(tokenA, alice, units(10))
	f.x.Deposit(tokenB, bob, units(10))

	o, _ := f.x.MakeOrder(alice, tokenB, units(1), tokenA, units(1))
	if err := f.x.ExecuteOrder(bob, o.ID); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if err := f.x.ExecuteOrder(bob, o.ID); !errors.Is(err, ErrAlreadyFinalized) {
		t.Errorf("second execute: err = %v, want ErrAlreadyFinalized", err)
	}
	if err := f.x.ExecuteOrder(carol, o.ID); !errors.Is(err, ErrAlreadyFinalized) {
		t.Errorf("execute by third party: err = %v, want ErrAlreadyFinalized", err)
	}
	if err := f.x.CancelOrder(alice, o.ID); !errors.Is(err, ErrAlreadyFinalized) {
		t.Errorf("cancel after fill: err = %v, want ErrAlreadyFinalized", err)
	}
}

func TestExecuteCancelledOrder(t *testing.T) {
	f := newTestExchange(t, 10)

	f.x.Deposit(tokenA, alice, units(10))
	f.x.Deposit(tokenB, bob, units(10))

	o, _ := f.x.MakeOrder(alice, tokenB, units(1), tokenA, units(1))
	f.x.CancelOrder(alice, o.ID)

	if err := f.x.ExecuteOrder(bob, o.ID); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("err = %v, want ErrAlreadyFinalized", err)
	}
}

func TestOpenOrders(t *testing.T) {
	f := newTestExchange(t, 10)

	f.x.Deposit(tokenA, alice, units(10))
	f.x.Deposit(tokenB, bob, units(10))

	for i := 0; i < 3; i++ {
		f.x.MakeOrder(alice, tokenB, units(1), tokenA, units(1))
	}
	f.x.CancelOrder(alice, 1)
	f.x.ExecuteOrder(bob, 2)

	open := f.x.OpenOrders()
	if len(open) != 1 || open[0].ID != 3 {
		t.Fatalf("open orders = %+v, want only id 3", open)
	}
}

// TestReloadFromStore restarts the exchange over the same database and
// checks balances, orders, the id sequence and trade history all survive.
func TestReloadFromStore(t *testing.T) {
	f := newTestExchange(t, 10)

	f.x.Deposit(tokenA, alice, units(10))
	f.x.Deposit(tokenB, bob, units(10))
	f.x.MakeOrder(alice, tokenB, units(1), tokenA, units(1))
	f.x.MakeOrder(alice, tokenB, units(2), tokenA, units(2))
	f.x.CancelOrder(alice, 1)
	f.x.ExecuteOrder(bob, 2)

	if err := f.x.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	store, err := NewStore(f.dbPath)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	x2 := f.newExchange(t, store, 10)
	t.Cleanup(func() { x2.Close() })

	if got := x2.OrderCount(); got != 2 {
		t.Errorf("order count after reload = %d, want 2", got)
	}
	if !x2.OrderCancelled(1) || !x2.OrderCompleted(2) {
		t.Error("order statuses lost across restart")
	}
	mustEqual(t, "creator tokenA", x2.BalanceOf(tokenA, alice), units(8))
	mustEqual(t, "taker tokenA", x2.BalanceOf(tokenA, bob), units(2))
	mustEqual(t, "creator tokenB", x2.BalanceOf(tokenB, alice), units(2))
	mustEqual(t, "feeAccount tokenB", x2.BalanceOf(tokenB, feeAccount), tenths(2))

	// New ids continue after the persisted sequence
	o, err := x2.MakeOrder(alice, tokenB, units(1), tokenA, units(1))
	if err != nil {
		t.Fatalf("make order after reload failed: %v", err)
	}
	if o.ID != 3 {
		t.Errorf("order id after reload = %d, want 3", o.ID)
	}

	trades, err := x2.RecentTrades(10)
	if err != nil {
		t.Fatalf("recent trades failed: %v", err)
	}
	if len(trades) != 1 || trades[0].ID != 2 {
		t.Errorf("trades after reload = %+v, want single trade for order 2", trades)
	}
}

func TestOrderTimestampFromClock(t *testing.T) {
	f := newTestExchange(t, 10)
	f.x.Deposit(tokenA, alice, units(10))

	o1, _ := f.x.MakeOrder(alice, tokenB, units(1), tokenA, units(1))
	f.clock.Advance(5 * time.Second)
	o2, _ := f.x.MakeOrder(alice, tokenB, units(1), tokenA, units(1))

	if o2.Timestamp-o1.Timestamp != 5000 {
		t.Errorf("timestamp delta = %d ms, want 5000", o2.Timestamp-o1.Timestamp)
	}
}
