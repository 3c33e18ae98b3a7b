// Package exchange implements the custodial order-book exchange core:
// custody balance accounting, order lifecycle (make/cancel/execute) and fee
// settlement. All state-changing operations are serialized behind a single
// mutex, so every operation commits or rolls back in full before the next
// one observes anything.
package exchange

import (
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yogeshk/obex/pkg/exchange/events"
	"github.com/yogeshk/obex/pkg/exchange/ledger"
	"github.com/yogeshk/obex/pkg/exchange/token"
	"github.com/yogeshk/obex/pkg/util"
)

// Config carries the deployment-time parameters of an Exchange.
type Config struct {
	// Custody is the exchange's own address on the underlying tokens: the
	// recipient of deposit pulls and the sender of withdrawal pushes.
	Custody common.Address

	// FeeAccount receives execution fees. Fixed for the exchange lifetime.
	FeeAccount common.Address

	// FeePercent is the taker fee in whole percent (10 = 10%).
	FeePercent int64

	Registry *token.Registry
	Store    *Store

	// Emitter receives the record stream. Defaults to events.Nop.
	Emitter events.Emitter

	// Clock supplies order/trade timestamps. Defaults to util.RealClock.
	Clock util.Clock
}

// Exchange is the order engine plus the custody ledger it mediates. No
// external actor mutates the ledger or the order records directly; every
// mutation goes through an Exchange operation.
type Exchange struct {
	mu sync.RWMutex

	custody    common.Address
	feeAccount common.Address
	feePercent *big.Int

	registry *token.Registry
	ledger   *ledger.Ledger
	store    *Store

	orders map[uint64]*Order
	seq    uint64 // last issued order id; ids start at 1

	emitter events.Emitter
	clock   util.Clock
}

// New builds an Exchange and reloads any persisted state from its store.
func New(cfg Config) (*Exchange, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.FeePercent < 0 || cfg.FeePercent > 100 {
		return nil, fmt.Errorf("fee percent out of range: %d", cfg.FeePercent)
	}
	if cfg.Emitter == nil {
		cfg.Emitter = events.Nop{}
	}
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}

	x := &Exchange{
		custody:    cfg.Custody,
		feeAccount: cfg.FeeAccount,
		feePercent: big.NewInt(cfg.FeePercent),
		registry:   cfg.Registry,
		ledger:     ledger.New(),
		store:      cfg.Store,
		orders:     make(map[uint64]*Order),
		emitter:    cfg.Emitter,
		clock:      cfg.Clock,
	}

	if err := x.reload(); err != nil {
		return nil, fmt.Errorf("failed to reload state: %w", err)
	}
	return x, nil
}

// reload rebuilds in-memory state from the store.
func (x *Exchange) reload() error {
	if err := x.store.LoadBalances(func(tok, owner common.Address, amount *big.Int) {
		x.ledger.Set(tok, owner, amount)
	}); err != nil {
		return err
	}

	orders, err := x.store.LoadOrders()
	if err != nil {
		return err
	}
	for _, o := range orders {
		x.orders[o.ID] = o
	}

	seq, err := x.store.LoadOrderSeq()
	if err != nil {
		return err
	}
	x.seq = seq
	return nil
}

// Close closes the underlying store.
func (x *Exchange) Close() error {
	return x.store.Close()
}

// FeeAccount returns the fixed fee recipient.
func (x *Exchange) FeeAccount() common.Address { return x.feeAccount }

// FeePercent returns the taker fee in whole percent.
func (x *Exchange) FeePercent() int64 { return x.feePercent.Int64() }

// Deposit pulls amount of tok from the caller's external holding into
// custody. The caller must have approved the exchange's custody address on
// the token beforehand; a rejected pull fails with ErrTransferFailed and
// leaves the ledger untouched.
func (x *Exchange) Deposit(tok, from common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	capability, ok := x.registry.Get(tok)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, tok.Hex())
	}

	if err := capability.TransferFrom(from, x.custody, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	x.ledger.Credit(tok, from, amount)
	balance := x.ledger.Balance(tok, from)

	if err := x.store.SaveBalance(tok, from, balance); err != nil {
		return err
	}

	x.emitter.EmitDeposit(events.Deposit{Token: tok, User: from, Amount: new(big.Int).Set(amount), Balance: balance})
	return nil
}

// Withdraw pushes amount of tok from custody back to the caller. The ledger
// is debited before the external transfer, so a reentrant balance read can
// never observe the old credit; a rejected push restores the debit.
func (x *Exchange) Withdraw(tok, from common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	capability, ok := x.registry.Get(tok)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, tok.Hex())
	}

	if err := x.ledger.Debit(tok, from, amount); err != nil {
		return fmt.Errorf("%w: withdraw %s", ErrInsufficientBalance, amount.String())
	}

	if err := capability.Transfer(from, amount); err != nil {
		x.ledger.Credit(tok, from, amount)
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	balance := x.ledger.Balance(tok, from)
	if err := x.store.SaveBalance(tok, from, balance); err != nil {
		return err
	}

	x.emitter.EmitWithdraw(events.Withdraw{Token: tok, User: from, Amount: new(big.Int).Set(amount), Balance: balance})
	return nil
}

// BalanceOf returns the custody balance for (token, owner).
func (x *Exchange) BalanceOf(tok, owner common.Address) *big.Int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.ledger.Balance(tok, owner)
}

// MakeOrder posts a limit order offering amountGive of tokenGive for
// amountGet of tokenGet. The creator must hold at least amountGive in
// custody right now, but nothing is escrowed: the balance is re-checked,
// not reserved, at execution time. Posting then withdrawing is an accepted
// race that surfaces as ErrInsufficientBalance for the eventual taker.
func (x *Exchange) MakeOrder(creator, tokenGet common.Address, amountGet *big.Int, tokenGive common.Address, amountGive *big.Int) (*Order, error) {
	if err := checkAmount(amountGet); err != nil {
		return nil, err
	}
	if err := checkAmount(amountGive); err != nil {
		return nil, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if !x.ledger.Covers(tokenGive, creator, amountGive) {
		return nil, fmt.Errorf("%w: need %s of %s", ErrInsufficientBalance, amountGive.String(), tokenGive.Hex())
	}

	o := &Order{
		ID:         x.seq + 1,
		Creator:    creator,
		TokenGet:   tokenGet,
		AmountGet:  new(big.Int).Set(amountGet),
		TokenGive:  tokenGive,
		AmountGive: new(big.Int).Set(amountGive),
		Timestamp:  x.clock.Now().UnixMilli(),
		Status:     OrderOpen,
	}

	// Persist order and sequence together; memory is touched only after the
	// commit so a storage failure leaves no trace of the order.
	batch := x.store.NewBatch()
	defer batch.Close()
	if err := batch.SetOrder(o); err != nil {
		return nil, err
	}
	if err := batch.SetOrderSeq(o.ID); err != nil {
		return nil, err
	}
	if err := batch.Commit(); err != nil {
		return nil, fmt.Errorf("failed to persist order: %w", err)
	}

	x.seq = o.ID
	x.orders[o.ID] = o

	x.emitter.EmitOrder(events.Order{
		ID:         o.ID,
		User:       o.Creator,
		TokenGet:   o.TokenGet,
		AmountGet:  new(big.Int).Set(o.AmountGet),
		TokenGive:  o.TokenGive,
		AmountGive: new(big.Int).Set(o.AmountGive),
		Timestamp:  o.Timestamp,
	})
	return o.clone(), nil
}

// CancelOrder moves an open order to Cancelled. Only the creator may
// cancel; terminal orders stay terminal. No balances change.
func (x *Exchange) CancelOrder(caller common.Address, id uint64) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	o, ok := x.orders[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}
	if o.Creator != caller {
		return fmt.Errorf("%w: order %d belongs to %s", ErrUnauthorized, id, o.Creator.Hex())
	}
	if o.Status != OrderOpen {
		return fmt.Errorf("%w: order %d is %s", ErrAlreadyFinalized, id, o.Status)
	}

	cancelled := *o
	cancelled.Status = OrderCancelled
	if err := x.store.SaveOrder(&cancelled); err != nil {
		return fmt.Errorf("failed to persist cancel: %w", err)
	}
	o.Status = OrderCancelled

	x.emitter.EmitCancel(events.Cancel{
		ID:         o.ID,
		User:       o.Creator,
		TokenGet:   o.TokenGet,
		AmountGet:  new(big.Int).Set(o.AmountGet),
		TokenGive:  o.TokenGive,
		AmountGive: new(big.Int).Set(o.AmountGive),
		Timestamp:  x.clock.Now().UnixMilli(),
	})
	return nil
}

// ExecuteOrder fills an open order as the taker. The creator's give-side
// balance is re-checked now (this is where the deferred-funding race
// surfaces), the taker pays amountGet plus the fee in tokenGet, and all
// five ledger mutations plus the completion flag land atomically: either
// the whole trade settles or no balance moves.
func (x *Exchange) ExecuteOrder(taker common.Address, id uint64) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	o, ok := x.orders[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}
	if o.Status != OrderOpen {
		return fmt.Errorf("%w: order %d is %s", ErrAlreadyFinalized, id, o.Status)
	}

	// fee = floor(amountGet * feePercent / 100), charged to the taker in the
	// get token. Truncation means tiny orders can carry a zero fee.
	fee := new(big.Int).Mul(o.AmountGet, x.feePercent)
	fee.Div(fee, big.NewInt(100))
	cost := new(big.Int).Add(o.AmountGet, fee)

	if !x.ledger.Covers(o.TokenGive, o.Creator, o.AmountGive) {
		return fmt.Errorf("%w: creator cannot honor order %d", ErrInsufficientBalance, id)
	}
	if !x.ledger.Covers(o.TokenGet, taker, cost) {
		return fmt.Errorf("%w: taker needs %s of %s", ErrInsufficientBalance, cost.String(), o.TokenGet.Hex())
	}

	// Snapshot every touched entry so any failure below restores the exact
	// prior state, even when creator/taker or the two tokens coincide.
	snap := x.snapshotBalances([]balanceEntry{
		{o.TokenGive, o.Creator},
		{o.TokenGive, taker},
		{o.TokenGet, taker},
		{o.TokenGet, o.Creator},
		{o.TokenGet, x.feeAccount},
	})

	if err := x.ledger.Move(o.TokenGive, o.Creator, taker, o.AmountGive); err != nil {
		x.restoreBalances(snap)
		return fmt.Errorf("%w: creator cannot honor order %d", ErrInsufficientBalance, id)
	}
	if err := x.ledger.Debit(o.TokenGet, taker, cost); err != nil {
		x.restoreBalances(snap)
		return fmt.Errorf("%w: taker needs %s of %s", ErrInsufficientBalance, cost.String(), o.TokenGet.Hex())
	}
	x.ledger.Credit(o.TokenGet, o.Creator, o.AmountGet)
	x.ledger.Credit(o.TokenGet, x.feeAccount, fee)

	trade := events.Trade{
		ID:         o.ID,
		User:       taker,
		TokenGet:   o.TokenGet,
		AmountGet:  new(big.Int).Set(o.AmountGet),
		TokenGive:  o.TokenGive,
		AmountGive: new(big.Int).Set(o.AmountGive),
		Creator:    o.Creator,
		Timestamp:  x.clock.Now().UnixMilli(),
	}

	completed := *o
	completed.Status = OrderCompleted

	batch := x.store.NewBatch()
	defer batch.Close()
	for entry := range snap {
		if err := batch.SetBalance(entry.token, entry.owner, x.ledger.Balance(entry.token, entry.owner)); err != nil {
			x.restoreBalances(snap)
			return err
		}
	}
	if err := batch.SetOrder(&completed); err != nil {
		x.restoreBalances(snap)
		return err
	}
	if err := batch.SetTrade(trade); err != nil {
		x.restoreBalances(snap)
		return err
	}
	if err := batch.Commit(); err != nil {
		x.restoreBalances(snap)
		return fmt.Errorf("failed to persist trade: %w", err)
	}

	o.Status = OrderCompleted
	x.emitter.EmitTrade(trade)
	return nil
}

type balanceEntry struct {
	token common.Address
	owner common.Address
}

// snapshotBalances copies the current value of each distinct entry.
func (x *Exchange) snapshotBalances(entries []balanceEntry) map[balanceEntry]*big.Int {
	snap := make(map[balanceEntry]*big.Int, len(entries))
	for _, e := range entries {
		if _, ok := snap[e]; !ok {
			snap[e] = x.ledger.Balance(e.token, e.owner)
		}
	}
	return snap
}

func (x *Exchange) restoreBalances(snap map[balanceEntry]*big.Int) {
	for e, amount := range snap {
		x.ledger.Set(e.token, e.owner, amount)
	}
}

// OrderCount returns how many orders have ever been created. Ids issued so
// far are exactly 1..OrderCount().
func (x *Exchange) OrderCount() uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.seq
}

// Order returns a copy of an order by id.
func (x *Exchange) Order(id uint64) (*Order, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	o, ok := x.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}
	return o.clone(), nil
}

// OrderCancelled reports whether an order was cancelled. False for ids
// never issued.
func (x *Exchange) OrderCancelled(id uint64) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()

	o, ok := x.orders[id]
	return ok && o.Status == OrderCancelled
}

// OrderCompleted reports whether an order was executed. False for ids never
// issued.
func (x *Exchange) OrderCompleted(id uint64) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()

	o, ok := x.orders[id]
	return ok && o.Status == OrderCompleted
}

// OpenOrders returns copies of all open orders in id order.
func (x *Exchange) OpenOrders() []*Order {
	x.mu.RLock()
	defer x.mu.RUnlock()

	orders := make([]*Order, 0)
	for _, o := range x.orders {
		if o.Status == OrderOpen {
			orders = append(orders, o.clone())
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	return orders
}

// RecentTrades returns up to limit trades, newest first.
func (x *Exchange) RecentTrades(limit int) ([]events.Trade, error) {
	return x.store.LoadRecentTrades(limit)
}

// checkAmount rejects nil and non-positive amounts.
func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	return nil
}
