// Package events defines the record surface the exchange emits for
// off-chain indexers and UIs. Field sets are fixed; records are emitted in
// the same order as the operations that produced them.
package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Deposit is emitted after custody is credited.
type Deposit struct {
	Token   common.Address `json:"token"`
	User    common.Address `json:"user"`
	Amount  *big.Int       `json:"amount"`
	Balance *big.Int       `json:"balance"` // resulting custody balance
}

// Withdraw is emitted after custody is debited and the external push
// transfer has succeeded.
type Withdraw struct {
	Token   common.Address `json:"token"`
	User    common.Address `json:"user"`
	Amount  *big.Int       `json:"amount"`
	Balance *big.Int       `json:"balance"` // resulting custody balance
}

// Order is emitted when a new order is created.
type Order struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"` // creator
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  *big.Int       `json:"amountGet"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive *big.Int       `json:"amountGive"`
	Timestamp  int64          `json:"timestamp"` // unix milliseconds
}

// Cancel is emitted when the creator cancels an open order.
type Cancel struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"` // creator
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  *big.Int       `json:"amountGet"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive *big.Int       `json:"amountGive"`
	Timestamp  int64          `json:"timestamp"`
}

// Trade is emitted when an order is executed. User is the taker; Creator is
// the order's maker. Amounts are the order's full amounts (no partial fills).
type Trade struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"` // taker
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  *big.Int       `json:"amountGet"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive *big.Int       `json:"amountGive"`
	Creator    common.Address `json:"creator"`
	Timestamp  int64          `json:"timestamp"`
}

// Emitter receives every record the exchange produces, synchronously and in
// operation order. Implementations must not block the exchange for long;
// slow consumers should buffer.
type Emitter interface {
	EmitDeposit(Deposit)
	EmitWithdraw(Withdraw)
	EmitOrder(Order)
	EmitCancel(Cancel)
	EmitTrade(Trade)
}

// Nop discards all records.
type Nop struct{}

func (Nop) EmitDeposit(Deposit)   {}
func (Nop) EmitWithdraw(Withdraw) {}
func (Nop) EmitOrder(Order)       {}
func (Nop) EmitCancel(Cancel)     {}
func (Nop) EmitTrade(Trade)       {}

// Log writes every record to a structured logger.
type Log struct {
	L *zap.SugaredLogger
}

func (e Log) EmitDeposit(d Deposit) {
	e.L.Infow("deposit", "token", d.Token.Hex(), "user", d.User.Hex(), "amount", d.Amount.String(), "balance", d.Balance.String())
}

func (e Log) EmitWithdraw(w Withdraw) {
	e.L.Infow("withdraw", "token", w.Token.Hex(), "user", w.User.Hex(), "amount", w.Amount.String(), "balance", w.Balance.String())
}

func (e Log) EmitOrder(o Order) {
	e.L.Infow("order_created", "id", o.ID, "user", o.User.Hex(), "tokenGet", o.TokenGet.Hex(), "amountGet", o.AmountGet.String(), "tokenGive", o.TokenGive.Hex(), "amountGive", o.AmountGive.String())
}

func (e Log) EmitCancel(c Cancel) {
	e.L.Infow("order_cancelled", "id", c.ID, "user", c.User.Hex())
}

func (e Log) EmitTrade(t Trade) {
	e.L.Infow("trade", "id", t.ID, "taker", t.User.Hex(), "creator", t.Creator.Hex(), "amountGet", t.AmountGet.String(), "amountGive", t.AmountGive.String())
}

// Multi fans a record out to several emitters in order.
type Multi []Emitter

func (m Multi) EmitDeposit(d Deposit) {
	for _, e := range m {
		e.EmitDeposit(d)
	}
}

func (m Multi) EmitWithdraw(w Withdraw) {
	for _, e := range m {
		e.EmitWithdraw(w)
	}
}

func (m Multi) EmitOrder(o Order) {
	for _, e := range m {
		e.EmitOrder(o)
	}
}

func (m Multi) EmitCancel(c Cancel) {
	for _, e := range m {
		e.EmitCancel(c)
	}
}

func (m Multi) EmitTrade(t Trade) {
	for _, e := range m {
		e.EmitTrade(t)
	}
}

var (
	_ Emitter = Nop{}
	_ Emitter = Log{}
	_ Emitter = Multi{}
)
