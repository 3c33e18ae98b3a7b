package exchange

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// OrderStatus is the lifecycle state of an order.
// Open -> Cancelled or Open -> Completed; terminal states are final.
// A single enum (rather than two booleans) makes "cancelled and completed at
// once" unrepresentable.
type OrderStatus int8

const (
	OrderOpen OrderStatus = iota
	OrderCancelled
	OrderCompleted
)

func (s OrderStatus) String() string {
	switch s {
	case OrderOpen:
		return "open"
	case OrderCancelled:
		return "cancelled"
	case OrderCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Order is a bilateral limit order: the creator offers AmountGive of
// TokenGive in exchange for AmountGet of TokenGet. The record is immutable
// after creation except for its Status. Nothing is escrowed at creation;
// the creator's custody balance is re-checked at execution time.
type Order struct {
	ID         uint64         `json:"id"` // sequential from 1, never reused
	Creator    common.Address `json:"creator"`
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  *big.Int       `json:"amountGet"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive *big.Int       `json:"amountGive"`
	Timestamp  int64          `json:"timestamp"` // creation time, unix milliseconds
	Status     OrderStatus    `json:"status"`
}

// clone returns a copy safe to hand out; amounts are copied so callers
// cannot alias the engine's state.
func (o *Order) clone() *Order {
	c := *o
	c.AmountGet = new(big.Int).Set(o.AmountGet)
	c.AmountGive = new(big.Int).Set(o.AmountGive)
	return &c
}
