// Package ledger implements the custody ledger: per-token, per-user balance
// accounting for funds held by the exchange. It is a plain data structure;
// thread safety comes from the Exchange's single-writer mutex, the same way
// the storage layer relies on its manager's lock.
package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger maps (token, owner) to the amount held in custody. Entries are
// created implicitly on first credit and never removed; a zero balance is a
// valid terminal value. The ledger never goes negative: Debit fails instead.
type Ledger struct {
	balances map[common.Address]map[common.Address]*big.Int // token -> owner -> amount
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		balances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Balance returns the custody balance for (token, owner). Returns a copy.
func (l *Ledger) Balance(token, owner common.Address) *big.Int {
	if bal, ok := l.balances[token][owner]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// Credit adds amount to (token, owner), creating the entry if needed.
func (l *Ledger) Credit(token, owner common.Address, amount *big.Int) {
	entries, ok := l.balances[token]
	if !ok {
		entries = make(map[common.Address]*big.Int)
		l.balances[token] = entries
	}
	bal, ok := entries[owner]
	if !ok {
		bal = new(big.Int)
		entries[owner] = bal
	}
	bal.Add(bal, amount)
}

// Debit subtracts amount from (token, owner). Fails without mutation if the
// entry would go negative.
func (l *Ledger) Debit(token, owner common.Address, amount *big.Int) error {
	bal, ok := l.balances[token][owner]
	if !ok || bal.Cmp(amount) < 0 {
		return fmt.Errorf("custody balance too low: token=%s owner=%s", token.Hex(), owner.Hex())
	}
	bal.Sub(bal, amount)
	return nil
}

// Covers reports whether (token, owner) holds at least amount.
func (l *Ledger) Covers(token, owner common.Address, amount *big.Int) bool {
	bal, ok := l.balances[token][owner]
	return ok && bal.Cmp(amount) >= 0
}

// Move shifts amount from one owner to another within the same token.
// Callers must have verified coverage; Move fails without mutation otherwise.
func (l *Ledger) Move(token, from, to common.Address, amount *big.Int) error {
	if err := l.Debit(token, from, amount); err != nil {
		return err
	}
	l.Credit(token, to, amount)
	return nil
}

// Set overwrites an entry. Used when reloading persisted state.
func (l *Ledger) Set(token, owner common.Address, amount *big.Int) {
	entries, ok := l.balances[token]
	if !ok {
		entries = make(map[common.Address]*big.Int)
		l.balances[token] = entries
	}
	entries[owner] = new(big.Int).Set(amount)
}

// Each visits every entry. Iteration order is unspecified.
func (l *Ledger) Each(fn func(token, owner common.Address, amount *big.Int)) {
	for token, entries := range l.balances {
		for owner, bal := range entries {
			fn(token, owner, new(big.Int).Set(bal))
		}
	}
}

// TokenTotal returns the sum of all entries for a token. The custody
// invariant is that this never exceeds the token balance physically held by
// the exchange's custody address.
func (l *Ledger) TokenTotal(token common.Address) *big.Int {
	total := new(big.Int)
	for _, bal := range l.balances[token] {
		total.Add(total, bal)
	}
	return total
}
