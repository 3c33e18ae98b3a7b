package token

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ERC20 is an in-memory fungible token with ERC20-style semantics:
// balances, allowances, transfer/approve/transferFrom. Since there is no
// implicit msg.sender, every state-changing method takes the caller
// explicitly as its first argument.
//
// Used by the devnet seeder and tests as a conforming Token capability
// (see Bind). All amounts are in the token's smallest unit.
type ERC20 struct {
	mu sync.RWMutex

	Name     string
	Symbol   string
	Decimals uint8

	totalSupply *big.Int
	balances    map[common.Address]*big.Int
	allowances  map[common.Address]map[common.Address]*big.Int
}

// NewERC20 creates a token with zero supply. Use Mint to seed balances.
func NewERC20(name, symbol string, decimals uint8) *ERC20 {
	return &ERC20{
		Name:        name,
		Symbol:      symbol,
		Decimals:    decimals,
		totalSupply: new(big.Int),
		balances:    make(map[common.Address]*big.Int),
		allowances:  make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Mint credits newly issued supply to an address.
func (t *ERC20) Mint(to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("mint amount must be non-negative")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalSupply.Add(t.totalSupply, amount)
	t.credit(to, amount)
	return nil
}

// TotalSupply returns the total issued supply.
func (t *ERC20) TotalSupply() *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.totalSupply)
}

// BalanceOf returns the balance of an address. Returns a copy.
func (t *ERC20) BalanceOf(owner common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if bal, ok := t.balances[owner]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// Transfer moves amount from caller to recipient.
func (t *ERC20) Transfer(caller, recipient common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("transfer amount must be non-negative")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.debit(caller, amount); err != nil {
		return err
	}
	t.credit(recipient, amount)
	return nil
}

// Approve sets spender's allowance over caller's tokens.
func (t *ERC20) Approve(caller, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("approve amount must be non-negative")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.allowances[caller] == nil {
		t.allowances[caller] = make(map[common.Address]*big.Int)
	}
	t.allowances[caller][spender] = new(big.Int).Set(amount)
	return nil
}

// Allowance returns how much spender may still move from owner.
func (t *ERC20) Allowance(owner, spender common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if a, ok := t.allowances[owner][spender]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// TransferFrom moves amount from owner to recipient, spending caller's
// allowance. Fails if the allowance or the owner's balance is short.
func (t *ERC20) TransferFrom(caller, owner, recipient common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("transfer amount must be non-negative")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	allowance, ok := t.allowances[owner][caller]
	if !ok || allowance.Cmp(amount) < 0 {
		return fmt.Errorf("allowance too low: owner=%s spender=%s", owner.Hex(), caller.Hex())
	}

	if err := t.debit(owner, amount); err != nil {
		return err
	}
	allowance.Sub(allowance, amount)
	t.credit(recipient, amount)
	return nil
}

// debit assumes the lock is held.
func (t *ERC20) debit(addr common.Address, amount *big.Int) error {
	bal, ok := t.balances[addr]
	if !ok || bal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient token balance: %s", addr.Hex())
	}
	bal.Sub(bal, amount)
	return nil
}

// credit assumes the lock is held.
func (t *ERC20) credit(addr common.Address, amount *big.Int) {
	bal, ok := t.balances[addr]
	if !ok {
		bal = new(big.Int)
		t.balances[addr] = bal
	}
	bal.Add(bal, amount)
}

// Bound adapts an ERC20 to the Token capability from a fixed holder's point
// of view: Transfer pushes out of the holder, TransferFrom pulls with the
// holder as the approved spender. The holder is the exchange's own custody
// address.
type Bound struct {
	t      *ERC20
	holder common.Address
}

// Bind fixes the acting holder for the capability methods.
func (t *ERC20) Bind(holder common.Address) *Bound {
	return &Bound{t: t, holder: holder}
}

func (b *Bound) Transfer(recipient common.Address, amount *big.Int) error {
	return b.t.Transfer(b.holder, recipient, amount)
}

func (b *Bound) TransferFrom(owner, recipient common.Address, amount *big.Int) error {
	return b.t.TransferFrom(b.holder, owner, recipient, amount)
}

func (b *Bound) BalanceOf(owner common.Address) *big.Int {
	return b.t.BalanceOf(owner)
}

var _ Token = (*Bound)(nil)
