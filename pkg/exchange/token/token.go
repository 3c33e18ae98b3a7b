package token

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Token is the narrow capability the custody layer needs from a fungible
// asset. The exchange never touches an asset's full surface (approvals,
// minting, metadata); it only moves value in and out of its own holding.
//
// Transfer pushes from the holder bound to this capability; TransferFrom
// pulls from an owner who has pre-authorized the holder. Both must reflect
// real movement of value before returning nil.
type Token interface {
	Transfer(recipient common.Address, amount *big.Int) error
	TransferFrom(owner, recipient common.Address, amount *big.Int) error
	BalanceOf(owner common.Address) *big.Int
}
