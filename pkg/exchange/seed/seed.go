// Package seed populates a fresh devnet exchange with demo tokens,
// deposits and order activity so indexers and UIs have data to render.
package seed

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/yogeshk/obex/pkg/exchange"
	"github.com/yogeshk/obex/pkg/exchange/token"
)

var (
	knAddr   = common.HexToAddress("0x1000000000000000000000000000000000000001")
	fethAddr = common.HexToAddress("0x1000000000000000000000000000000000000002")
	fdaiAddr = common.HexToAddress("0x1000000000000000000000000000000000000003")

	user1 = common.HexToAddress("0xA100000000000000000000000000000000000001")
	user2 = common.HexToAddress("0xA200000000000000000000000000000000000002")
)

// units converts whole tokens to the 18-decimal smallest unit.
func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

// Run registers three demo tokens, funds two users, deposits into custody
// and seeds a cancelled order, two filled orders and a handful of open ones.
// Idempotence is not attempted; run only against an empty database.
func Run(x *exchange.Exchange, registry *token.Registry, custody common.Address, log *zap.SugaredLogger) error {
	kn := token.NewERC20("KN Token", "KNT", 18)
	feth := token.NewERC20("Fake ETH", "fETH", 18)
	fdai := token.NewERC20("Fake DAI", "fDAI", 18)

	for _, reg := range []struct {
		addr common.Address
		tok  *token.ERC20
	}{
		{knAddr, kn}, {fethAddr, feth}, {fdaiAddr, fdai},
	} {
		info := token.Info{Name: reg.tok.Name, Symbol: reg.tok.Symbol, Decimals: reg.tok.Decimals}
		if err := registry.Register(reg.addr, reg.tok.Bind(custody), info); err != nil {
			return fmt.Errorf("failed to register %s: %w", reg.tok.Symbol, err)
		}
	}

	// Distribute supply
	supply := units(1_000_000)
	if err := kn.Mint(user1, supply); err != nil {
		return err
	}
	if err := feth.Mint(user2, supply); err != nil {
		return err
	}
	if err := fdai.Mint(user1, supply); err != nil {
		return err
	}

	// Approve and deposit into custody
	amount := units(10_000)
	for _, dep := range []struct {
		tok  *token.ERC20
		addr common.Address
		user common.Address
	}{
		{kn, knAddr, user1}, {feth, fethAddr, user2},
	} {
		if err := dep.tok.Approve(dep.user, custody, amount); err != nil {
			return err
		}
		if err := x.Deposit(dep.addr, dep.user, amount); err != nil {
			return fmt.Errorf("seed deposit failed: %w", err)
		}
	}

	// A made-then-cancelled order
	o, err := x.MakeOrder(user1, fethAddr, units(100), knAddr, units(5))
	if err != nil {
		return err
	}
	if err := x.CancelOrder(user1, o.ID); err != nil {
		return err
	}

	// Filled orders
	for _, ord := range []struct{ get, give int64 }{
		{100, 10}, {50, 15}, {200, 20},
	} {
		o, err := x.MakeOrder(user1, fethAddr, units(ord.get), knAddr, units(ord.give))
		if err != nil {
			return err
		}
		if err := x.ExecuteOrder(user2, o.ID); err != nil {
			return fmt.Errorf("seed execute failed: %w", err)
		}
	}

	// Open orders from both sides
	for i := int64(1); i <= 5; i++ {
		if _, err := x.MakeOrder(user1, fethAddr, units(10*i), knAddr, units(10)); err != nil {
			return err
		}
		if _, err := x.MakeOrder(user2, knAddr, units(10), fethAddr, units(10*i)); err != nil {
			return err
		}
	}

	log.Infow("devnet_seeded",
		"tokens", 3,
		"orders", x.OrderCount(),
		"user1", user1.Hex(),
		"user2", user2.Hex(),
	)
	return nil
}
