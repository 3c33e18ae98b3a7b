package token

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry maps token addresses to their capabilities in a thread-safe
// manner. The custody layer resolves deposits and withdrawals through it,
// so only registered assets can enter custody.
type Registry struct {
	mu     sync.RWMutex
	tokens map[common.Address]Token // token address -> capability
	meta   map[common.Address]Info  // token address -> display metadata
}

// Info is optional display metadata for a registered token.
type Info struct {
	Address  common.Address `json:"address"`
	Name     string         `json:"name"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

// NewRegistry creates an empty token registry.
func NewRegistry() *Registry {
	return &Registry{
		tokens: make(map[common.Address]Token),
		meta:   make(map[common.Address]Info),
	}
}

// Register adds a token capability under its address.
// Returns error if the address is already registered.
func (r *Registry) Register(addr common.Address, tok Token, info Info) error {
	if tok == nil {
		return fmt.Errorf("cannot register nil token")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tokens[addr]; exists {
		return fmt.Errorf("token %s already registered", addr.Hex())
	}

	info.Address = addr
	r.tokens[addr] = tok
	r.meta[addr] = info
	return nil
}

// Get retrieves a token capability by address.
func (r *Registry) Get(addr common.Address) (Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tok, exists := r.tokens[addr]
	return tok, exists
}

// List returns metadata for all registered tokens.
// Returns a copy of the slice to avoid concurrent modification.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.meta))
	for _, info := range r.meta {
		infos = append(infos, info)
	}
	return infos
}
