package exchange

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/yogeshk/obex/pkg/exchange/events"
)

// Store provides Pebble-based persistence for custody balances, orders, the
// order sequence and trade history. Thread-safe: all operations go through
// the Exchange's mutex.
type Store struct {
	db        *pebble.DB
	closeOnce sync.Once
}

// balanceRecord is the persisted form of a custody entry. Token and owner
// are stored in the value as well as the key so reloads never parse keys.
type balanceRecord struct {
	Token  common.Address `json:"token"`
	Owner  common.Address `json:"owner"`
	Amount *big.Int       `json:"amount"`
}

// NewStore opens a Pebble database at the given path.
func NewStore(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize: 32 << 20,                  // 32MB memtable
		MaxOpenFiles: 1000,
		BytesPerSync: 512 << 10, // 512KB
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}

	return &Store{db: db}, nil
}

// Close closes the database. Safe to call more than once.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.db.Close() })
	return err
}

// SaveBalance persists a custody entry.
func (s *Store) SaveBalance(token, owner common.Address, amount *big.Int) error {
	data, err := json.Marshal(balanceRecord{Token: token, Owner: owner, Amount: amount})
	if err != nil {
		return fmt.Errorf("failed to marshal balance: %w", err)
	}
	if err := s.db.Set(balanceKey(token, owner), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save balance: %w", err)
	}
	return nil
}

// LoadBalances visits every persisted custody entry.
func (s *Store) LoadBalances(fn func(token, owner common.Address, amount *big.Int)) error {
	prefix := balancePrefix()
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to open balance iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var rec balanceRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue // Skip invalid entries
		}
		if rec.Amount == nil {
			rec.Amount = new(big.Int)
		}
		fn(rec.Token, rec.Owner, rec.Amount)
	}
	return nil
}

// SaveOrder persists an order record, including its status.
func (s *Store) SaveOrder(order *Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}
	if err := s.db.Set(orderKey(order.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

// LoadOrders returns every persisted order in id order.
func (s *Store) LoadOrders() ([]*Order, error) {
	prefix := orderPrefix()
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open order iterator: %w", err)
	}
	defer iter.Close()

	var orders []*Order
	for iter.First(); iter.Valid(); iter.Next() {
		var order Order
		if err := json.Unmarshal(iter.Value(), &order); err != nil {
			continue // Skip invalid entries
		}
		orders = append(orders, &order)
	}
	return orders, nil
}

// SaveOrderSeq persists the last issued order id.
func (s *Store) SaveOrderSeq(seq uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	if err := s.db.Set([]byte(keyOrderSeq), buf[:], pebble.Sync); err != nil {
		return fmt.Errorf("failed to save order seq: %w", err)
	}
	return nil
}

// LoadOrderSeq returns the last issued order id, or 0 if none was persisted.
func (s *Store) LoadOrderSeq() (uint64, error) {
	data, closer, err := s.db.Get([]byte(keyOrderSeq))
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get order seq: %w", err)
	}
	defer closer.Close()

	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt order seq: %d bytes", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// SaveTrade persists a trade record to history.
func (s *Store) SaveTrade(trade events.Trade) error {
	data, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("failed to marshal trade: %w", err)
	}
	if err := s.db.Set(tradeKey(trade.Timestamp, trade.ID), data, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	return nil
}

// LoadRecentTrades returns the most recent trades, newest first.
func (s *Store) LoadRecentTrades(limit int) ([]events.Trade, error) {
	prefix := tradePrefix()
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open trade iterator: %w", err)
	}
	defer iter.Close()

	var trades []events.Trade
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var trade events.Trade
		if err := json.Unmarshal(iter.Value(), &trade); err != nil {
			continue // Skip invalid entries
		}
		trades = append(trades, trade)
	}
	return trades, nil
}

// BatchWrite provides atomic multi-key writes. Settlement uses it so the
// five balance mutations and the completion flag commit together.
type BatchWrite struct {
	batch *pebble.Batch
}

// NewBatch creates a new batch writer.
func (s *Store) NewBatch() *BatchWrite {
	return &BatchWrite{batch: s.db.NewBatch()}
}

// SetBalance adds a custody entry write to the batch.
func (bw *BatchWrite) SetBalance(token, owner common.Address, amount *big.Int) error {
	data, err := json.Marshal(balanceRecord{Token: token, Owner: owner, Amount: amount})
	if err != nil {
		return err
	}
	return bw.batch.Set(balanceKey(token, owner), data, nil)
}

// SetOrder adds an order write to the batch.
func (bw *BatchWrite) SetOrder(order *Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return bw.batch.Set(orderKey(order.ID), data, nil)
}

// SetOrderSeq adds a sequence write to the batch.
func (bw *BatchWrite) SetOrderSeq(seq uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return bw.batch.Set([]byte(keyOrderSeq), buf[:], nil)
}

// SetTrade adds a trade history write to the batch.
func (bw *BatchWrite) SetTrade(trade events.Trade) error {
	data, err := json.Marshal(trade)
	if err != nil {
		return err
	}
	return bw.batch.Set(tradeKey(trade.Timestamp, trade.ID), data, nil)
}

// Commit writes the batch to Pebble atomically.
func (bw *BatchWrite) Commit() error {
	return bw.batch.Commit(pebble.Sync)
}

// Close discards the batch without committing.
func (bw *BatchWrite) Close() error {
	return bw.batch.Close()
}
