package ledger

import (
	"errors"

	"github.com/dgraph-io/badger/v4"
)

// ErrKeyNotFound is returned by StateStore.Get for absent keys.
var ErrKeyNotFound = errors.New("ledger: key not found")

// StateStore is the narrow accessor over the append-only state log. Keys are
// composite-prefixed (`tx-`, `qr-`) and Scan iterates a prefix in key order.
type StateStore interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	// Scan calls fn for each key under prefix, in key order, until fn asks to
	// stop or returns an error.
	Scan(prefix string, fn func(key string, value []byte) (stop bool, err error)) error
}

// TxnStore binds a StateStore to a Badger transaction. For block execution
// this is the in-flight block transaction; for queries, a read-only one.
type TxnStore struct {
	txn *badger.Txn
}

func NewTxnStore(txn *badger.Txn) *TxnStore {
	return &TxnStore{txn: txn}
}

func (s *TxnStore) Get(key string) ([]byte, error) {
	item, err := s.txn.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (s *TxnStore) Set(key string, value []byte) error {
	return s.txn.Set([]byte(key), value)
}

func (s *TxnStore) Delete(key string) error {
	return s.txn.Delete([]byte(key))
}

func (s *TxnStore) Scan(prefix string, fn func(key string, value []byte) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := s.txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		stop, err := fn(string(item.KeyCopy(nil)), value)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return nil
}
