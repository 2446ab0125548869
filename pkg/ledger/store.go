package ledger

import (
	"errors"

	"github.com/dgraph-io/badger/v3"
)

// ErrKeyNotFound is returned when a key is absent from the KVStore.
var ErrKeyNotFound = errors.New("key not found")

// KVStore is the minimal key-value abstraction the ledger persists through.
//
// Implementations MUST be thread safe.
type KVStore interface {
	Get(key []byte) ([]byte, error)
	Set(key []byte, value []byte) error
	Close() error
}

var _ KVStore = &BadgerKV{}

// BadgerKV implements KVStore on top of Badger v3.
type BadgerKV struct {
	db *badger.DB
}

// NewBadgerKV opens (or creates) a Badger database at path.
func NewBadgerKV(path string) (*BadgerKV, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, err
	}
	return &BadgerKV{db: db}, nil
}

// NewInMemoryKV builds a KVStore that never touches disk.
func NewInMemoryKV() *BadgerKV {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		panic(err)
	}
	return &BadgerKV{db: db}
}

// Get returns the value stored under key, or ErrKeyNotFound.
func (b *BadgerKV) Get(key []byte) ([]byte, error) {
	txn := b.db.NewTransaction(false)
	defer txn.Discard()
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

// Set stores value under key.
func (b *BadgerKV) Set(key []byte, value []byte) error {
	txn := b.db.NewTransaction(true)
	if err := txn.Set(key, value); err != nil {
		txn.Discard()
		return err
	}
	return txn.Commit()
}

// Close releases the underlying database.
func (b *BadgerKV) Close() error {
	return b.db.Close()
}
