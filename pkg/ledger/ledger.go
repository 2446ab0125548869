// Package ledger keeps the append-only sequence of committed rollup blocks.
// Blocks are immutable once appended; the only mutation the ledger permits
// is the one-shot terminal status transition driven by challenge resolution.
package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	"go.uber.org/multierr"
	"golang.org/x/crypto/sha3"

	"github.com/optimisticlabs/optimistic-rollup-go/pkg/codec"
	"github.com/optimisticlabs/optimistic-rollup-go/pkg/vm"
)

var (
	ErrNotFound          = errors.New("block not found")
	ErrInvalidTransition = errors.New("invalid block status transition")
)

// BlockStatus tracks a block through its lifecycle. A freshly submitted
// block is disputable; Finalized and Reverted are terminal.
type BlockStatus uint8

const (
	StatusSubmitted BlockStatus = iota
	StatusFinalized
	StatusReverted
)

func (s BlockStatus) String() string {
	switch s {
	case StatusSubmitted:
		return "submitted"
	case StatusFinalized:
		return "finalized"
	case StatusReverted:
		return "reverted"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Block is one committed batch together with the submitter's claimed final
// state root. Transactions are kept in wire-codec form; BatchAcc is the
// keccak accumulator chaining the encoded batch.
type Block struct {
	Index       uint64
	Submitter   common.Address
	RawTxs      [][]byte
	ClaimedRoot common.Hash
	BatchAcc    common.Hash

	// Status is stored out of band so the appended block blob never changes.
	Status BlockStatus `rlp:"-"`
}

// Transactions decodes the block's batch back into VM transactions.
func (b *Block) Transactions() ([]vm.Transaction, error) {
	return codec.DecodeBatch(b.RawTxs)
}

var (
	blockPrefix  = [1]byte{1}
	statusPrefix = [1]byte{2}
	countKey     = []byte{3}
)

func blockKey(index uint64) []byte {
	buf := make([]byte, 9)
	buf[0] = blockPrefix[0]
	binary.BigEndian.PutUint64(buf[1:], index)
	return buf
}

func statusKey(index uint64) []byte {
	buf := make([]byte, 9)
	buf[0] = statusPrefix[0]
	binary.BigEndian.PutUint64(buf[1:], index)
	return buf
}

// Ledger serializes all state-changing calls behind one mutex, so callers
// never need their own locking around submit and status updates.
type Ledger struct {
	db     KVStore
	logger log.Logger

	mtx   sync.RWMutex
	count uint64
}

// Open wraps a KVStore and recovers the block count persisted in it.
func Open(db KVStore) (*Ledger, error) {
	l := &Ledger{db: db, logger: log.New("service", "ledger")}
	raw, err := db.Get(countKey)
	switch {
	case errors.Is(err, ErrKeyNotFound):
		l.count = 0
	case err != nil:
		return nil, fmt.Errorf("failed to load block count: %w", err)
	case len(raw) != 8:
		return nil, fmt.Errorf("corrupt block count entry (%d bytes)", len(raw))
	default:
		l.count = binary.BigEndian.Uint64(raw)
	}
	return l, nil
}

// BlockCount returns the number of appended blocks.
func (l *Ledger) BlockCount() uint64 {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	return l.count
}

// SubmitBlock appends a new block and returns its index. Correctness of the
// claimed root is not verified here; verification happens only if the block
// is challenged.
func (l *Ledger) SubmitBlock(submitter common.Address, txs []vm.Transaction, claimedRoot common.Hash) (uint64, error) {
	raws, err := codec.EncodeBatch(txs)
	if err != nil {
		return 0, err
	}

	l.mtx.Lock()
	defer l.mtx.Unlock()

	block := &Block{
		Index:       l.count,
		Submitter:   submitter,
		RawTxs:      raws,
		ClaimedRoot: claimedRoot,
		BatchAcc:    batchAccumulator(raws),
	}
	blob, err := rlp.EncodeToBytes(block)
	if err != nil {
		return 0, err
	}

	countBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(countBuf, block.Index+1)

	err = multierr.Append(err, l.db.Set(blockKey(block.Index), blob))
	err = multierr.Append(err, l.db.Set(statusKey(block.Index), []byte{byte(StatusSubmitted)}))
	err = multierr.Append(err, l.db.Set(countKey, countBuf))
	if err != nil {
		return 0, err
	}

	l.count = block.Index + 1
	l.logger.Info("block submitted", "index", block.Index, "txs", len(raws),
		"claimedRoot", block.ClaimedRoot.Hex(), "submitter", submitter.Hex())
	return block.Index, nil
}

// GetBlock loads the block at index, including its current status.
func (l *Ledger) GetBlock(index uint64) (*Block, error) {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	return l.getBlock(index)
}

func (l *Ledger) getBlock(index uint64) (*Block, error) {
	if index >= l.count {
		return nil, fmt.Errorf("%w: index %d, count %d", ErrNotFound, index, l.count)
	}
	blob, err := l.db.Get(blockKey(index))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: index %d", ErrNotFound, index)
	}
	if err != nil {
		return nil, err
	}
	block := new(Block)
	if err := rlp.DecodeBytes(blob, block); err != nil {
		return nil, fmt.Errorf("corrupt block %d: %w", index, err)
	}
	status, err := l.getStatus(index)
	if err != nil {
		return nil, err
	}
	block.Status = status
	return block, nil
}

// Transactions decodes the batch of the block at index.
func (l *Ledger) Transactions(index uint64) ([]vm.Transaction, error) {
	block, err := l.GetBlock(index)
	if err != nil {
		return nil, err
	}
	return block.Transactions()
}

func (l *Ledger) getStatus(index uint64) (BlockStatus, error) {
	raw, err := l.db.Get(statusKey(index))
	if errors.Is(err, ErrKeyNotFound) {
		return 0, fmt.Errorf("%w: index %d", ErrNotFound, index)
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 1 {
		return 0, fmt.Errorf("corrupt status entry for block %d", index)
	}
	return BlockStatus(raw[0]), nil
}

// MarkFinalized records a DefenderWins resolution for the block at index.
func (l *Ledger) MarkFinalized(index uint64) error {
	return l.setTerminalStatus(index, StatusFinalized)
}

// MarkReverted records a ChallengerWins resolution for the block at index.
func (l *Ledger) MarkReverted(index uint64) error {
	return l.setTerminalStatus(index, StatusReverted)
}

func (l *Ledger) setTerminalStatus(index uint64, status BlockStatus) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	if index >= l.count {
		return fmt.Errorf("%w: index %d, count %d", ErrNotFound, index, l.count)
	}
	current, err := l.getStatus(index)
	if err != nil {
		return err
	}
	if current != StatusSubmitted {
		return fmt.Errorf("%w: block %d is already %s", ErrInvalidTransition, index, current)
	}
	if err := l.db.Set(statusKey(index), []byte{byte(status)}); err != nil {
		return err
	}
	l.logger.Info("block status updated", "index", index, "status", status.String())
	return nil
}

// batchAccumulator chains keccak over the encoded transactions, the same
// shape as a sequencer inbox accumulator: acc' = keccak(acc || keccak(tx)).
func batchAccumulator(raws [][]byte) common.Hash {
	var acc common.Hash
	for _, raw := range raws {
		var leaf common.Hash
		h := sha3.NewLegacyKeccak256()
		h.Write(raw)
		h.Sum(leaf[:0])

		h = sha3.NewLegacyKeccak256()
		h.Write(acc[:])
		h.Write(leaf[:])
		h.Sum(acc[:0])
	}
	return acc
}
