package ledger

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optimisticlabs/optimistic-rollup-go/pkg/vm"
)

var (
	submitter = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

	demoBatch = []vm.Transaction{
		vm.NewTransaction(vm.KindAdd, 10),
		vm.NewTransaction(vm.KindMultiply, 2),
		vm.NewTransaction(vm.KindAdd, 5),
	}
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	db := NewInMemoryKV()
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	l, err := Open(db)
	require.NoError(t, err)
	return l
}

func TestSubmitAndGet(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)

	root := vm.FinalRoot(demoBatch)
	index, err := l.SubmitBlock(submitter, demoBatch, root)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), index)
	assert.Equal(t, uint64(1), l.BlockCount())

	second, err := l.SubmitBlock(submitter, nil, vm.ZeroRoot)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), second)
	assert.Equal(t, uint64(2), l.BlockCount())

	block, err := l.GetBlock(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), block.Index)
	assert.Equal(t, submitter, block.Submitter)
	assert.Equal(t, root, block.ClaimedRoot)
	assert.Equal(t, StatusSubmitted, block.Status)

	decoded, err := block.Transactions()
	require.NoError(t, err)
	assert.Equal(t, demoBatch, decoded)

	viaLedger, err := l.Transactions(0)
	require.NoError(t, err)
	assert.Equal(t, demoBatch, viaLedger)
}

func TestGetBlockNotFound(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)

	_, err := l.GetBlock(0)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = l.SubmitBlock(submitter, demoBatch, vm.FinalRoot(demoBatch))
	require.NoError(t, err)
	_, err = l.GetBlock(1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTerminalStatusTransitions(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)

	first, err := l.SubmitBlock(submitter, demoBatch, vm.FinalRoot(demoBatch))
	require.NoError(t, err)
	second, err := l.SubmitBlock(submitter, demoBatch, vm.ZeroRoot)
	require.NoError(t, err)

	require.NoError(t, l.MarkFinalized(first))
	block, err := l.GetBlock(first)
	require.NoError(t, err)
	assert.Equal(t, StatusFinalized, block.Status)

	// Terminal transitions are exactly-once.
	assert.ErrorIs(t, l.MarkFinalized(first), ErrInvalidTransition)
	assert.ErrorIs(t, l.MarkReverted(first), ErrInvalidTransition)

	require.NoError(t, l.MarkReverted(second))
	block, err = l.GetBlock(second)
	require.NoError(t, err)
	assert.Equal(t, StatusReverted, block.Status)
	assert.ErrorIs(t, l.MarkFinalized(second), ErrInvalidTransition)

	assert.ErrorIs(t, l.MarkFinalized(99), ErrNotFound)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	db, err := NewBadgerKV(dir)
	require.NoError(t, err)
	l, err := Open(db)
	require.NoError(t, err)

	root := vm.FinalRoot(demoBatch)
	index, err := l.SubmitBlock(submitter, demoBatch, root)
	require.NoError(t, err)
	require.NoError(t, l.MarkFinalized(index))

	var acc common.Hash
	block, err := l.GetBlock(index)
	require.NoError(t, err)
	acc = block.BatchAcc
	require.NoError(t, db.Close())

	db, err = NewBadgerKV(dir)
	require.NoError(t, err)
	defer db.Close()
	l, err = Open(db)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), l.BlockCount())
	block, err = l.GetBlock(index)
	require.NoError(t, err)
	assert.Equal(t, root, block.ClaimedRoot)
	assert.Equal(t, StatusFinalized, block.Status)
	assert.Equal(t, acc, block.BatchAcc)

	decoded, err := block.Transactions()
	require.NoError(t, err)
	assert.Equal(t, demoBatch, decoded)
}

func TestBatchAccumulator(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)

	a, err := l.SubmitBlock(submitter, demoBatch, vm.FinalRoot(demoBatch))
	require.NoError(t, err)
	b, err := l.SubmitBlock(submitter, demoBatch, vm.FinalRoot(demoBatch))
	require.NoError(t, err)
	other := []vm.Transaction{vm.NewTransaction(vm.KindAdd, 11)}
	c, err := l.SubmitBlock(submitter, other, vm.FinalRoot(other))
	require.NoError(t, err)
	empty, err := l.SubmitBlock(submitter, nil, vm.ZeroRoot)
	require.NoError(t, err)

	blockA, err := l.GetBlock(a)
	require.NoError(t, err)
	blockB, err := l.GetBlock(b)
	require.NoError(t, err)
	blockC, err := l.GetBlock(c)
	require.NoError(t, err)
	blockEmpty, err := l.GetBlock(empty)
	require.NoError(t, err)

	assert.Equal(t, blockA.BatchAcc, blockB.BatchAcc, "same batch, same accumulator")
	assert.NotEqual(t, blockA.BatchAcc, blockC.BatchAcc, "different batches must not collide")
	assert.Equal(t, common.Hash{}, blockEmpty.BatchAcc)
}
