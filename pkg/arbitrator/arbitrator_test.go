package arbitrator

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"

	"github.com/optimisticlabs/optimistic-rollup-go/pkg/vm"
)

func TestResolveSingleStep(t *testing.T) {
	t.Parallel()

	arb := New()

	cases := []struct {
		name     string
		tx       vm.Transaction
		pre      uint64
		disputed uint64
		verdict  Verdict
	}{
		{"correct add", vm.NewTransaction(vm.KindAdd, 5), 20, 25, Match},
		{"wrong add", vm.NewTransaction(vm.KindAdd, 5), 20, 24, Mismatch},
		{"correct multiply", vm.NewTransaction(vm.KindMultiply, 2), 10, 20, Match},
		{"wrong multiply", vm.NewTransaction(vm.KindMultiply, 2), 10, 21, Mismatch},
		{"add from zero", vm.NewTransaction(vm.KindAdd, 10), 0, 10, Match},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			pre := vm.StateRoot(uint256.NewInt(c.pre))
			disputed := vm.StateRoot(uint256.NewInt(c.disputed))

			computed, verdict := arb.ResolveSingleStep(c.tx, pre, disputed)
			assert.Equal(t, c.verdict, verdict)

			// The computed root is the honest re-execution either way.
			expected := vm.StateRoot(vm.Apply(vm.StateFromRoot(pre), c.tx))
			assert.Equal(t, expected, computed)
		})
	}
}

func TestResolveSingleStepWraps(t *testing.T) {
	t.Parallel()

	arb := New()
	pre := vm.StateRoot(new(uint256.Int).SetAllOne())
	disputed := vm.StateRoot(uint256.NewInt(0))

	computed, verdict := arb.ResolveSingleStep(vm.NewTransaction(vm.KindAdd, 1), pre, disputed)
	assert.Equal(t, Match, verdict)
	assert.Equal(t, disputed, computed)
}
