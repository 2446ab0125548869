// Package arbitrator performs single-step resolution: the one point in the
// protocol where a claimed computation is independently re-executed. Cost is
// O(1) regardless of block size; the bisection game exists to get here.
package arbitrator

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/optimisticlabs/optimistic-rollup-go/pkg/vm"
)

// Verdict is the outcome of re-executing a disputed step.
type Verdict uint8

const (
	// Match means the defender's claimed post-state root was correct.
	Match Verdict = iota
	// Mismatch means the re-executed root differs from the claim.
	Mismatch
)

func (v Verdict) String() string {
	switch v {
	case Match:
		return "match"
	case Mismatch:
		return "mismatch"
	default:
		return fmt.Sprintf("verdict(%d)", uint8(v))
	}
}

// Arbitrator re-executes exactly one transaction against an agreed pre-state.
type Arbitrator struct {
	logger log.Logger
}

// New returns an Arbitrator.
func New() *Arbitrator {
	return &Arbitrator{logger: log.New("service", "arbitrator")}
}

// ResolveSingleStep decodes preRoot into a VM state, applies tx once, and
// compares the re-encoded root against the disputed post-state root byte for
// byte. It returns the independently computed root alongside the verdict.
func (a *Arbitrator) ResolveSingleStep(tx vm.Transaction, preRoot, disputedPostRoot common.Hash) (common.Hash, Verdict) {
	state := vm.StateFromRoot(preRoot)
	computed := vm.StateRoot(vm.Apply(state, tx))

	verdict := Mismatch
	if computed == disputedPostRoot {
		verdict = Match
	}
	a.logger.Debug("single step resolved", "op", tx.Kind.String(),
		"preRoot", preRoot.Hex(), "computedRoot", computed.Hex(),
		"disputedRoot", disputedPostRoot.Hex(), "verdict", verdict.String())
	return computed, verdict
}
