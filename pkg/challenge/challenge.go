// Package challenge implements the interactive bisection game that narrows a
// dispute over a committed block to a single transaction, then hands that
// transaction to the arbitrator. The game is an explicit finite-state
// machine with strict defender/challenger turn alternation and forfeiture on
// timeout.
package challenge

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/optimisticlabs/optimistic-rollup-go/pkg/vm"
)

// State enumerates the challenge FSM states.
type State uint8

const (
	StateOpened State = iota
	StateBisecting
	StateSegmentSelected
	StateResolved
)

func (s State) String() string {
	switch s {
	case StateOpened:
		return "opened"
	case StateBisecting:
		return "bisecting"
	case StateSegmentSelected:
		return "segment_selected"
	case StateResolved:
		return "resolved"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Outcome is the terminal result of a resolved challenge.
type Outcome uint8

const (
	OutcomeNone Outcome = iota
	DefenderWins
	ChallengerWins
)

func (o Outcome) String() string {
	switch o {
	case DefenderWins:
		return "defender_wins"
	case ChallengerWins:
		return "challenger_wins"
	default:
		return "none"
	}
}

// Segment is a half-open transaction-index range [Start, End) of the
// disputed block together with its boundary state roots. StartRoot is agreed
// by both parties; EndRoot is the defender's claim under dispute.
type Segment struct {
	Start     uint64
	End       uint64
	StartRoot common.Hash
	EndRoot   common.Hash
}

// Span is the number of transactions the segment covers.
func (s Segment) Span() uint64 {
	return s.End - s.Start
}

// Halves returns the two segments induced by the defender's proposed
// midpoint and mid-state root. The challenger must select exactly one.
func (s Segment) Halves(mid uint64, midRoot common.Hash) (lower, upper Segment) {
	lower = Segment{Start: s.Start, End: mid, StartRoot: s.StartRoot, EndRoot: midRoot}
	upper = Segment{Start: mid, End: s.End, StartRoot: midRoot, EndRoot: s.EndRoot}
	return lower, upper
}

// Challenge is the live dispute over one block. It references the block by
// index only; the ledger keeps ownership of the block itself.
type Challenge struct {
	ID         uint64
	BlockIndex uint64
	Defender   common.Address
	Challenger common.Address
	State      State
	Outcome    Outcome
	Segment    Segment

	// Deadline bounds the wait for the next required move; the party on
	// turn forfeits when it passes.
	Deadline time.Time

	// Defender's pending bisection proposal, valid while State is
	// StateBisecting.
	PendingMid     uint64
	PendingMidRoot common.Hash

	txs []vm.Transaction
}

// NextActor names the party whose move the game is waiting on.
func (c *Challenge) NextActor() common.Address {
	if c.State == StateBisecting {
		return c.Challenger
	}
	return c.Defender
}

// Resolution describes a terminal challenge transition.
type Resolution struct {
	ChallengeID uint64
	BlockIndex  uint64
	Outcome     Outcome

	// StepIndex is the disputed transaction index, valid when Arbitrated is
	// set; resolutions by forfeiture or empty-block comparison skip
	// arbitration.
	StepIndex  uint64
	Arbitrated bool
}
