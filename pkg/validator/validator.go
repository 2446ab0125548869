// Package validator contains honest protocol actors: a defender that
// bisects with truthfully computed mid-state roots and a challenger that
// follows the divergence between its own execution and the defender's
// claims. RunDispute alternates the two against the challenge game until the
// dispute resolves.
package validator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/optimisticlabs/optimistic-rollup-go/pkg/challenge"
	"github.com/optimisticlabs/optimistic-rollup-go/pkg/vm"
)

// Defender answers challenges against blocks it submitted. It holds its own
// copy of the batch and recomputes segment midpoints on demand.
type Defender struct {
	addr   common.Address
	game   *challenge.Game
	txs    []vm.Transaction
	logger log.Logger
}

// NewDefender builds a defender for one block's batch.
func NewDefender(addr common.Address, game *challenge.Game, txs []vm.Transaction) *Defender {
	return &Defender{
		addr:   addr,
		game:   game,
		txs:    txs,
		logger: log.New("service", "defender"),
	}
}

// Act makes the defender's move if it is on turn: bisect the disputed
// segment at its floor midpoint. It reports whether a move was made.
func (d *Defender) Act(challengeID uint64) (bool, error) {
	ch, err := d.game.GetChallenge(challengeID)
	if err != nil {
		return false, err
	}
	if ch.NextActor() != d.addr {
		return false, nil
	}
	seg := ch.Segment
	mid := seg.Start + seg.Span()/2
	midRoot, err := vm.Run(d.txs, seg.Start, mid)
	if err != nil {
		return false, err
	}
	d.logger.Debug("bisecting", "challenge", challengeID, "mid", mid, "midRoot", midRoot.Hex())
	if err := d.game.Bisect(d.addr, challengeID, mid, midRoot); err != nil {
		return false, err
	}
	return true, nil
}

// Challenger disputes a block whose claimed final root differs from its own
// execution of the batch.
type Challenger struct {
	addr   common.Address
	game   *challenge.Game
	txs    []vm.Transaction
	logger log.Logger
}

// NewChallenger builds a challenger with its own view of the batch.
func NewChallenger(addr common.Address, game *challenge.Game, txs []vm.Transaction) *Challenger {
	return &Challenger{
		addr:   addr,
		game:   game,
		txs:    txs,
		logger: log.New("service", "challenger"),
	}
}

// Act makes the challenger's move if the game is waiting on one: recompute
// the proposed mid-state root, then select the half where the defender's
// claim diverges. A disagreement at the midpoint puts the divergence in the
// lower half; agreement pushes it into the upper half. The returned
// Resolution is non-nil when the selection triggered arbitration.
func (c *Challenger) Act(challengeID uint64) (*challenge.Resolution, bool, error) {
	ch, err := c.game.GetChallenge(challengeID)
	if err != nil {
		return nil, false, err
	}
	if ch.State != challenge.StateBisecting || ch.NextActor() != c.addr {
		return nil, false, nil
	}

	ownMidRoot, err := vm.Run(c.txs, ch.Segment.Start, ch.PendingMid)
	if err != nil {
		return nil, false, err
	}
	lower, upper := ch.Segment.Halves(ch.PendingMid, ch.PendingMidRoot)
	picked := upper
	if ownMidRoot != ch.PendingMidRoot {
		picked = lower
	}
	c.logger.Debug("selecting segment", "challenge", challengeID,
		"start", picked.Start, "end", picked.End, "agreeAtMid", picked == upper)

	res, err := c.game.SelectSegment(c.addr, challengeID,
		picked.Start, picked.End, [2]common.Hash{picked.StartRoot, picked.EndRoot})
	if err != nil {
		return nil, false, err
	}
	return res, true, nil
}

// RunDispute opens a challenge against blockIndex and alternates the two
// honest actors until resolution. It returns the resolution and the number
// of completed bisect/select round pairs, which is ceil(log2(N)) for an
// N-transaction block.
func RunDispute(ctx context.Context, game *challenge.Game, defender *Defender, challenger *Challenger, blockIndex uint64) (*challenge.Resolution, int, error) {
	challengeID, res, err := game.InitiateChallenge(challenger.addr, blockIndex)
	if err != nil {
		return nil, 0, err
	}
	if res != nil {
		return res, 0, nil
	}

	rounds := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, rounds, err
		}

		moved, err := defender.Act(challengeID)
		if err != nil {
			return nil, rounds, fmt.Errorf("defender move failed: %w", err)
		}
		if !moved {
			return nil, rounds, errors.New("dispute stalled: defender has no move")
		}

		res, _, err := challenger.Act(challengeID)
		if err != nil {
			return nil, rounds, fmt.Errorf("challenger move failed: %w", err)
		}
		rounds++
		if res != nil {
			return res, rounds, nil
		}

		// Each round halves the span, so 64 rounds covers any uint64 range.
		if rounds > 64 {
			return nil, rounds, errors.New("dispute failed to terminate")
		}
	}
}
