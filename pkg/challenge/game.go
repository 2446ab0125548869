package challenge

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/optimisticlabs/optimistic-rollup-go/pkg/arbitrator"
	"github.com/optimisticlabs/optimistic-rollup-go/pkg/ledger"
	"github.com/optimisticlabs/optimistic-rollup-go/pkg/vm"
)

var (
	ErrUnknownChallenge  = errors.New("unknown challenge")
	ErrAlreadyChallenged = errors.New("block already has an unresolved challenge")
	ErrOutOfTurn         = errors.New("caller is not the party on turn")
	ErrInvalidMidpoint   = errors.New("midpoint not strictly inside the disputed segment")
	ErrInvalidSegment    = errors.New("selected range is not a half of the disputed segment")
	ErrInvalidTransition = errors.New("move not valid in current challenge state")
	ErrTimeout           = errors.New("response deadline passed, challenge forfeited")
)

// DefaultResponseTimeout bounds the wait for a counterparty move. Roughly a
// handful of ledger-confirmation intervals.
const DefaultResponseTimeout = 2 * time.Minute

// BlockLedger is the slice of the ledger the game needs: block lookup and
// the two terminal status transitions it is allowed to drive.
type BlockLedger interface {
	GetBlock(index uint64) (*ledger.Block, error)
	MarkFinalized(index uint64) error
	MarkReverted(index uint64) error
}

// SingleStepArbitrator adjudicates the terminal one-transaction dispute.
type SingleStepArbitrator interface {
	ResolveSingleStep(tx vm.Transaction, preRoot, disputedPostRoot common.Hash) (common.Hash, arbitrator.Verdict)
}

// Clock abstracts time for deadline checks so forfeiture is testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Opt configures a Game.
type Opt func(*Game)

// WithResponseTimeout sets the per-move liveness timeout.
func WithResponseTimeout(d time.Duration) Opt {
	return func(g *Game) {
		g.timeout = d
	}
}

// WithClock replaces the wall clock, useful for deterministic timeout tests.
func WithClock(c Clock) Opt {
	return func(g *Game) {
		g.clock = c
	}
}

// Game is the challenge registry. It owns every live Challenge, keyed by id,
// and serializes all state-changing calls; challenges on different blocks
// share no mutable state beyond this registry and the ledger.
type Game struct {
	ledger  BlockLedger
	arb     SingleStepArbitrator
	clock   Clock
	timeout time.Duration
	logger  log.Logger

	mu            sync.Mutex
	challenges    map[uint64]*Challenge
	activeByBlock map[uint64]uint64
	nextID        uint64
}

// NewGame builds a challenge game over the given ledger and arbitrator.
func NewGame(l BlockLedger, arb SingleStepArbitrator, opts ...Opt) *Game {
	g := &Game{
		ledger:        l,
		arb:           arb,
		clock:         systemClock{},
		timeout:       DefaultResponseTimeout,
		logger:        log.New("service", "challenge-game"),
		challenges:    make(map[uint64]*Challenge),
		activeByBlock: make(map[uint64]uint64),
		// Challenge ids are assigned by the registry, starting at 1.
		nextID: 1,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// InitiateChallenge opens a dispute against the block at blockIndex. The
// block submitter is registered as defender. Blocks with no bisectable span
// (zero or one transaction) resolve immediately and the returned Resolution
// is non-nil; otherwise the challenge enters StateOpened and waits for the
// defender's first bisection.
func (g *Game) InitiateChallenge(challenger common.Address, blockIndex uint64) (uint64, *Resolution, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	block, err := g.ledger.GetBlock(blockIndex)
	if err != nil {
		return 0, nil, err
	}
	if block.Status != ledger.StatusSubmitted {
		return 0, nil, fmt.Errorf("%w: block %d is already %s", ErrInvalidTransition, blockIndex, block.Status)
	}
	if active, ok := g.activeByBlock[blockIndex]; ok {
		return 0, nil, fmt.Errorf("%w: block %d, challenge %d", ErrAlreadyChallenged, blockIndex, active)
	}
	txs, err := block.Transactions()
	if err != nil {
		return 0, nil, pkgerrors.Wrapf(err, "decoding batch of block %d", blockIndex)
	}

	ch := &Challenge{
		ID:         g.nextID,
		BlockIndex: blockIndex,
		Defender:   block.Submitter,
		Challenger: challenger,
		State:      StateOpened,
		Segment: Segment{
			Start:     0,
			End:       uint64(len(txs)),
			StartRoot: vm.ZeroRoot,
			EndRoot:   block.ClaimedRoot,
		},
		Deadline: g.clock.Now().Add(g.timeout),
		txs:      txs,
	}
	g.nextID++

	g.logger.Info("challenge initiated", "challenge", ch.ID, "block", blockIndex,
		"txs", len(txs), "defender", ch.Defender.Hex(), "challenger", challenger.Hex())

	// No bisectable span: the dispute is decided on the spot.
	switch len(txs) {
	case 0:
		outcome := ChallengerWins
		if block.ClaimedRoot == vm.ZeroRoot {
			outcome = DefenderWins
		}
		res, err := g.resolve(ch, outcome, 0, false)
		return ch.ID, res, err
	case 1:
		res, err := g.arbitrate(ch)
		return ch.ID, res, err
	}

	g.challenges[ch.ID] = ch
	g.activeByBlock[blockIndex] = ch.ID
	return ch.ID, nil, nil
}

// Bisect is the defender's move: propose the midpoint of the disputed
// segment together with the state root it computed there.
func (g *Game) Bisect(from common.Address, challengeID, mid uint64, midRoot common.Hash) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	ch, ok := g.challenges[challengeID]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrUnknownChallenge, challengeID)
	}
	if err := g.checkDeadline(ch); err != nil {
		return err
	}
	if from != ch.Defender {
		return fmt.Errorf("%w: bisect is the defender's move", ErrOutOfTurn)
	}
	if ch.State != StateOpened && ch.State != StateSegmentSelected {
		return fmt.Errorf("%w: cannot bisect while %s", ErrInvalidTransition, ch.State)
	}
	seg := ch.Segment
	if mid <= seg.Start || mid >= seg.End {
		return fmt.Errorf("%w: %d not in (%d, %d)", ErrInvalidMidpoint, mid, seg.Start, seg.End)
	}

	ch.PendingMid = mid
	ch.PendingMidRoot = midRoot
	ch.State = StateBisecting
	ch.Deadline = g.clock.Now().Add(g.timeout)

	g.logger.Debug("defender bisected", "challenge", ch.ID, "mid", mid, "midRoot", midRoot.Hex())
	return nil
}

// SelectSegment is the challenger's move: pick the half of the bisected
// segment where it believes the defender's computation diverges, restating
// the boundary roots of that half. A single-transaction selection goes
// straight to arbitration and the returned Resolution is non-nil.
func (g *Game) SelectSegment(from common.Address, challengeID, start, end uint64, roots [2]common.Hash) (*Resolution, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ch, ok := g.challenges[challengeID]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownChallenge, challengeID)
	}
	if err := g.checkDeadline(ch); err != nil {
		return nil, err
	}
	if from != ch.Challenger {
		return nil, fmt.Errorf("%w: segment selection is the challenger's move", ErrOutOfTurn)
	}
	if ch.State != StateBisecting {
		return nil, fmt.Errorf("%w: cannot select a segment while %s", ErrInvalidTransition, ch.State)
	}

	picked := Segment{Start: start, End: end, StartRoot: roots[0], EndRoot: roots[1]}
	lower, upper := ch.Segment.Halves(ch.PendingMid, ch.PendingMidRoot)
	if picked != lower && picked != upper {
		return nil, fmt.Errorf("%w: [%d, %d)", ErrInvalidSegment, start, end)
	}

	ch.Segment = picked
	ch.PendingMid = 0
	ch.PendingMidRoot = common.Hash{}

	g.logger.Debug("challenger selected segment", "challenge", ch.ID,
		"start", start, "end", end, "span", picked.Span())

	if picked.Span() == 1 {
		return g.arbitrate(ch)
	}

	ch.State = StateSegmentSelected
	ch.Deadline = g.clock.Now().Add(g.timeout)
	return nil, nil
}

// GetChallenge returns a snapshot of a live challenge. Resolved challenges
// are deleted from the registry and report ErrUnknownChallenge.
func (g *Game) GetChallenge(challengeID uint64) (Challenge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ch, ok := g.challenges[challengeID]
	if !ok {
		return Challenge{}, fmt.Errorf("%w: id %d", ErrUnknownChallenge, challengeID)
	}
	return *ch, nil
}

// ExpireOverdue forfeits every challenge whose response deadline has passed.
// Defender silence loses the block; challenger silence accepts it.
func (g *Game) ExpireOverdue() ([]Resolution, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var resolutions []Resolution
	var errs error
	for _, ch := range g.challenges {
		if !g.clock.Now().After(ch.Deadline) {
			continue
		}
		res, err := g.forfeit(ch)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		resolutions = append(resolutions, *res)
	}
	return resolutions, errs
}

// checkDeadline forfeits ch if its deadline has passed and reports
// ErrTimeout; moves against an expired challenge are never accepted.
func (g *Game) checkDeadline(ch *Challenge) error {
	if !g.clock.Now().After(ch.Deadline) {
		return nil
	}
	res, err := g.forfeit(ch)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: challenge %d resolved %s", ErrTimeout, ch.ID, res.Outcome)
}

func (g *Game) forfeit(ch *Challenge) (*Resolution, error) {
	// The party on turn is the one that stayed silent.
	outcome := ChallengerWins
	if ch.NextActor() == ch.Challenger {
		outcome = DefenderWins
	}
	g.logger.Warn("challenge forfeited on timeout", "challenge", ch.ID,
		"silent", ch.NextActor().Hex(), "outcome", outcome.String())
	return g.resolve(ch, outcome, 0, false)
}

// arbitrate runs single-step resolution on ch's one-transaction segment.
func (g *Game) arbitrate(ch *Challenge) (*Resolution, error) {
	seg := ch.Segment
	tx := ch.txs[seg.Start]
	computed, verdict := g.arb.ResolveSingleStep(tx, seg.StartRoot, seg.EndRoot)

	outcome := ChallengerWins
	if verdict == arbitrator.Match {
		outcome = DefenderWins
	}
	g.logger.Info("single-step arbitration", "challenge", ch.ID, "step", seg.Start,
		"computedRoot", computed.Hex(), "verdict", verdict.String())
	return g.resolve(ch, outcome, seg.Start, true)
}

// resolve applies the terminal transition: writes the verdict to the ledger
// and removes the challenge from the registry.
func (g *Game) resolve(ch *Challenge, outcome Outcome, stepIndex uint64, arbitrated bool) (*Resolution, error) {
	var err error
	switch outcome {
	case DefenderWins:
		err = g.ledger.MarkFinalized(ch.BlockIndex)
	case ChallengerWins:
		err = g.ledger.MarkReverted(ch.BlockIndex)
	}
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "recording verdict for block %d", ch.BlockIndex)
	}

	ch.State = StateResolved
	ch.Outcome = outcome
	delete(g.challenges, ch.ID)
	delete(g.activeByBlock, ch.BlockIndex)

	g.logger.Info("challenge resolved", "challenge", ch.ID, "block", ch.BlockIndex,
		"outcome", outcome.String())
	return &Resolution{
		ChallengeID: ch.ID,
		BlockIndex:  ch.BlockIndex,
		Outcome:     outcome,
		StepIndex:   stepIndex,
		Arbitrated:  arbitrated,
	}, nil
}
