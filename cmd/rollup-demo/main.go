// rollup-demo drives the full protocol end to end against a local ledger:
// submit a block, challenge it, bisect down to one transaction, and let the
// arbitrator settle the dispute. With --tamper the submitted claim is wrong
// and the challenge must revert the block.
package main

import (
	"context"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/optimisticlabs/optimistic-rollup-go/pkg/arbitrator"
	"github.com/optimisticlabs/optimistic-rollup-go/pkg/challenge"
	"github.com/optimisticlabs/optimistic-rollup-go/pkg/ledger"
	"github.com/optimisticlabs/optimistic-rollup-go/pkg/validator"
	"github.com/optimisticlabs/optimistic-rollup-go/pkg/vm"
)

const (
	defaultDefenderAddress   = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	defaultChallengerAddress = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

func main() {
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, log.LevelInfo, true)))

	if err := godotenv.Load(); err != nil {
		log.Warn("no .env file loaded", "err", err)
	}

	dbPath := flag.String("db", os.Getenv("ROLLUP_DB_PATH"), "ledger database path (empty for in-memory)")
	tamper := flag.Bool("tamper", false, "submit a corrupted claimed root")
	timeout := flag.Duration("timeout", challenge.DefaultResponseTimeout, "per-move response timeout")
	challengeBlock := flag.Int64("challenge-block", -1, "challenge an existing block instead of submitting one")
	flag.Parse()

	var db ledger.KVStore
	var err error
	if *dbPath == "" {
		db = ledger.NewInMemoryKV()
	} else {
		db, err = ledger.NewBadgerKV(*dbPath)
		if err != nil {
			log.Crit("failed to open ledger database", "path", *dbPath, "err", err)
		}
	}
	defer db.Close()

	l, err := ledger.Open(db)
	if err != nil {
		log.Crit("failed to open ledger", "err", err)
	}
	game := challenge.NewGame(l, arbitrator.New(), challenge.WithResponseTimeout(*timeout))

	defenderAddr := addressFromEnv("DEFENDER_ADDRESS", defaultDefenderAddress)
	challengerAddr := addressFromEnv("CHALLENGER_ADDRESS", defaultChallengerAddress)

	var blockIndex uint64
	if *challengeBlock >= 0 {
		blockIndex = uint64(*challengeBlock)
	} else {
		blockIndex = submitDemoBlock(l, defenderAddr, *tamper)
	}

	block, err := l.GetBlock(blockIndex)
	if err != nil {
		log.Crit("failed to load block", "index", blockIndex, "err", err)
	}
	batch, err := block.Transactions()
	if err != nil {
		log.Crit("failed to decode batch", "index", blockIndex, "err", err)
	}
	honestRoot := vm.FinalRoot(batch)
	log.Info("challenging block", "index", blockIndex,
		"claimedRoot", block.ClaimedRoot.Hex(), "honestRoot", honestRoot.Hex())

	defender := validator.NewDefender(block.Submitter, game, batch)
	challenger := validator.NewChallenger(challengerAddr, game, batch)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	res, rounds, err := validator.RunDispute(ctx, game, defender, challenger, blockIndex)
	if err != nil {
		log.Crit("dispute failed", "err", err)
	}

	final, err := l.GetBlock(blockIndex)
	if err != nil {
		log.Crit("failed to reload block", "index", blockIndex, "err", err)
	}
	log.Info("dispute resolved", "challenge", res.ChallengeID, "outcome", res.Outcome.String(),
		"rounds", rounds, "arbitrated", res.Arbitrated, "stepIndex", res.StepIndex,
		"blockStatus", final.Status.String())
}

// submitDemoBlock commits the canonical batch [add 10, multiply 2, add 5].
// The honest final root is 25; tampering claims 24 instead, which an honest
// challenger will narrow down to the last transaction.
func submitDemoBlock(l *ledger.Ledger, submitter common.Address, tamper bool) uint64 {
	batch := []vm.Transaction{
		vm.NewTransaction(vm.KindAdd, 10),
		vm.NewTransaction(vm.KindMultiply, 2),
		vm.NewTransaction(vm.KindAdd, 5),
	}
	claimed := vm.FinalRoot(batch)
	if tamper {
		state := vm.StateFromRoot(claimed)
		claimed = vm.StateRoot(new(uint256.Int).Sub(state, uint256.NewInt(1)))
		log.Warn("tampering with claimed root", "claimedRoot", claimed.Hex())
	}

	index, err := l.SubmitBlock(submitter, batch, claimed)
	if err != nil {
		log.Crit("failed to submit block", "err", err)
	}
	return index
}

func addressFromEnv(key, fallback string) common.Address {
	if v := os.Getenv(key); v != "" {
		return common.HexToAddress(v)
	}
	return common.HexToAddress(fallback)
}
