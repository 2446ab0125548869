// malicious-submitter commits a block whose claimed final state root is
// corrupted, producing fraud for rollup-demo to challenge:
//
//	malicious-submitter --db /tmp/rollup
//	rollup-demo --db /tmp/rollup --challenge-block <printed index>
package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/optimisticlabs/optimistic-rollup-go/pkg/ledger"
	"github.com/optimisticlabs/optimistic-rollup-go/pkg/vm"
)

const defaultSubmitterAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

func main() {
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, log.LevelInfo, true)))

	if err := godotenv.Load(); err != nil {
		log.Warn("no .env file loaded", "err", err)
	}

	dbPath := flag.String("db", os.Getenv("ROLLUP_DB_PATH"), "ledger database path (shared with rollup-demo)")
	flag.Parse()

	if *dbPath == "" {
		log.Crit("a persistent --db path is required so rollup-demo can challenge the block")
	}
	db, err := ledger.NewBadgerKV(*dbPath)
	if err != nil {
		log.Crit("failed to open ledger database", "path", *dbPath, "err", err)
	}
	defer db.Close()

	l, err := ledger.Open(db)
	if err != nil {
		log.Crit("failed to open ledger", "err", err)
	}

	batch := []vm.Transaction{
		vm.NewTransaction(vm.KindAdd, 10),
		vm.NewTransaction(vm.KindMultiply, 2),
		vm.NewTransaction(vm.KindAdd, 5),
	}
	honest := vm.FinalRoot(batch)
	corrupted := common.HexToHash(strings.Repeat("dead", 16))

	submitter := common.HexToAddress(defaultSubmitterAddress)
	if v := os.Getenv("DEFENDER_ADDRESS"); v != "" {
		submitter = common.HexToAddress(v)
	}

	index, err := l.SubmitBlock(submitter, batch, corrupted)
	if err != nil {
		log.Crit("failed to submit block", "err", err)
	}
	log.Info("submitted block with corrupted claim", "index", index,
		"honestRoot", honest.Hex(), "claimedRoot", corrupted.Hex())
	log.Info("challenge it with", "cmd",
		"rollup-demo --db "+*dbPath+" --challenge-block "+strconv.FormatUint(index, 10))
}
