// Package snapshot persists the whole exchange state so startup can skip
// the journal prefix it covers.
//
// A snapshot is written to a temporary file and renamed into place, so a
// reader sees either the previous snapshot or the new one.
package snapshot

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"tradebook/domain/amm"
	"tradebook/domain/chain"
	"tradebook/domain/incinerator"
	"tradebook/domain/orderbook"
	"tradebook/domain/staking"
)

const FileName = "snapshot.bin"

// State is everything needed to resume after journal record Seq.
type State struct {
	Seq          uint64
	Created      time.Time
	Chain        chain.Snapshot
	Router       amm.Snapshot
	Book         orderbook.Snapshot
	Stakers      []staking.Snapshot
	ActiveStaker common.Address
	Incinerator  incinerator.Snapshot
	Desk         common.Address
}
