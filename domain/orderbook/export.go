package orderbook

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

type AddressIndex struct {
	Address common.Address
	IDs     []uint64
}

// Snapshot is the serializable form of the engine. The reward ledger is
// referenced by address and resolved by the caller on restore.
type Snapshot struct {
	Owner      common.Address
	Config     Config
	NextID     uint64
	RewardPool *big.Int
	Staker     common.Address
	Orders     []Order
	Active     []uint64
	ByAddress  []AddressIndex
}

func (e *Engine) Export() Snapshot {
	s := Snapshot{
		Owner:      e.owner,
		Config:     e.cfg,
		NextID:     e.nextID,
		RewardPool: e.RewardPool(),
		Staker:     e.staker.Address(),
		Orders:     make([]Order, 0, e.registry.Len()),
		Active:     e.registry.Active(0, 0),
	}
	for id := uint64(0); id < e.nextID; id++ {
		if o, ok := e.registry.Get(id); ok {
			s.Orders = append(s.Orders, *o.Clone())
		}
	}
	for a, ids := range e.registry.byAddr {
		s.ByAddress = append(s.ByAddress, AddressIndex{Address: a, IDs: append([]uint64(nil), ids...)})
	}
	sort.Slice(s.ByAddress, func(i, j int) bool { return s.ByAddress[i].Address.Cmp(s.ByAddress[j].Address) < 0 })
	return s
}

// Restore replaces the engine state with s, routing fees to staker.
func (e *Engine) Restore(s Snapshot, staker RewardSink) {
	e.owner = s.Owner
	e.cfg = s.Config
	e.nextID = s.NextID
	e.rewardPool = new(big.Int).Set(s.RewardPool)
	e.staker = staker

	r := NewRegistry(e.state)
	for i := range s.Orders {
		r.orders[s.Orders[i].ID] = s.Orders[i].Clone()
	}
	for _, idx := range s.ByAddress {
		r.byAddr[idx.Address] = append([]uint64(nil), idx.IDs...)
	}
	for i, id := range s.Active {
		r.active = append(r.active, id)
		r.pos[id] = i
	}
	e.registry = r
}
