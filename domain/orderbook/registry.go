package orderbook

import (
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
)

// Journal records undo steps for the enclosing transaction.
type Journal interface {
	Record(undo func())
}

// Registry stores every order ever placed. Orders are indexed by id, by
// any number of addresses (the maker and the pair key) and by membership
// in the active set. Stored orders are never mutated in place; Replace
// swaps in a new version so undo can restore the old pointer.
type Registry struct {
	journal Journal
	orders  map[uint64]*Order
	byAddr  map[common.Address][]uint64
	active  []uint64
	pos     map[uint64]int
}

func NewRegistry(j Journal) *Registry {
	return &Registry{
		journal: j,
		orders:  make(map[uint64]*Order),
		byAddr:  make(map[common.Address][]uint64),
		pos:     make(map[uint64]int),
	}
}

// Insert stores a new active order under each key.
func (r *Registry) Insert(o *Order, keys ...common.Address) {
	id := o.ID
	r.orders[id] = o
	r.journal.Record(func() { delete(r.orders, id) })

	for _, k := range keys {
		k := k
		prev := r.byAddr[k]
		r.byAddr[k] = append(prev[:len(prev):len(prev)], id)
		r.journal.Record(func() {
			if len(prev) == 0 {
				delete(r.byAddr, k)
				return
			}
			r.byAddr[k] = prev
		})
	}

	r.pos[id] = len(r.active)
	r.active = append(r.active, id)
	r.journal.Record(func() {
		r.active = r.active[:len(r.active)-1]
		delete(r.pos, id)
	})
}

func (r *Registry) Get(id uint64) (*Order, bool) {
	o, ok := r.orders[id]
	return o, ok
}

func (r *Registry) Replace(o *Order) {
	id := o.ID
	prev := r.orders[id]
	r.orders[id] = o
	r.journal.Record(func() { r.orders[id] = prev })
}

// Deactivate removes id from the active set by moving the last active
// order into its slot.
func (r *Registry) Deactivate(id uint64) {
	i, ok := r.pos[id]
	if !ok {
		return
	}
	last := len(r.active) - 1
	moved := r.active[last]

	r.active[i] = moved
	r.pos[moved] = i
	r.active = r.active[:last]
	delete(r.pos, id)

	r.journal.Record(func() {
		r.active = append(r.active, moved)
		r.pos[moved] = last
		r.active[i] = id
		r.pos[id] = i
	})
}

func (r *Registry) ActiveLen() int {
	return len(r.active)
}

// Active returns up to limit active ids starting at offset. A limit of
// zero means no limit.
func (r *Registry) Active(offset, limit int) []uint64 {
	if offset >= len(r.active) || offset < 0 {
		return nil
	}
	end := len(r.active)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]uint64, end-offset)
	copy(out, r.active[offset:end])
	return out
}

func (r *Registry) AddressLen(a common.Address) int {
	return len(r.byAddr[a])
}

func (r *Registry) IDForAddress(a common.Address, index int) (uint64, error) {
	ids := r.byAddr[a]
	if index < 0 || index >= len(ids) {
		return 0, errors.Wrapf(ErrIndexOutOfRange, "%s has %d orders, index %d", a.Hex(), len(ids), index)
	}
	return ids[index], nil
}

func (r *Registry) Len() int {
	return len(r.orders)
}
