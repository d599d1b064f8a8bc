package service

import (
	"math/big"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"

	"tradebook/domain/chain"
	"tradebook/domain/orderbook"
)

func (x *Exchange) Order(id uint64) (orderbook.Order, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.engine.Order(id)
}

// ActiveOrders returns a page of active orders and the size of the active
// set. limit 0 means no limit.
func (x *Exchange) ActiveOrders(offset, limit int) ([]orderbook.Order, int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.engine.ActiveOrders(offset, limit), x.engine.ActiveOrdersLength()
}

// OrdersForAddress lists the order ids indexed under a maker address or a
// pair key.
func (x *Exchange) OrdersForAddress(a common.Address) ([]uint64, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	n := x.engine.OrdersForAddressLength(a)
	ids := make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		id, err := x.engine.OrderIDForAddress(a, i)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

type StakeInfo struct {
	Ledger     common.Address
	Active     bool
	Principal  *big.Int
	Owed       *big.Int
	Timelock   time.Time
	TotalStake *big.Int
}

func (x *Exchange) StakeInfo(ledger, staker common.Address) (StakeInfo, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	s, err := x.ledger(ledger)
	if err != nil {
		return StakeInfo{}, err
	}
	info := StakeInfo{
		Ledger:     s.Address(),
		Active:     s.Address() == x.engine.Staker().Address(),
		Principal:  new(big.Int),
		Owed:       s.Owed(staker),
		TotalStake: s.TotalStake(),
	}
	if a, ok := s.Account(staker); ok {
		info.Principal = a.Principal
		info.Timelock = a.Timelock
	}
	return info, nil
}

// Stakers lists reward ledgers in deployment order.
func (x *Exchange) Stakers() []common.Address {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]common.Address(nil), x.stakerOrder...)
}

// Balance returns the native balance when token is the zero address.
func (x *Exchange) Balance(token, account common.Address) *big.Int {
	x.mu.Lock()
	defer x.mu.Unlock()
	if token == (common.Address{}) {
		return x.state.NativeBalance(account)
	}
	return x.state.BalanceOf(token, account)
}

func (x *Exchange) Tokens() []chain.TokenInfo {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.state.Tokens()
}

func (x *Exchange) Config() orderbook.Config {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.engine.Config()
}

func (x *Exchange) Owner() common.Address {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.engine.Owner()
}

// AuditReport summarizes the escrow and reward ledger checks.
type AuditReport struct {
	Seq          uint64
	ActiveOrders int
	NextID       uint64
	EscrowNative *big.Int
	RewardPool   *big.Int
	DeskRetained *big.Int
	BurnBatch    *big.Int
	ActiveStaker common.Address
	TotalStake   *big.Int
	Unattributed *big.Int
	LedgerCount  int
}

// Audit runs every invariant check and returns the first violation along
// with the report.
func (x *Exchange) Audit() (AuditReport, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	active := x.stakers[x.engine.Staker().Address()]
	r := AuditReport{
		Seq:          x.seq.Current(),
		ActiveOrders: x.engine.ActiveOrdersLength(),
		NextID:       x.engine.NextID(),
		EscrowNative: x.state.NativeBalance(x.engine.EscrowAccount()),
		RewardPool:   x.engine.RewardPool(),
		DeskRetained: x.desk.Retained(),
		BurnBatch:    x.incinerator.Batch(),
		ActiveStaker: active.Address(),
		TotalStake:   active.TotalStake(),
		Unattributed: active.Unattributed(),
		LedgerCount:  len(x.stakerOrder),
	}
	if err := x.engine.Audit(); err != nil {
		return r, err
	}
	for _, a := range x.stakerOrder {
		if err := x.stakers[a].Audit(); err != nil {
			return r, errors.Wrapf(err, "ledger %s", a.Hex())
		}
	}
	return r, nil
}
