package staking

import (
	"math/big"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"

	"tradebook/domain/fault"
)

var ErrLedgerMismatch = fault.New(fault.External, "reward ledger out of balance")

type AccountEntry struct {
	Staker  common.Address
	Account Account
}

type Snapshot struct {
	Address    common.Address
	Config     Config
	Acc        *big.Int
	TotalStake *big.Int
	Accounts   []AccountEntry
}

func (s *Staker) Export() Snapshot {
	snap := Snapshot{
		Address:    s.address,
		Config:     s.cfg,
		Acc:        s.Accumulator(),
		TotalStake: s.TotalStake(),
	}
	for _, a := range s.Stakers() {
		acct, _ := s.Account(a)
		snap.Accounts = append(snap.Accounts, AccountEntry{Staker: a, Account: acct})
	}
	return snap
}

func (s *Staker) Restore(snap Snapshot) {
	s.address = snap.Address
	s.cfg = snap.Config
	s.acc = new(big.Int).Set(snap.Acc)
	s.totalStake = new(big.Int).Set(snap.TotalStake)
	s.accounts = make(map[common.Address]*Account, len(snap.Accounts))
	for _, e := range snap.Accounts {
		a := e.Account.clone()
		s.accounts[e.Staker] = &a
	}
}

// Audit checks that principals add up to totalStake and that the ledger
// holds at least what it owes in both assets.
func (s *Staker) Audit() error {
	sum := new(big.Int)
	for _, a := range s.accounts {
		sum.Add(sum, a.Principal)
	}
	if sum.Cmp(s.totalStake) != 0 {
		return errors.Wrapf(ErrLedgerMismatch, "principals %s != total stake %s", sum, s.totalStake)
	}
	if held := s.state.BalanceOf(s.cfg.StakeToken, s.address); held.Cmp(s.totalStake) < 0 {
		return errors.Wrapf(ErrLedgerMismatch, "holds %s stake tokens, owes %s", held, s.totalStake)
	}
	if dust := s.Unattributed(); dust.Sign() < 0 {
		return errors.Wrapf(ErrLedgerMismatch, "native short by %s", new(big.Int).Neg(dust))
	}
	return nil
}
