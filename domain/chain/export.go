package chain

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Balance is one account balance inside a snapshot.
type Balance struct {
	Account common.Address
	Amount  *big.Int
}

type Allowance struct {
	Owner   common.Address
	Spender common.Address
	Amount  *big.Int
}

type TokenState struct {
	Address    common.Address
	Symbol     string
	FeeBps     uint64
	Supply     *big.Int
	Balances   []Balance
	Allowances []Allowance
}

// Snapshot is the serializable form of State.
type Snapshot struct {
	Native []Balance
	Tokens []TokenState
}

// Export copies the ledger into a Snapshot with deterministic ordering.
func (s *State) Export() Snapshot {
	snap := Snapshot{Native: sortedBalances(s.native)}
	for _, info := range s.Tokens() {
		t := s.tokens[info.Address]
		ts := TokenState{
			Address:  info.Address,
			Symbol:   t.symbol,
			FeeBps:   t.feeBps,
			Supply:   new(big.Int).Set(t.supply),
			Balances: sortedBalances(t.balances),
		}
		for owner, m := range t.allowances {
			for spender, v := range m {
				ts.Allowances = append(ts.Allowances, Allowance{Owner: owner, Spender: spender, Amount: new(big.Int).Set(v)})
			}
		}
		sort.Slice(ts.Allowances, func(i, j int) bool {
			a, b := ts.Allowances[i], ts.Allowances[j]
			if c := a.Owner.Cmp(b.Owner); c != 0 {
				return c < 0
			}
			return a.Spender.Cmp(b.Spender) < 0
		})
		snap.Tokens = append(snap.Tokens, ts)
	}
	return snap
}

// Restore replaces the ledger contents with snap. The journal is cleared.
func (s *State) Restore(snap Snapshot) {
	s.native = make(map[common.Address]*big.Int, len(snap.Native))
	for _, b := range snap.Native {
		s.native[b.Account] = new(big.Int).Set(b.Amount)
	}
	s.tokens = make(map[common.Address]*token, len(snap.Tokens))
	for _, ts := range snap.Tokens {
		t := &token{
			symbol:     ts.Symbol,
			feeBps:     ts.FeeBps,
			supply:     new(big.Int).Set(ts.Supply),
			balances:   make(map[common.Address]*big.Int, len(ts.Balances)),
			allowances: make(map[common.Address]map[common.Address]*big.Int),
		}
		for _, b := range ts.Balances {
			t.balances[b.Account] = new(big.Int).Set(b.Amount)
		}
		for _, a := range ts.Allowances {
			m, ok := t.allowances[a.Owner]
			if !ok {
				m = make(map[common.Address]*big.Int)
				t.allowances[a.Owner] = m
			}
			m[a.Spender] = new(big.Int).Set(a.Amount)
		}
		s.tokens[ts.Address] = t
	}
	s.journal = nil
}

func sortedBalances(m map[common.Address]*big.Int) []Balance {
	out := make([]Balance, 0, len(m))
	for a, v := range m {
		out = append(out, Balance{Account: a, Amount: new(big.Int).Set(v)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account.Cmp(out[j].Account) < 0 })
	return out
}
