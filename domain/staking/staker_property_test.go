package staking

import (
	"math/big"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// Random stake/deposit/withdraw/payout sequences never pay more than was
// deposited, and what rounding leaves behind stays small.
func TestLedgerConservation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		f := newFixture(t)
		stakers := []common.Address{alice, bob, carol}

		deposited := new(big.Int)
		paid := new(big.Int)
		settles := int64(0)
		deposits := int64(0)

		steps := rapid.IntRange(1, 60).Draw(t, "steps").(int)
		for i := 0; i < steps; i++ {
			who := stakers[rapid.IntRange(0, len(stakers)-1).Draw(t, "who").(int)]

			switch rapid.IntRange(0, 4).Draw(t, "op").(int) {
			case 0:
				amount := rapid.Int64Range(1, 1_000_000).Draw(t, "stake").(int64)
				require.NoError(t, f.ledger.Stake(who, big.NewInt(amount)))
				settles++
			case 1:
				value := rapid.Int64Range(1, 1_000_000_000).Draw(t, "deposit").(int64)
				err := f.ledger.Deposit(exchange, big.NewInt(value))
				if f.ledger.TotalStake().Sign() == 0 {
					require.True(t, errors.Is(err, ErrNothingStaked))
					continue
				}
				require.NoError(t, err)
				deposited.Add(deposited, big.NewInt(value))
				deposits++
			case 2:
				_, reward, err := f.ledger.Withdraw(who)
				if err == nil {
					paid.Add(paid, reward)
					settles++
				}
			case 3:
				reward, err := f.ledger.Payout(who)
				if err == nil {
					paid.Add(paid, reward)
					settles++
				}
			case 4:
				days := rapid.IntRange(0, 40).Draw(t, "days").(int)
				f.clock.Advance(time.Duration(days) * 24 * time.Hour)
			}

			require.NoError(t, f.ledger.Audit())

			owed := new(big.Int)
			for _, s := range stakers {
				owed.Add(owed, f.ledger.Owed(s))
			}
			dust := f.ledger.Unattributed()

			total := new(big.Int).Add(paid, owed)
			total.Add(total, dust)
			require.Equal(t, deposited.String(), total.String())

			bound := big.NewInt(deposits + settles)
			require.True(t, dust.Sign() >= 0, "negative dust %s", dust)
			require.True(t, dust.Cmp(bound) <= 0, "dust %s above bound %s", dust, bound)
		}
	})
}
