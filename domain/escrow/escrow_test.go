package escrow

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebook/domain/chain"
)

func TestPullTokenMeasuresReceipt(t *testing.T) {
	state := chain.NewState(chain.NewManualClock(time.Unix(0, 0)))
	plain, taxed := chain.Derive("plain"), chain.Derive("taxed")
	maker := chain.Derive("maker")
	require.NoError(t, state.RegisterToken(plain, "PLN", 0))
	require.NoError(t, state.RegisterToken(taxed, "TAX", 300))

	e := New(state, chain.Derive("escrow"))
	for _, tok := range []struct {
		addr common.Address
		want string
	}{{plain, "1000"}, {taxed, "970"}} {
		require.NoError(t, state.Mint(tok.addr, maker, big.NewInt(1000)))
		require.NoError(t, state.Approve(tok.addr, maker, e.Account(), big.NewInt(1000)))

		got, err := e.PullToken(tok.addr, maker, big.NewInt(1000))
		require.NoError(t, err)
		assert.Equal(t, tok.want, got.String())
		assert.Equal(t, tok.want, e.TokenBalance(tok.addr).String())
	}
}

func TestNativeRoundTrip(t *testing.T) {
	state := chain.NewState(chain.NewManualClock(time.Unix(0, 0)))
	maker := chain.Derive("maker")
	require.NoError(t, state.Fund(maker, big.NewInt(50)))

	e := New(state, chain.Derive("escrow"))
	require.NoError(t, e.DepositNative(maker, big.NewInt(30)))
	assert.Equal(t, "30", e.NativeBalance().String())

	require.NoError(t, e.PayNative(maker, big.NewInt(30)))
	assert.Equal(t, "50", state.NativeBalance(maker).String())

	require.Error(t, e.PayNative(maker, big.NewInt(1)))
}
