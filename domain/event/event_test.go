package event

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalKeepsFullPrecision(t *testing.T) {
	huge, ok := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
	require.True(t, ok)

	b, err := Marshal(7, time.Unix(10, 0), OrderExecuted{
		ID:       3,
		Executor: common.HexToAddress("0x01"),
		Amounts:  [2]*big.Int{huge, big.NewInt(5)},
		Fee:      big.NewInt(1),
	})
	require.NoError(t, err)

	env, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), env.Seq)
	assert.Equal(t, "OrderExecuted", env.Name)
	assert.Contains(t, string(env.Data), huge.String())
	assert.Contains(t, string(env.Data), `"executor":"0x0000000000000000000000000000000000000001"`)
}

func TestBufferDrain(t *testing.T) {
	var b Buffer
	b.Emit(OrderCancelled{ID: 1})
	b.Emit(OrderCancelled{ID: 2})
	require.Equal(t, 2, b.Len())

	got := b.Drain()
	assert.Len(t, got, 2)
	assert.Equal(t, 0, b.Len())
}
