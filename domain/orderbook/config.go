package orderbook

import (
	"math/big"

	"github.com/cockroachdb/errors"
)

// Config holds the fee schedule and the stop band. Fractions are mul/div
// pairs applied with integer floor division.
type Config struct {
	FeeMul     uint64
	FeeDiv     uint64
	SplitMul   uint64
	SplitDiv   uint64
	StopMargin uint64
}

// DefaultConfig charges 0.2%, burns 60% of it and accepts stop fills down
// to 25% under target.
func DefaultConfig() Config {
	return Config{FeeMul: 2, FeeDiv: 1000, SplitMul: 6, SplitDiv: 10, StopMargin: 25}
}

func (c Config) Validate() error {
	if err := checkFraction("fee", c.FeeMul, c.FeeDiv); err != nil {
		return err
	}
	if err := checkFraction("split", c.SplitMul, c.SplitDiv); err != nil {
		return err
	}
	if c.StopMargin > 100 {
		return errors.Wrapf(ErrInvalidConfig, "stop margin %d above 100", c.StopMargin)
	}
	return nil
}

func checkFraction(name string, mul, div uint64) error {
	if div == 0 {
		return errors.Wrapf(ErrInvalidConfig, "%s divisor is zero", name)
	}
	if mul > div {
		return errors.Wrapf(ErrInvalidConfig, "%s %d/%d above one", name, mul, div)
	}
	return nil
}

// Fee is amount*FeeMul/FeeDiv.
func (c Config) Fee(amount *big.Int) *big.Int {
	return mulDiv(amount, c.FeeMul, c.FeeDiv)
}

// Split divides fee into the burn share and the reward share.
func (c Config) Split(fee *big.Int) (burn, reward *big.Int) {
	burn = mulDiv(fee, c.SplitMul, c.SplitDiv)
	return burn, new(big.Int).Sub(fee, burn)
}

// StopFloor is the lowest output a stop order accepts:
// target*(100-StopMargin)/100.
func (c Config) StopFloor(target *big.Int) *big.Int {
	return mulDiv(target, 100-c.StopMargin, 100)
}

func mulDiv(v *big.Int, mul, div uint64) *big.Int {
	r := new(big.Int).Mul(v, new(big.Int).SetUint64(mul))
	return r.Quo(r, new(big.Int).SetUint64(div))
}
