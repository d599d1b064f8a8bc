package service

import (
	"math/big"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"google.golang.org/protobuf/encoding/protowire"

	entrywal "tradebook/infra/wal/entry"
)

// Command is the journaled form of every state-changing call. Operands are
// positional; see the dispatch table in apply for the layout per type.
type Command struct {
	Type    entrywal.RecordType
	Caller  common.Address
	Addrs   []common.Address
	Amounts []*big.Int
	Uints   []uint64
	Strs    []string
}

var ErrBadCommand = errors.New("malformed command")

const (
	fieldCaller protowire.Number = 1
	fieldAddr   protowire.Number = 2
	fieldAmount protowire.Number = 3
	fieldUint   protowire.Number = 4
	fieldString protowire.Number = 5
)

// Marshal encodes the operands as a protobuf message. Amounts are
// unsigned big-endian magnitudes.
func (c *Command) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldCaller, protowire.BytesType)
	b = protowire.AppendBytes(b, c.Caller.Bytes())
	for _, a := range c.Addrs {
		b = protowire.AppendTag(b, fieldAddr, protowire.BytesType)
		b = protowire.AppendBytes(b, a.Bytes())
	}
	for _, v := range c.Amounts {
		b = protowire.AppendTag(b, fieldAmount, protowire.BytesType)
		if v == nil {
			b = protowire.AppendBytes(b, nil)
			continue
		}
		b = protowire.AppendBytes(b, v.Bytes())
	}
	for _, v := range c.Uints {
		b = protowire.AppendTag(b, fieldUint, protowire.VarintType)
		b = protowire.AppendVarint(b, v)
	}
	for _, s := range c.Strs {
		b = protowire.AppendTag(b, fieldString, protowire.BytesType)
		b = protowire.AppendString(b, s)
	}
	return b
}

func UnmarshalCommand(t entrywal.RecordType, b []byte) (*Command, error) {
	c := &Command{Type: t}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.Wrap(ErrBadCommand, protowire.ParseError(n).Error())
		}
		b = b[n:]

		switch {
		case typ == protowire.BytesType && num != fieldString:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, errors.Wrap(ErrBadCommand, protowire.ParseError(n).Error())
			}
			b = b[n:]
			switch num {
			case fieldCaller:
				c.Caller = common.BytesToAddress(v)
			case fieldAddr:
				c.Addrs = append(c.Addrs, common.BytesToAddress(v))
			case fieldAmount:
				c.Amounts = append(c.Amounts, new(big.Int).SetBytes(v))
			}
		case num == fieldString && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, errors.Wrap(ErrBadCommand, protowire.ParseError(n).Error())
			}
			b = b[n:]
			c.Strs = append(c.Strs, v)
		case num == fieldUint && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, errors.Wrap(ErrBadCommand, protowire.ParseError(n).Error())
			}
			b = b[n:]
			c.Uints = append(c.Uints, v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, errors.Wrap(ErrBadCommand, protowire.ParseError(n).Error())
			}
			b = b[n:]
		}
	}
	return c, nil
}

// operand accessors return zero values for missing operands so a short
// command fails domain validation instead of panicking.

func (c *Command) addr(i int) common.Address {
	if i < len(c.Addrs) {
		return c.Addrs[i]
	}
	return common.Address{}
}

func (c *Command) amount(i int) *big.Int {
	if i < len(c.Amounts) && c.Amounts[i] != nil {
		return c.Amounts[i]
	}
	return new(big.Int)
}

func (c *Command) u64(i int) uint64 {
	if i < len(c.Uints) {
		return c.Uints[i]
	}
	return 0
}

func (c *Command) str(i int) string {
	if i < len(c.Strs) {
		return c.Strs[i]
	}
	return ""
}
