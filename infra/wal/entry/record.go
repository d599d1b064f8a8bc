package entry

import (
	"fmt"
	"time"
)

// RecordType names the command a journal record carries.
type RecordType uint8

const (
	RecordPlace RecordType = iota + 1
	RecordUpdate
	RecordCancel
	RecordExecute
	RecordStake
	RecordDeposit
	RecordWithdraw
	RecordPayout
	RecordMarketOrder
	RecordStakeAndBurn
	RecordBurn
	RecordUpdateFee
	RecordUpdateSplit
	RecordUpdateStopMargin
	RecordUpdateStaker
	RecordDeployStaker
	RecordTransferOwnership
	RecordRenounceOwnership
	RecordRegisterToken
	RecordMint
	RecordFund
	RecordApprove
	RecordAddLiquidity
	recordTypeEnd
)

var recordNames = [...]string{
	RecordPlace:             "place",
	RecordUpdate:            "update",
	RecordCancel:            "cancel",
	RecordExecute:           "execute",
	RecordStake:             "stake",
	RecordDeposit:           "deposit",
	RecordWithdraw:          "withdraw",
	RecordPayout:            "payout",
	RecordMarketOrder:       "market_order",
	RecordStakeAndBurn:      "stake_and_burn",
	RecordBurn:              "burn",
	RecordUpdateFee:         "update_fee",
	RecordUpdateSplit:       "update_split",
	RecordUpdateStopMargin:  "update_stop_margin",
	RecordUpdateStaker:      "update_staker",
	RecordDeployStaker:      "deploy_staker",
	RecordTransferOwnership: "transfer_ownership",
	RecordRenounceOwnership: "renounce_ownership",
	RecordRegisterToken:     "register_token",
	RecordMint:              "mint",
	RecordFund:              "fund",
	RecordApprove:           "approve",
	RecordAddLiquidity:      "add_liquidity",
}

func (t RecordType) Valid() bool { return t > 0 && t < recordTypeEnd }

func (t RecordType) String() string {
	if t.Valid() {
		return recordNames[t]
	}
	return fmt.Sprintf("record(%d)", uint8(t))
}

// Record is one committed command.
type Record struct {
	Type RecordType
	Seq  uint64
	Time int64
	Data []byte
}

func NewRecord(t RecordType, seq uint64, at time.Time, data []byte) *Record {
	return &Record{Type: t, Seq: seq, Time: at.UnixNano(), Data: data}
}

func (r *Record) At() time.Time { return time.Unix(0, r.Time).UTC() }
